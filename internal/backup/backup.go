// Package backup copies the catalog's SQLite file to and from a backup
// directory. Grounded on
// _examples/original_source/apps/api/app/api/v1/backup.py: a synchronous
// io.Copy-based snapshot, filenames restricted to
// manga_manager_backup_<timestamp>.db, no traversal.
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/CaoBiang/Manga-ULM/internal/apperr"
)

var filenamePattern = regexp.MustCompile(`^manga_manager_backup_.*\.db$`)

// Manager copies the catalog database file in and out of a backup
// directory on disk.
type Manager struct {
	BackupDir string
	DBPath    string
}

func New(backupDir, dbPath string) *Manager {
	return &Manager{BackupDir: backupDir, DBPath: dbPath}
}

// Info describes one backup file on disk (GET /backups).
type Info struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MtimeSec int64  `json:"mtime"`
}

// ValidateFilename rejects anything but a bare manga_manager_backup_*.db
// basename: no path separators, no traversal, the exact prefix/suffix
// backup.py enforces.
func ValidateFilename(name string) error {
	if name == "" {
		return apperr.E(apperr.InvalidArgument, "filename is required")
	}
	if filepath.Base(name) != name {
		return apperr.E(apperr.InvalidArgument, "invalid filename")
	}
	if !filenamePattern.MatchString(name) {
		return apperr.E(apperr.InvalidArgument, "invalid backup filename")
	}
	return nil
}

// Create copies the live database file into a new timestamped backup and
// returns its filename.
func (m *Manager) Create(timestamp string) (string, error) {
	if err := os.MkdirAll(m.BackupDir, 0o755); err != nil {
		return "", apperr.Wrap(apperr.Internal, fmt.Errorf("create backup dir: %w", err))
	}
	filename := fmt.Sprintf("manga_manager_backup_%s.db", timestamp)
	if err := ValidateFilename(filename); err != nil {
		return "", err
	}
	dest := filepath.Join(m.BackupDir, filename)
	if err := copyFile(m.DBPath, dest); err != nil {
		return "", apperr.Wrap(apperr.Internal, fmt.Errorf("copy database to backup: %w", err))
	}
	return filename, nil
}

// List returns every backup file present, newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.BackupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.Internal, fmt.Errorf("read backup dir: %w", err))
	}
	var out []Info
	for _, e := range entries {
		if e.IsDir() || !filenamePattern.MatchString(e.Name()) {
			continue
		}
		st, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Filename: e.Name(), Size: st.Size(), MtimeSec: st.ModTime().Unix()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MtimeSec > out[j].MtimeSec })
	return out, nil
}

// Restore overwrites the live database file with the named backup's
// contents. Callers are responsible for telling the operator the process
// must restart for the restored file to take effect, matching backup.py's
// restore response.
func (m *Manager) Restore(filename string) error {
	if err := ValidateFilename(filename); err != nil {
		return err
	}
	src := filepath.Join(m.BackupDir, filename)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return apperr.E(apperr.NotFound, "backup %q does not exist", filename)
		}
		return apperr.Wrap(apperr.Internal, err)
	}
	if err := copyFile(src, m.DBPath); err != nil {
		return apperr.Wrap(apperr.Internal, fmt.Errorf("restore backup: %w", err))
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
