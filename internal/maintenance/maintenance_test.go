package maintenance

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CaoBiang/Manga-ULM/internal/archivefs"
	"github.com/CaoBiang/Manga-ULM/internal/catalog"
	"github.com/CaoBiang/Manga-ULM/internal/covercache"
	"github.com/CaoBiang/Manga-ULM/internal/model"
	"github.com/CaoBiang/Manga-ULM/internal/tasks"
)

func newTestRunner(t *testing.T) (*Runner, *catalog.Store, *tasks.Engine) {
	t.Helper()
	store, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}

	engine, err := tasks.Open(filepath.Join(t.TempDir(), "tasks.db"), time.Hour)
	if err != nil {
		t.Fatalf("open tasks: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	reader, err := archivefs.NewReader(16, 64)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}

	return &Runner{
		Store:  store,
		Reader: reader,
		Covers: covercache.Config{BaseDir: t.TempDir(), ShardCount: 4},
		Engine: engine,
	}, store, engine
}

func writeValidArchive(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	w, err := zw.Create("001.jpg")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := w.Write([]byte("page")); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return path
}

func TestCheckIntegrity_MarksValidArchiveOK(t *testing.T) {
	runner, store, engine := newTestRunner(t)
	dir := t.TempDir()

	root, err := store.CreateLibraryRoot(dir)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	path := writeValidArchive(t, dir, "book.cbz")
	if err := store.SaveFile(&model.File{Path: path, LibraryRootID: root.ID, FileSize: 1, FileMtime: 1}); err != nil {
		t.Fatalf("save file: %v", err)
	}

	rec, _, err := engine.New(context.Background(), "integrity_check", dir)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}

	if err := runner.CheckIntegrity(context.Background(), rec.ID, nil, 2); err != nil {
		t.Fatalf("check integrity: %v", err)
	}

	got, _ := engine.Get(rec.ID)
	if got.Status != tasks.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}

	files, err := store.AllFiles()
	if err != nil {
		t.Fatalf("all files: %v", err)
	}
	if len(files) != 1 || files[0].Integrity != model.IntegrityOK {
		t.Fatalf("expected one file marked ok, got %+v", files)
	}
}

func TestCheckIntegrity_MarksCorruptArchive(t *testing.T) {
	runner, store, engine := newTestRunner(t)
	dir := t.TempDir()

	root, err := store.CreateLibraryRoot(dir)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	path := filepath.Join(dir, "broken.cbz")
	if err := os.WriteFile(path, []byte("not a zip"), 0o644); err != nil {
		t.Fatalf("write broken archive: %v", err)
	}
	f := &model.File{Path: path, LibraryRootID: root.ID, FileSize: 9, FileMtime: 1}
	if err := store.SaveFile(f); err != nil {
		t.Fatalf("save file: %v", err)
	}

	rec, _, err := engine.New(context.Background(), "integrity_check", dir)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}

	if err := runner.CheckIntegrity(context.Background(), rec.ID, []int64{f.ID}, 1); err != nil {
		t.Fatalf("check integrity: %v", err)
	}

	reloaded, err := store.File(f.ID)
	if err != nil {
		t.Fatalf("reload file: %v", err)
	}
	if reloaded.Integrity != model.IntegrityCorrupted {
		t.Fatalf("expected corrupted, got %s", reloaded.Integrity)
	}
}

func TestCleanupMissing_DeletesFileAndCover(t *testing.T) {
	runner, store, engine := newTestRunner(t)
	dir := t.TempDir()

	root, err := store.CreateLibraryRoot(dir)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	path := filepath.Join(dir, "gone.cbz")
	f := &model.File{Path: path, LibraryRootID: root.ID, IsMissing: true}
	if err := store.SaveFile(f); err != nil {
		t.Fatalf("save file: %v", err)
	}

	coverPath := covercache.Path(runner.Covers, f.ID)
	if err := os.MkdirAll(filepath.Dir(coverPath), 0o755); err != nil {
		t.Fatalf("mkdir cover shard: %v", err)
	}
	if err := os.WriteFile(coverPath, []byte("cover"), 0o644); err != nil {
		t.Fatalf("write cover: %v", err)
	}

	rec, _, err := engine.New(context.Background(), "missing_cleanup", dir)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}

	if err := runner.CleanupMissing(context.Background(), rec.ID, nil); err != nil {
		t.Fatalf("cleanup missing: %v", err)
	}

	if _, err := os.Stat(coverPath); !os.IsNotExist(err) {
		t.Fatalf("expected cover to be removed, stat err: %v", err)
	}

	reloaded, err := store.File(f.ID)
	if err != nil {
		t.Fatalf("reload file: %v", err)
	}
	if reloaded != nil {
		t.Fatalf("expected file row to be deleted, still present: %+v", reloaded)
	}

	got, _ := engine.Get(rec.ID)
	if got.Status != tasks.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestCleanupMissing_NoMissingFilesCompletesImmediately(t *testing.T) {
	runner, _, engine := newTestRunner(t)
	rec, _, err := engine.New(context.Background(), "missing_cleanup", t.TempDir())
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if err := runner.CleanupMissing(context.Background(), rec.ID, nil); err != nil {
		t.Fatalf("cleanup missing: %v", err)
	}
	got, _ := engine.Get(rec.ID)
	if got.Status != tasks.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}
