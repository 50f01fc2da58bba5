package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaoBiang/Manga-ULM/internal/apperr"
)

func TestValidateFilename_RejectsTraversalAndWrongPrefix(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"manga_manager_backup_2026-01-01_00-00-00.db", true},
		{"../manga_manager_backup_x.db", false},
		{"manga_manager_backup_x.db/../x", false},
		{"other_backup_x.db", false},
		{"manga_manager_backup_x.txt", false},
		{"", false},
	}
	for _, c := range cases {
		err := ValidateFilename(c.name)
		if c.ok {
			assert.NoError(t, err, "ValidateFilename(%q)", c.name)
		} else {
			assert.Error(t, err, "ValidateFilename(%q)", c.name)
		}
	}
}

func TestCreateAndRestore_RoundTrips(t *testing.T) {
	dbDir := t.TempDir()
	backupDir := t.TempDir()
	dbPath := filepath.Join(dbDir, "manga_manager.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("original"), 0o644))

	m := New(backupDir, dbPath)
	filename, err := m.Create("2026-01-01_00-00-00")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(dbPath, []byte("mutated"), 0o644))
	require.NoError(t, m.Restore(filename))

	got, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))

	list, err := m.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, filename, list[0].Filename)
}

func TestRestore_MissingFileIsNotFound(t *testing.T) {
	m := New(t.TempDir(), filepath.Join(t.TempDir(), "db.db"))
	err := m.Restore("manga_manager_backup_missing.db")
	assert.ErrorIs(t, err, apperr.NotFound)
}
