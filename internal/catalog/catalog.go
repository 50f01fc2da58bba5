// Package catalog implements C5: the single SQL store holding library
// roots, files, tags, bookmarks, likes and settings overrides. Grounded on
// the schema-first, explicit-constraint style of
// _examples/rclone-rclone/backend/sqlite/sqlite_utils.go, translated into
// GORM AutoMigrate models (internal/model) plus a handful of raw batch
// statements for the ≤500-row updates §4.5 requires.
package catalog

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/CaoBiang/Manga-ULM/internal/model"
)

// BatchSize is the row-count ceiling for bulk operations (§4.5).
const BatchSize = 500

// Store wraps the catalog's database handle. Every component that touches
// persisted state (scanner, rename, settings, httpapi) goes through this.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if absent) the SQLite database at path and migrates
// its schema to match internal/model.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog database %q: %w", path, err)
	}
	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		return nil, fmt.Errorf("migrate catalog schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for components that need raw queries
// (e.g. the rename package's batch template preview).
func (s *Store) DB() *gorm.DB { return s.db }

// chunk splits ids into BatchSize-sized slices so callers never build a
// single WHERE IN (...) or transaction spanning more rows than §4.5 allows.
func chunk(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = BatchSize
	}
	var out [][]int64
	for len(ids) > 0 {
		n := size
		if n > len(ids) {
			n = len(ids)
		}
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}
