package catalog

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/CaoBiang/Manga-ULM/internal/model"
)

// CreateLibraryRoot inserts a new root, already normalized by the caller
// (internal/pathutil).
func (s *Store) CreateLibraryRoot(path string) (*model.LibraryRoot, error) {
	root := &model.LibraryRoot{Path: path}
	if err := s.db.Create(root).Error; err != nil {
		return nil, fmt.Errorf("create library root: %w", err)
	}
	return root, nil
}

// LibraryRoot fetches one root by id.
func (s *Store) LibraryRoot(id int64) (*model.LibraryRoot, error) {
	var root model.LibraryRoot
	err := s.db.First(&root, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load library root %d: %w", id, err)
	}
	return &root, nil
}

// ListLibraryRoots returns every configured root.
func (s *Store) ListLibraryRoots() ([]model.LibraryRoot, error) {
	var roots []model.LibraryRoot
	if err := s.db.Order("id").Find(&roots).Error; err != nil {
		return nil, fmt.Errorf("list library roots: %w", err)
	}
	return roots, nil
}

// DeleteLibraryRoot removes a root row. Files previously discovered under
// it are left in place with their old library_root_id; scans of other roots
// only reconcile their own rows, so these files are not marked missing by
// them, and the missing-file cleanup removes only rows already marked missing.
func (s *Store) DeleteLibraryRoot(id int64) error {
	return s.db.Delete(&model.LibraryRoot{}, id).Error
}
