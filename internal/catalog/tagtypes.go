package catalog

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/CaoBiang/Manga-ULM/internal/model"
)

// ListTagTypes returns every tag type ordered for taxonomy display.
func (s *Store) ListTagTypes() ([]model.TagType, error) {
	var out []model.TagType
	if err := s.db.Order("sort_order, name").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list tag types: %w", err)
	}
	return out, nil
}

// CreateTagType inserts a new taxonomy grouping.
func (s *Store) CreateTagType(name string, sortOrder int) (*model.TagType, error) {
	t := &model.TagType{Name: name, SortOrder: sortOrder}
	if err := s.db.Create(t).Error; err != nil {
		return nil, fmt.Errorf("create tag type %q: %w", name, err)
	}
	return t, nil
}

// DeleteTagType removes a tag type; callers are responsible for reassigning
// or deleting its tags first (the foreign key is not cascading on purpose,
// matching the catalog's everywhere-explicit delete discipline).
func (s *Store) DeleteTagType(id int64) error {
	return s.db.Delete(&model.TagType{}, id).Error
}

// ListTags returns every tag with its type and aliases preloaded, optionally
// scoped to one type.
func (s *Store) ListTags(typeID *int64) ([]model.Tag, error) {
	q := s.db.Preload("Type").Preload("Aliases").Order("name")
	if typeID != nil {
		q = q.Where("type_id = ?", *typeID)
	}
	var out []model.Tag
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return out, nil
}

// DeleteTagAlias removes a single alias row by id.
func (s *Store) DeleteTagAlias(id int64) error {
	return s.db.Delete(&model.TagAlias{}, id).Error
}

// TagAliasesFor returns a tag's aliases.
func (s *Store) TagAliasesFor(tagID int64) ([]model.TagAlias, error) {
	var out []model.TagAlias
	if err := s.db.Where("tag_id = ?", tagID).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list aliases for tag %d: %w", tagID, err)
	}
	return out, nil
}

// BatchUpdateFileTags applies set/add/remove tag-id operations across a
// batch of files in one transaction (POST /file-tag-batches, §6). Exactly
// one of set/add/remove is expected to be non-nil; set takes precedence.
func (s *Store) BatchUpdateFileTags(fileIDs []int64, set, add, remove []int64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, fileID := range fileIDs {
			switch {
			case set != nil:
				if err := tx.Exec(`DELETE FROM file_tags WHERE file_id = ?`, fileID).Error; err != nil {
					return err
				}
				for _, tagID := range set {
					if err := tx.Exec(`INSERT OR IGNORE INTO file_tags (file_id, tag_id) VALUES (?, ?)`, fileID, tagID).Error; err != nil {
						return err
					}
				}
			case add != nil:
				for _, tagID := range add {
					if err := tx.Exec(`INSERT OR IGNORE INTO file_tags (file_id, tag_id) VALUES (?, ?)`, fileID, tagID).Error; err != nil {
						return err
					}
				}
			case remove != nil:
				if err := tx.Exec(`DELETE FROM file_tags WHERE file_id = ? AND tag_id IN ?`, fileID, remove).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}
