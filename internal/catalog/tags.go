package catalog

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/CaoBiang/Manga-ULM/internal/model"
)

// TagIndex is a preloaded lowercase-name/alias → Tag lookup, built once per
// scan to avoid N+1 queries while resolving filename tags (scanner.py's
// tags_by_lower_name / alias_to_tag_id preload).
type TagIndex struct {
	byLowerName map[string]model.Tag
	aliasToTag  map[string]int64
	byID        map[int64]model.Tag
}

// LoadTagIndex reads every tag and alias into memory.
func (s *Store) LoadTagIndex() (*TagIndex, error) {
	var tags []model.Tag
	if err := s.db.Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	var aliases []model.TagAlias
	if err := s.db.Find(&aliases).Error; err != nil {
		return nil, fmt.Errorf("load tag aliases: %w", err)
	}

	idx := &TagIndex{
		byLowerName: make(map[string]model.Tag, len(tags)),
		aliasToTag:  make(map[string]int64, len(aliases)),
		byID:        make(map[int64]model.Tag, len(tags)),
	}
	for _, t := range tags {
		idx.byLowerName[strings.ToLower(strings.TrimSpace(t.Name))] = t
		idx.byID[t.ID] = t
	}
	for _, a := range aliases {
		idx.aliasToTag[strings.ToLower(strings.TrimSpace(a.Alias))] = a.TagID
	}
	return idx, nil
}

// Resolve looks up a tag by exact name first, then by alias.
func (idx *TagIndex) Resolve(name string) (int64, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return 0, false
	}
	if t, ok := idx.byLowerName[key]; ok {
		return t.ID, true
	}
	if tagID, ok := idx.aliasToTag[key]; ok {
		if _, ok := idx.byID[tagID]; ok {
			return tagID, true
		}
	}
	return 0, false
}

// Tag loads one tag with its type and aliases.
func (s *Store) Tag(id int64) (*model.Tag, error) {
	var t model.Tag
	err := s.db.Preload("Type").Preload("Aliases").First(&t, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load tag %d: %w", id, err)
	}
	return &t, nil
}

// TagByNameCaseInsensitive matches Tag.name.ilike(name) from rename.py.
func (s *Store) TagByNameCaseInsensitive(name string) (*model.Tag, error) {
	var t model.Tag
	err := s.db.Where("LOWER(name) = LOWER(?)", name).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find tag by name %q: %w", name, err)
	}
	return &t, nil
}

// AliasByNameCaseInsensitive matches TagAlias.alias_name.ilike(name).
func (s *Store) AliasByNameCaseInsensitive(name string) (*model.TagAlias, error) {
	var a model.TagAlias
	err := s.db.Where("LOWER(alias) = LOWER(?)", name).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find alias by name %q: %w", name, err)
	}
	return &a, nil
}

// FilesWithAnyBracketedPattern finds every file whose path contains
// "[pattern]" for any pattern given, the Go equivalent of rename.py's
// File.file_path.ilike('%[pattern]%') OR-chain.
func (s *Store) FilesWithAnyBracketedPattern(patterns []string) ([]model.File, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	q := s.db.Model(&model.File{}).Preload("Tags").Preload("Tags.Type")
	for i, p := range patterns {
		like := "%[" + p + "]%"
		if i == 0 {
			q = q.Where("path LIKE ? COLLATE NOCASE", like)
		} else {
			q = q.Or("path LIKE ? COLLATE NOCASE", like)
		}
	}
	var files []model.File
	if err := q.Find(&files).Error; err != nil {
		return nil, fmt.Errorf("find files by bracketed pattern: %w", err)
	}
	return files, nil
}

// CreateTagAlias adds an alias row, used by tag rename/merge.
func (s *Store) CreateTagAlias(tagID int64, alias string) error {
	return s.db.Create(&model.TagAlias{TagID: tagID, Alias: alias}).Error
}

// RenameTag updates a tag's name in place.
func (s *Store) RenameTag(tagID int64, newName string) error {
	return s.db.Model(&model.Tag{}).Where("id = ?", tagID).Update("name", newName).Error
}

// MergeTagInto folds sourceID's files and aliases into targetID, then
// deletes sourceID (rename.py's tag_file_change_task "existing" merge path).
func (s *Store) MergeTagInto(sourceID, targetID int64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`UPDATE OR IGNORE file_tags SET tag_id = ? WHERE tag_id = ?`, targetID, sourceID,
		).Error; err != nil {
			return err
		}
		if err := tx.Exec(`DELETE FROM file_tags WHERE tag_id = ?`, sourceID).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.TagAlias{}).Where("tag_id = ?", sourceID).Update("tag_id", targetID).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Tag{}, sourceID).Error
	})
}

// DeleteTag removes a tag together with its aliases and its file_tags join
// rows; both are removed explicitly since SQLite foreign keys aren't
// enforced by default under GORM's sqlite driver.
func (s *Store) DeleteTag(tagID int64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM file_tags WHERE tag_id = ?`, tagID).Error; err != nil {
			return err
		}
		if err := tx.Where("tag_id = ?", tagID).Delete(&model.TagAlias{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Tag{}, tagID).Error
	})
}

// CreateTag inserts a new tag of the same type as an existing one (used by
// tag-split to create the destination tags).
func (s *Store) CreateTag(name string, typeID int64, description string) (*model.Tag, error) {
	t := &model.Tag{Name: name, TypeID: typeID, Description: description}
	if err := s.db.Create(t).Error; err != nil {
		return nil, fmt.Errorf("create tag %q: %w", name, err)
	}
	return t, nil
}

// ReplaceFileTag swaps oldTagID for newTagID on a file's association,
// used by tag-split while walking matched files.
func (s *Store) ReplaceFileTag(fileID, oldTagID, newTagID int64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM file_tags WHERE file_id = ? AND tag_id = ?`, fileID, oldTagID).Error; err != nil {
			return err
		}
		return tx.Exec(
			`INSERT OR IGNORE INTO file_tags (file_id, tag_id) VALUES (?, ?)`, fileID, newTagID,
		).Error
	})
}

// SetFilePathAndTags updates a file's stored path and, if given, a
// complete resolved tag-id set (used after a rename to resync tag
// indexes with the renamed filename).
func (s *Store) SetFilePathAndTags(fileID int64, newPath string, tagIDs []int64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.File{}).Where("id = ?", fileID).Update("path", newPath).Error; err != nil {
			return err
		}
		if tagIDs == nil {
			return nil
		}
		if err := tx.Exec(`DELETE FROM file_tags WHERE file_id = ?`, fileID).Error; err != nil {
			return err
		}
		for _, tagID := range tagIDs {
			if err := tx.Exec(
				`INSERT OR IGNORE INTO file_tags (file_id, tag_id) VALUES (?, ?)`, fileID, tagID,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
