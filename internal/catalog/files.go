package catalog

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/CaoBiang/Manga-ULM/internal/model"
)

// PathsWithMissingFlag returns every stored path under rootID whose
// is_missing flag equals missing, used by the scanner's reconcile phase to
// compute which paths flipped presence since the last run.
func (s *Store) PathsWithMissingFlag(rootID int64, missing bool) ([]string, error) {
	var paths []string
	err := s.db.Model(&model.File{}).
		Where("library_root_id = ? AND is_missing = ?", rootID, missing).
		Pluck("path", &paths).Error
	if err != nil {
		return nil, fmt.Errorf("list files missing=%v: %w", missing, err)
	}
	return paths, nil
}

// BatchSetMissing flips is_missing for paths in ≤BatchSize chunks (§4.5).
func (s *Store) BatchSetMissing(rootID int64, paths []string, missing bool) error {
	if len(paths) == 0 {
		return nil
	}
	for _, batch := range chunkStrings(paths, BatchSize) {
		err := s.db.Model(&model.File{}).
			Where("library_root_id = ? AND is_missing = ? AND path IN ?", rootID, !missing, batch).
			Update("is_missing", missing).Error
		if err != nil {
			return fmt.Errorf("batch set is_missing=%v: %w", missing, err)
		}
	}
	return nil
}

// FilesByPaths preloads existing rows for a set of discovered paths,
// avoiding the scanner issuing one SELECT per file.
func (s *Store) FilesByPaths(paths []string) (map[string]*model.File, error) {
	out := make(map[string]*model.File, len(paths))
	for _, batch := range chunkStrings(paths, BatchSize) {
		var rows []model.File
		if err := s.db.Where("path IN ?", batch).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("load files by path: %w", err)
		}
		for i := range rows {
			out[rows[i].Path] = &rows[i]
		}
	}
	return out, nil
}

// MissingCandidatesByHash finds up to limit missing files under rootID
// sharing contentSHA256, newest first — used to adopt a moved/renamed file
// onto its prior record instead of creating a duplicate (scanner.py's
// "exactly one candidate" adoption rule).
func (s *Store) MissingCandidatesByHash(rootID int64, contentSHA256 string, limit int) ([]model.File, error) {
	var rows []model.File
	err := s.db.
		Where("library_root_id = ? AND is_missing = ? AND content_sha256 = ?", rootID, true, contentSHA256).
		Order("added_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find missing candidates by hash: %w", err)
	}
	return rows, nil
}

// SaveFile creates or updates a file row (GORM Save upserts on primary key).
func (s *Store) SaveFile(f *model.File) error {
	if err := s.db.Save(f).Error; err != nil {
		return fmt.Errorf("save file %q: %w", f.Path, err)
	}
	return nil
}

// AttachTagsByName associates a file with tags resolved by name/alias,
// skipping names that don't resolve to any known tag. Safe to call
// repeatedly: GORM's association Append dedupes existing links.
func (s *Store) AttachTagsByName(fileID int64, resolver func(name string) (tagID int64, ok bool), names []string) error {
	var tagIDs []int64
	seen := map[int64]bool{}
	for _, name := range names {
		id, ok := resolver(name)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		tagIDs = append(tagIDs, id)
	}
	if len(tagIDs) == 0 {
		return nil
	}
	var tags []model.Tag
	for _, id := range tagIDs {
		tags = append(tags, model.Tag{ID: id})
	}
	if err := s.db.Model(&model.File{ID: fileID}).Association("Tags").Append(tags); err != nil {
		return fmt.Errorf("attach tags to file %d: %w", fileID, err)
	}
	return nil
}

// BatchTouchCoverUpdated stamps cover_updated_at=now for the given file ids
// in ≤BatchSize chunks, run after a batch of cover-generation successes.
func (s *Store) BatchTouchCoverUpdated(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now()
	for _, batch := range chunk(ids, BatchSize) {
		err := s.db.Model(&model.File{}).Where("id IN ?", batch).Update("cover_updated_at", now).Error
		if err != nil {
			return fmt.Errorf("batch touch cover_updated_at: %w", err)
		}
	}
	return nil
}

// CountMissing returns how many files under rootID are currently missing.
func (s *Store) CountMissing(rootID int64) (int64, error) {
	var n int64
	err := s.db.Model(&model.File{}).Where("library_root_id = ? AND is_missing = ?", rootID, true).Count(&n).Error
	return n, err
}

// File loads a single file row by id.
func (s *Store) File(id int64) (*model.File, error) {
	var f model.File
	err := s.db.First(&f, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load file %d: %w", id, err)
	}
	return &f, nil
}

// MissingFileIDs returns the ids of every file currently marked missing,
// or of a specific subset when ids is non-empty (used by the missing-file
// cleanup task, §9).
func (s *Store) MissingFileIDs(ids []int64) ([]int64, error) {
	q := s.db.Model(&model.File{}).Where("is_missing = ?", true)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	var out []int64
	if err := q.Pluck("id", &out).Error; err != nil {
		return nil, fmt.Errorf("list missing file ids: %w", err)
	}
	return out, nil
}

// DeleteFilesCascade hard-deletes the given file ids and their dependent
// Bookmark/Like/file_tags rows, one bounded transaction per ≤BatchSize
// chunk (§9 missing-file cleanup task; §4.5 batch-transaction rule).
func (s *Store) DeleteFilesCascade(ids []int64) error {
	for _, batch := range chunk(ids, BatchSize) {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("file_id IN ?", batch).Delete(&model.Bookmark{}).Error; err != nil {
				return err
			}
			if err := tx.Where("file_id IN ?", batch).Delete(&model.Like{}).Error; err != nil {
				return err
			}
			if err := tx.Exec("DELETE FROM file_tags WHERE file_id IN ?", batch).Error; err != nil {
				return err
			}
			return tx.Where("id IN ?", batch).Delete(&model.File{}).Error
		})
		if err != nil {
			return fmt.Errorf("cascade delete files: %w", err)
		}
	}
	return nil
}

// SetIntegrity records the outcome of an integrity-check pass for one file
// (§9 integrity-check task).
func (s *Store) SetIntegrity(fileID int64, status model.IntegrityStatus) error {
	err := s.db.Model(&model.File{}).Where("id = ?", fileID).Update("integrity", status).Error
	if err != nil {
		return fmt.Errorf("set integrity for file %d: %w", fileID, err)
	}
	return nil
}

// AllFiles returns every non-missing file, unordered, for whole-library
// maintenance passes (§9 integrity-check task run with no id scope).
func (s *Store) AllFiles() ([]model.File, error) {
	var out []model.File
	if err := s.db.Where("is_missing = ?", false).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list all files: %w", err)
	}
	return out, nil
}

// FilesByIDs loads a specific set of files by id, in no particular order.
func (s *Store) FilesByIDs(ids []int64) ([]model.File, error) {
	var out []model.File
	if err := s.db.Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load files by id: %w", err)
	}
	return out, nil
}

func chunkStrings(items []string, size int) [][]string {
	if size <= 0 {
		size = BatchSize
	}
	var out [][]string
	for len(items) > 0 {
		n := size
		if n > len(items) {
			n = len(items)
		}
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}
