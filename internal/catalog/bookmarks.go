package catalog

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/CaoBiang/Manga-ULM/internal/model"
)

// UpsertBookmark creates or replaces the note for (fileID, page) (§3
// Bookmark uniqueness invariant).
func (s *Store) UpsertBookmark(fileID int64, page int, note string) (*model.Bookmark, error) {
	b := &model.Bookmark{FileID: fileID, Page: page, Note: note, CreatedAt: time.Now()}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_id"}, {Name: "page"}},
		DoUpdates: clause.AssignmentColumns([]string{"note"}),
	}).Create(b).Error
	if err != nil {
		return nil, fmt.Errorf("upsert bookmark file=%d page=%d: %w", fileID, page, err)
	}
	return b, nil
}

// ListBookmarks returns every bookmark for a file, ordered by page.
func (s *Store) ListBookmarks(fileID int64) ([]model.Bookmark, error) {
	var out []model.Bookmark
	if err := s.db.Where("file_id = ?", fileID).Order("page").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list bookmarks for file %d: %w", fileID, err)
	}
	return out, nil
}

// DeleteBookmark removes a single bookmark by (fileID, page).
func (s *Store) DeleteBookmark(fileID int64, page int) error {
	return s.db.Where("file_id = ? AND page = ?", fileID, page).Delete(&model.Bookmark{}).Error
}

// SetLike adds or removes a Like row for a file.
func (s *Store) SetLike(fileID int64, liked bool) error {
	if liked {
		err := s.db.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.Like{FileID: fileID, AddedAt: time.Now()}).Error
		if err != nil {
			return fmt.Errorf("like file %d: %w", fileID, err)
		}
		return nil
	}
	return s.db.Where("file_id = ?", fileID).Delete(&model.Like{}).Error
}

// IsLiked reports whether a file has a Like row.
func (s *Store) IsLiked(fileID int64) (bool, error) {
	var n int64
	err := s.db.Model(&model.Like{}).Where("file_id = ?", fileID).Count(&n).Error
	return n > 0, err
}

// SetReadingStatus manually sets a file's reading_status, independent of
// page progress (files.py's update_reading_status). unread resets the
// read position; finished advances it to the last page when the page
// count is known; in_progress only stamps last_read_at.
func (s *Store) SetReadingStatus(fileID int64, status model.ReadingStatus) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var f model.File
		if err := tx.First(&f, fileID).Error; err != nil {
			return fmt.Errorf("load file %d: %w", fileID, err)
		}
		now := time.Now()
		switch status {
		case model.ReadingStatusUnread:
			f.LastReadPage = 0
			f.LastReadAt = nil
		case model.ReadingStatusFinished:
			if f.TotalPages > 0 {
				f.LastReadPage = f.TotalPages - 1
			}
			f.LastReadAt = &now
		default:
			status = model.ReadingStatusInProgress
			f.LastReadAt = &now
		}
		f.ReadingStatus = status
		f.ClampLastReadPage()
		return tx.Save(&f).Error
	})
}

// UpdateReadingProgress sets last_read_page/last_read_at/reading_status,
// clamped per the File invariant (§3).
func (s *Store) UpdateReadingProgress(fileID int64, page int) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var f model.File
		if err := tx.First(&f, fileID).Error; err != nil {
			return fmt.Errorf("load file %d: %w", fileID, err)
		}
		f.LastReadPage = page
		f.ClampLastReadPage()
		now := time.Now()
		f.LastReadAt = &now
		switch {
		case f.LastReadPage <= 0:
			f.ReadingStatus = model.ReadingStatusUnread
		case f.TotalPages > 0 && f.LastReadPage >= f.TotalPages-1:
			f.ReadingStatus = model.ReadingStatusFinished
		default:
			f.ReadingStatus = model.ReadingStatusInProgress
		}
		return tx.Save(&f).Error
	})
}
