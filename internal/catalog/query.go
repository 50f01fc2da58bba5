package catalog

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/CaoBiang/Manga-ULM/internal/model"
)

// sortableColumns mirrors files.py's SORTABLE_COLUMNS allowlist — never
// interpolate a caller-supplied column name directly into SQL.
var sortableColumns = map[string]string{
	"add_date":       "added_at",
	"file_path":      "path",
	"file_size":      "file_size",
	"total_pages":    "total_pages",
	"last_read_date": "last_read_at",
	"last_read_page": "last_read_page",
	"reading_status": "reading_status",
}

// FileFilter bundles the /files listing query's filter parameters (§6).
type FileFilter struct {
	Page           int
	PerPage        int
	SortBy         string
	SortOrder      string
	Keyword        string
	TagIDs         []int64
	ExcludeTagIDs  []int64
	TagMode        string // "any" or "all"
	Statuses       []model.ReadingStatus
	Liked          *bool
	MinPages       *int
	MaxPages       *int
	IsMissing      *bool
	IncludeMissing bool
}

// ListFilesResult is one page of a filtered/sorted file listing.
type ListFilesResult struct {
	Files      []model.File
	TotalCount int64
	Page       int
	PerPage    int
}

// ListFiles answers the GET /files query (§6), translating FileFilter into
// a bounded, sorted SQL query. Unknown sort_by values fall back to add_date,
// mirroring files.py's SORTABLE_COLUMNS guard.
func (s *Store) ListFiles(f FileFilter) (*ListFilesResult, error) {
	page := f.Page
	if page < 1 {
		page = 1
	}
	perPage := f.PerPage
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 200 {
		perPage = 200
	}

	q := s.db.Model(&model.File{})

	if !f.IncludeMissing && f.IsMissing == nil {
		q = q.Where("is_missing = ?", false)
	}
	if f.IsMissing != nil {
		q = q.Where("is_missing = ?", *f.IsMissing)
	}
	if f.Keyword != "" {
		for _, token := range strings.Fields(f.Keyword) {
			q = q.Where("path LIKE ? COLLATE NOCASE", "%"+token+"%")
		}
	}
	if len(f.Statuses) > 0 {
		q = q.Where("reading_status IN ?", f.Statuses)
	}
	if f.Liked != nil {
		if *f.Liked {
			q = q.Joins("JOIN likes ON likes.file_id = files.id")
		} else {
			q = q.Where("files.id NOT IN (SELECT file_id FROM likes)")
		}
	}
	if f.MinPages != nil {
		q = q.Where("total_pages >= ?", *f.MinPages)
	}
	if f.MaxPages != nil {
		q = q.Where("total_pages <= ?", *f.MaxPages)
	}
	if len(f.ExcludeTagIDs) > 0 {
		q = q.Where("files.id NOT IN (SELECT file_id FROM file_tags WHERE tag_id IN ?)", f.ExcludeTagIDs)
	}
	if len(f.TagIDs) > 0 {
		switch f.TagMode {
		case "all":
			for _, tagID := range f.TagIDs {
				q = q.Where("files.id IN (SELECT file_id FROM file_tags WHERE tag_id = ?)", tagID)
			}
		default: // "any"
			q = q.Where("files.id IN (SELECT file_id FROM file_tags WHERE tag_id IN ?)", f.TagIDs)
		}
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count files: %w", err)
	}

	var orderClause string
	if strings.EqualFold(f.SortBy, "random") {
		orderClause = "RANDOM()"
	} else {
		column, ok := sortableColumns[f.SortBy]
		if !ok {
			column = "added_at"
		}
		order := "DESC"
		if strings.EqualFold(f.SortOrder, "asc") {
			order = "ASC"
		}
		orderClause = fmt.Sprintf("%s %s", column, order)
	}

	var rows []model.File
	err := q.Session(&gorm.Session{}).
		Preload("Tags").Preload("Tags.Type").
		Order(orderClause).
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	return &ListFilesResult{Files: rows, TotalCount: total, Page: page, PerPage: perPage}, nil
}

// RandomFile returns one non-missing file at random, used by GET
// /files/random (files.py's get_random_file).
func (s *Store) RandomFile() (*model.File, error) {
	var f model.File
	err := s.db.Preload("Tags").Preload("Tags.Type").
		Where("is_missing = ?", false).
		Order("RANDOM()").
		Limit(1).
		Find(&f).Error
	if err != nil {
		return nil, fmt.Errorf("random file: %w", err)
	}
	if f.ID == 0 {
		return nil, nil
	}
	return &f, nil
}

// FileWithTags loads one file with its tags and tag types preloaded, the
// shape GET /files/{id} responds with.
func (s *Store) FileWithTags(id int64) (*model.File, error) {
	var f model.File
	err := s.db.Preload("Tags").Preload("Tags.Type").First(&f, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load file %d: %w", id, err)
	}
	return &f, nil
}
