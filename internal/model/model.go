// Package model holds the catalog's persistent entities (§3 of the design).
//
// These are GORM models migrated into the single SQLite store described in
// §6 ("One SQL store file (default SQLite) under <instance>/manga_manager*.db").
// Task records are intentionally absent here: the task engine owns its own
// durable store (see internal/tasks), separate from the catalog.
package model

import "time"

// ReadingStatus mirrors the File.reading_status enum from §3.
type ReadingStatus string

const (
	ReadingStatusUnread     ReadingStatus = "unread"
	ReadingStatusInProgress ReadingStatus = "in_progress"
	ReadingStatusFinished   ReadingStatus = "finished"
)

// IntegrityStatus mirrors the File.integrity enum from §3.
type IntegrityStatus string

const (
	IntegrityUnknown   IntegrityStatus = "unknown"
	IntegrityOK        IntegrityStatus = "ok"
	IntegrityCorrupted IntegrityStatus = "corrupted"
)

// LibraryRoot is a canonical root directory the scanner walks (§3).
type LibraryRoot struct {
	ID        int64  `gorm:"primaryKey"`
	Path      string `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
}

func (LibraryRoot) TableName() string { return "library_roots" }

// File represents one archive on disk (§3).
type File struct {
	ID               int64  `gorm:"primaryKey"`
	Path             string `gorm:"uniqueIndex;not null"`
	LibraryRootID    int64  `gorm:"index;not null"`
	FileSize         int64
	FileMtime        int64 // unix seconds
	TotalPages       int
	ContentSHA256    string `gorm:"index"`
	AddedAt          time.Time
	LastReadPage     int
	LastReadAt       *time.Time
	ReadingStatus    ReadingStatus `gorm:"default:unread"`
	IsMissing        bool          `gorm:"index"`
	Integrity        IntegrityStatus `gorm:"default:unknown"`
	CoverUpdatedAt   *time.Time

	Tags []Tag `gorm:"many2many:file_tags;"`
}

func (File) TableName() string { return "files" }

// ClampLastReadPage enforces the File invariant from §3:
// 0 ≤ last_read_page < max(1, total_pages).
func (f *File) ClampLastReadPage() {
	max := f.TotalPages
	if max < 1 {
		max = 1
	}
	if f.LastReadPage < 0 {
		f.LastReadPage = 0
	}
	if f.LastReadPage >= max {
		f.LastReadPage = max - 1
	}
}

// TagType is a named grouping of tags with a sort order (§3).
type TagType struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	SortOrder int
}

func (TagType) TableName() string { return "tag_types" }

// Tag is a taxonomy node, optionally nested under a parent of the same type (§3).
type Tag struct {
	ID          int64  `gorm:"primaryKey"`
	Name        string `gorm:"uniqueIndex;not null"`
	TypeID      int64  `gorm:"index;not null"`
	Type        TagType
	ParentID    *int64 `gorm:"index"`
	Color       string
	Favorite    bool
	Description string

	Aliases []TagAlias `gorm:"foreignKey:TagID;constraint:OnDelete:CASCADE;"`
	Files   []File     `gorm:"many2many:file_tags;"`
}

func (Tag) TableName() string { return "tags" }

// TagAlias is an alternate name for a Tag; globally unique across tag names
// and other aliases (§3 invariant).
type TagAlias struct {
	ID    int64  `gorm:"primaryKey"`
	TagID int64  `gorm:"index;not null"`
	Alias string `gorm:"uniqueIndex;not null"`
}

func (TagAlias) TableName() string { return "tag_aliases" }

// Bookmark is a per-page annotation, unique per (file, page) (§3).
type Bookmark struct {
	ID        int64 `gorm:"primaryKey"`
	FileID    int64 `gorm:"uniqueIndex:idx_bookmark_file_page;not null"`
	Page      int   `gorm:"uniqueIndex:idx_bookmark_file_page;not null"`
	Note      string
	CreatedAt time.Time
}

func (Bookmark) TableName() string { return "bookmarks" }

// Like marks a file as favorited; unique per file (§3).
type Like struct {
	FileID  int64 `gorm:"primaryKey"`
	AddedAt time.Time
}

func (Like) TableName() string { return "likes" }

// Setting is a (key, string value) override row; defaults live in-process
// (see internal/settings) and are only shadowed by rows present here (§3).
type Setting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

func (Setting) TableName() string { return "settings" }

// AllModels lists every entity AutoMigrate should manage, kept together so
// the migration call site in catalog.Open doesn't drift from this package.
func AllModels() []interface{} {
	return []interface{}{
		&LibraryRoot{},
		&TagType{},
		&Tag{},
		&TagAlias{},
		&File{},
		&Bookmark{},
		&Like{},
		&Setting{},
	}
}
