// Package httpapi wires the catalog, scanner, task engine, page server and
// maintenance runner behind the stable HTTP surface described in §6. Route
// shapes and JSON field names are grounded on
// _examples/original_source/apps/api/app/api/v1 (files.py, tags.py,
// tasks.py, settings.py, backups.py); the chi router/middleware stack
// mirrors the conventions visible across _examples/rclone-rclone's
// lib/http package (explicit route groups, no framework magic).
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/CaoBiang/Manga-ULM/internal/archivefs"
	"github.com/CaoBiang/Manga-ULM/internal/backup"
	"github.com/CaoBiang/Manga-ULM/internal/catalog"
	"github.com/CaoBiang/Manga-ULM/internal/covercache"
	"github.com/CaoBiang/Manga-ULM/internal/maintenance"
	"github.com/CaoBiang/Manga-ULM/internal/obslog"
	"github.com/CaoBiang/Manga-ULM/internal/pageserver"
	"github.com/CaoBiang/Manga-ULM/internal/scanner"
	"github.com/CaoBiang/Manga-ULM/internal/settings"
	"github.com/CaoBiang/Manga-ULM/internal/tasks"
)

// Server holds every dependency a handler needs. Handlers are methods on
// *Server so they share these fields without a global.
type Server struct {
	Store       *catalog.Store
	Reader      *archivefs.Reader
	Covers      *covercache.Cache
	CoverConfig covercache.Config
	Settings    *settings.Provider
	Tasks       *tasks.Engine
	Scanner     *scanner.Scanner
	Pages       *pageserver.Server
	Maintenance *maintenance.Runner
	Backups     *backup.Manager

	// BaseContext is the parent for every background task's runCtx. It must
	// live for the server's lifetime, not a single request's: net/http
	// cancels a handler's r.Context() the instant ServeHTTP returns, which
	// would cancel a just-submitted scan/rename/integrity task within
	// microseconds of it being handed off to a goroutine. Defaults to
	// context.Background() if left unset, so callers that never wire one
	// up (e.g. tests) still get a usable zero value.
	BaseContext context.Context
}

// taskContext returns s.BaseContext, defaulting to context.Background().
func (s *Server) taskContext() context.Context {
	if s.BaseContext != nil {
		return s.BaseContext
	}
	return context.Background()
}

// NewRouter builds the full route table. It does not start listening;
// callers (cmd/mangaulmd) wrap this with http.Server.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(obslog.RequestMiddleware)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/files", s.handleListFiles)
	r.Get("/files/random", s.handleRandomFile)
	r.Get("/files/{id}", s.handleGetFile)
	r.Patch("/files/{id}", s.handlePatchFile)
	r.Get("/files/{id}/pages/{n}", s.handleServePage)
	r.Get("/files/{id}/pages/{n}/metadata", s.handlePageMetadata)
	r.Get("/files/{id}/cover", s.handleServeFileCover)
	r.Get("/covers/{name}", s.handleServeCoverByName)

	r.Post("/file-tag-batches", s.handleFileTagBatch)

	r.Post("/scan-jobs", s.handleSubmitScanJobs)
	r.Get("/tasks", s.handleListTasks)
	r.Get("/tasks/{id}", s.handleGetTask)
	r.Patch("/tasks/{id}", s.handleCancelTask)
	r.Delete("/task-history", s.handleTrimTaskHistory)

	r.Post("/backups", s.handleCreateBackup)
	r.Get("/backups", s.handleListBackups)
	r.Post("/backup-restores", s.handleRestoreBackup)

	r.Get("/library-paths", s.handleListLibraryPaths)
	r.Post("/library-paths", s.handleCreateLibraryPath)
	r.Delete("/library-paths/{id}", s.handleDeleteLibraryPath)

	r.Get("/tags", s.handleListTags)
	r.Post("/tags", s.handleCreateTag)
	r.Delete("/tags/{id}", s.handleDeleteTag)
	r.Get("/tag-types", s.handleListTagTypes)
	r.Post("/tag-types", s.handleCreateTagType)
	r.Delete("/tag-types/{id}", s.handleDeleteTagType)
	r.Delete("/tag-aliases/{id}", s.handleDeleteTagAlias)
	r.Post("/tag-file-changes", s.handleTagFileChange)
	r.Post("/tag-splits", s.handleTagSplit)
	r.Post("/tag-merges", s.handleTagMerge)

	r.Get("/integrity-checks", s.handleListIntegrityStatus)
	r.Post("/integrity-checks", s.handleRunIntegrityCheck)
	r.Post("/missing-file-cleanups", s.handleMissingFileCleanup)

	r.Get("/settings", s.handleListSettings)
	r.Put("/settings/{key}", s.handlePutSetting)
	r.Delete("/settings/{key}", s.handleDeleteSetting)

	r.Post("/bookmarks", s.handleUpsertBookmark)
	r.Get("/files/{id}/bookmarks", s.handleListBookmarks)
	r.Delete("/files/{id}/bookmarks/{page}", s.handleDeleteBookmark)
	r.Put("/files/{id}/like", s.handleSetLike)

	return r
}

// coverParams builds a covercache.Params from the scanner's cover settings
// bundle, shared by every handler that serves or regenerates a cover.
func coverParams(cs settings.CoverSettings, force bool) covercache.Params {
	return covercache.Params{
		MaxWidth:       cs.MaxWidth,
		TargetKB:       cs.TargetKB,
		QualityStart:   cs.QualityStart,
		QualityMin:     cs.QualityMin,
		QualityStep:    cs.QualityStep,
		PreferredNames: covercache.DefaultPreferredNames,
		Force:          force,
	}
}
