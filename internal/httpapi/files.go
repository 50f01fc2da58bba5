package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/CaoBiang/Manga-ULM/internal/apperr"
	"github.com/CaoBiang/Manga-ULM/internal/catalog"
	"github.com/CaoBiang/Manga-ULM/internal/model"
	"github.com/CaoBiang/Manga-ULM/internal/rename"
)

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func parseIntList(raw string) []int64 {
	if raw == "" {
		return nil
	}
	var out []int64
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func parseBoolPtr(raw string) *bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return nil
	case "1", "true", "yes":
		v := true
		return &v
	case "0", "false", "no":
		v := false
		return &v
	default:
		return nil
	}
}

func fileIDFromPath(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.E(apperr.InvalidArgument, "invalid file id %q", raw)
	}
	return id, nil
}

// handleListFiles answers GET /files (§6).
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	includeMissing := parseBoolPtr(q.Get("include_missing"))

	f := catalog.FileFilter{
		Page:           parseIntDefault(q.Get("page"), 1),
		PerPage:        parseIntDefault(q.Get("per_page"), 50),
		SortBy:         q.Get("sort_by"),
		SortOrder:      q.Get("sort_order"),
		Keyword:        q.Get("keyword"),
		TagIDs:         parseIntList(q.Get("tags")),
		ExcludeTagIDs:  parseIntList(q.Get("exclude_tags")),
		TagMode:        q.Get("tag_mode"),
		Liked:          parseBoolPtr(q.Get("liked")),
		IsMissing:      parseBoolPtr(q.Get("is_missing")),
		IncludeMissing: includeMissing != nil && *includeMissing,
	}
	if raw := q.Get("statuses"); raw != "" {
		for _, tok := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, model.ReadingStatus(strings.TrimSpace(tok)))
		}
	}
	if raw := q.Get("min_pages"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			f.MinPages = &n
		}
	}
	if raw := q.Get("max_pages"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			f.MaxPages = &n
		}
	}

	result, err := s.Store.ListFiles(f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"files":       result.Files,
		"total_count": result.TotalCount,
		"page":        result.Page,
		"per_page":    result.PerPage,
	})
}

// handleRandomFile answers GET /files/random (files.py's get_random_file),
// distinct from the sort_by=random ordering available on the main listing.
func (s *Server) handleRandomFile(w http.ResponseWriter, r *http.Request) {
	f, err := s.Store.RandomFile()
	if err != nil {
		writeError(w, err)
		return
	}
	if f == nil {
		writeError(w, apperr.E(apperr.NotFound, "catalog has no files"))
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// handleGetFile answers GET /files/{id}.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id, err := fileIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	f, err := s.Store.FileWithTags(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if f == nil {
		writeError(w, apperr.E(apperr.NotFound, "file %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, f)
}

type patchFileRequest struct {
	ReadingStatus *string `json:"reading_status"`
	LastReadPage  *int    `json:"last_read_page"`
	NewFilename   *string `json:"new_filename"`
}

// handlePatchFile answers PATCH /files/{id}: reading-state updates and
// same-directory renames (§6).
func (s *Server) handlePatchFile(w http.ResponseWriter, r *http.Request) {
	id, err := fileIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body patchFileRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	if body.ReadingStatus != nil {
		status := model.ReadingStatus(strings.ToLower(strings.TrimSpace(*body.ReadingStatus)))
		switch status {
		case model.ReadingStatusUnread, model.ReadingStatusInProgress, model.ReadingStatusFinished:
		default:
			writeError(w, apperr.E(apperr.InvalidArgument, "invalid reading_status %q", *body.ReadingStatus))
			return
		}
		if err := s.Store.SetReadingStatus(id, status); err != nil {
			writeError(w, err)
			return
		}
	}
	if body.LastReadPage != nil {
		if err := s.Store.UpdateReadingProgress(id, *body.LastReadPage); err != nil {
			writeError(w, err)
			return
		}
	}
	if body.NewFilename != nil {
		if err := s.renameInPlace(id, *body.NewFilename); err != nil {
			writeError(w, err)
			return
		}
	}

	f, err := s.Store.FileWithTags(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if f == nil {
		writeError(w, apperr.E(apperr.NotFound, "file %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) renameInPlace(id int64, newFilename string) error {
	f, err := s.Store.FileWithTags(id)
	if err != nil {
		return err
	}
	if f == nil {
		return apperr.E(apperr.NotFound, "file %d not found", id)
	}
	newPath, err := rename.RenameSingleFileInPlace(f, newFilename)
	if err != nil {
		return err
	}
	if newPath == f.Path {
		return nil
	}
	if err := s.Store.SetFilePathAndTags(id, newPath, nil); err != nil {
		return err
	}
	idx, err := s.Store.LoadTagIndex()
	if err != nil {
		return err
	}
	f.Path = newPath
	if _, err := rename.SyncFileTagIndexes(s.Store, idx, []model.File{*f}); err != nil {
		return err
	}
	return nil
}

// handleServePage answers GET /files/{id}/pages/{n}.
func (s *Server) handleServePage(w http.ResponseWriter, r *http.Request) {
	id, err := fileIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		writeError(w, apperr.E(apperr.InvalidArgument, "invalid page number"))
		return
	}
	f, err := s.Store.File(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if f == nil {
		writeError(w, apperr.E(apperr.NotFound, "file %d not found", id))
		return
	}
	if err := s.Pages.ServePage(w, r, f.Path, n); err != nil {
		writeError(w, err)
	}
}

// handlePageMetadata answers GET /files/{id}/pages/{n}/metadata.
func (s *Server) handlePageMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := fileIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		writeError(w, apperr.E(apperr.InvalidArgument, "invalid page number"))
		return
	}
	f, err := s.Store.File(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if f == nil {
		writeError(w, apperr.E(apperr.NotFound, "file %d not found", id))
		return
	}
	entry, ok, err := s.Reader.EntryAt(f.Path, n)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperr.E(apperr.NotFound, "page %d not found", n))
		return
	}
	size, err := s.Reader.EntrySize(f.Path, entry)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"name": entry.Name, "size": size})
}

// handleServeFileCover answers GET /files/{id}/cover, generating the cover
// on demand if it is not already cached.
func (s *Server) handleServeFileCover(w http.ResponseWriter, r *http.Request) {
	id, err := fileIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	f, err := s.Store.File(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if f == nil {
		writeError(w, apperr.E(apperr.NotFound, "file %d not found", id))
		return
	}
	cs := s.Settings.ScanSettings().Cover
	coverPath, err := s.Covers.Ensure(id, f.Path, coverParams(cs, false))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Pages.ServeCover(w, r, coverPath); err != nil {
		writeError(w, err)
	}
}

// handleServeCoverByName answers GET /covers/{name}: direct cover access
// by the on-disk "<file_id>.webp" basename, path traversal rejected.
func (s *Server) handleServeCoverByName(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		writeError(w, apperr.E(apperr.InvalidArgument, "invalid cover name"))
		return
	}
	id, err := strconv.ParseInt(strings.TrimSuffix(name, ".webp"), 10, 64)
	if err != nil {
		writeError(w, apperr.E(apperr.InvalidArgument, "invalid cover name"))
		return
	}
	f, err := s.Store.File(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if f == nil {
		writeError(w, apperr.E(apperr.NotFound, "file %d not found", id))
		return
	}
	cs := s.Settings.ScanSettings().Cover
	coverPath, err := s.Covers.Ensure(id, f.Path, coverParams(cs, false))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Pages.ServeCover(w, r, coverPath); err != nil {
		writeError(w, err)
	}
}
