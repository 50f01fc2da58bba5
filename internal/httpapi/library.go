package httpapi

import (
	"net/http"

	"github.com/CaoBiang/Manga-ULM/internal/apperr"
	"github.com/CaoBiang/Manga-ULM/internal/pathutil"
)

// handleListLibraryPaths answers GET /library-paths.
func (s *Server) handleListLibraryPaths(w http.ResponseWriter, r *http.Request) {
	roots, err := s.Store.ListLibraryRoots()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"library_paths": roots})
}

type createLibraryPathRequest struct {
	Path string `json:"path"`
}

// handleCreateLibraryPath answers POST /library-paths, normalizing the
// path on write (§4.2) and rejecting duplicates after normalization.
func (s *Server) handleCreateLibraryPath(w http.ResponseWriter, r *http.Request) {
	var body createLibraryPathRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Path == "" {
		badRequest(w, "path is required")
		return
	}
	normalized, err := pathutil.NormalizeLibraryPath(body.Path)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidArgument, err))
		return
	}
	root, err := s.Store.CreateLibraryRoot(normalized)
	if err != nil {
		writeError(w, apperr.E(apperr.Conflict, "library path %q already registered", normalized))
		return
	}
	writeJSON(w, http.StatusCreated, root)
}

// handleDeleteLibraryPath answers DELETE /library-paths/{id}.
func (s *Server) handleDeleteLibraryPath(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.DeleteLibraryRoot(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
