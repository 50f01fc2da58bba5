package httpapi

import "net/http"

type upsertBookmarkRequest struct {
	FileID int64  `json:"file_id"`
	Page   int    `json:"page"`
	Note   string `json:"note"`
}

// handleUpsertBookmark answers POST /bookmarks.
func (s *Server) handleUpsertBookmark(w http.ResponseWriter, r *http.Request) {
	var body upsertBookmarkRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.FileID == 0 {
		badRequest(w, "file_id is required")
		return
	}
	b, err := s.Store.UpsertBookmark(body.FileID, body.Page, body.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleListBookmarks answers GET /files/{id}/bookmarks.
func (s *Server) handleListBookmarks(w http.ResponseWriter, r *http.Request) {
	id, err := fileIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := s.Store.ListBookmarks(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bookmarks": out})
}

// handleDeleteBookmark answers DELETE /files/{id}/bookmarks/{page}.
func (s *Server) handleDeleteBookmark(w http.ResponseWriter, r *http.Request) {
	id, err := fileIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := idFromPath(r, "page")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.DeleteBookmark(id, int(page)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

type setLikeRequest struct {
	Liked bool `json:"liked"`
}

// handleSetLike answers PUT /files/{id}/like.
func (s *Server) handleSetLike(w http.ResponseWriter, r *http.Request) {
	id, err := fileIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body setLikeRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.SetLike(id, body.Liked); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"file_id": id, "liked": body.Liked})
}
