package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CaoBiang/Manga-ULM/internal/apperr"
)

// handleListSettings answers GET /settings: every known key shadowed by
// its stored override, if any.
func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.Settings.AllWithDefaults()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"settings": all})
}

type putSettingRequest struct {
	Value string `json:"value"`
}

// handlePutSetting answers PUT /settings/{key}.
func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		badRequest(w, "key is required")
		return
	}
	var body putSettingRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Settings.Set(key, body.Value); err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": body.Value})
}

// handleDeleteSetting answers DELETE /settings/{key}, reverting to the
// built-in default.
func (s *Server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	existed, err := s.Settings.Delete(key)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, err))
		return
	}
	if !existed {
		writeError(w, apperr.E(apperr.NotFound, "no override set for key %q", key))
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
