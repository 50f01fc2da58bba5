package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/CaoBiang/Manga-ULM/internal/apperr"
	"github.com/CaoBiang/Manga-ULM/internal/rename"
)

func idFromPath(r *http.Request, param string) (int64, error) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.E(apperr.InvalidArgument, "invalid %s %q", param, raw)
	}
	return id, nil
}

// handleListTagTypes answers GET /tag-types.
func (s *Server) handleListTagTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.Store.ListTagTypes()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tag_types": types})
}

type createTagTypeRequest struct {
	Name      string `json:"name"`
	SortOrder int    `json:"sort_order"`
}

// handleCreateTagType answers POST /tag-types.
func (s *Server) handleCreateTagType(w http.ResponseWriter, r *http.Request) {
	var body createTagTypeRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Name == "" {
		badRequest(w, "name is required")
		return
	}
	t, err := s.Store.CreateTagType(body.Name, body.SortOrder)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// handleDeleteTagType answers DELETE /tag-types/{id}.
func (s *Server) handleDeleteTagType(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.DeleteTagType(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// handleListTags answers GET /tags, optionally scoped by type_id.
func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	var typeID *int64
	if raw := r.URL.Query().Get("type_id"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			typeID = &n
		}
	}
	tags, err := s.Store.ListTags(typeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tags": tags})
}

type createTagRequest struct {
	Name        string `json:"name"`
	TypeID      int64  `json:"type_id"`
	Description string `json:"description"`
}

// handleCreateTag answers POST /tags, rejecting case-insensitive name or
// alias collisions (§7 Conflict).
func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var body createTagRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Name == "" || body.TypeID == 0 {
		badRequest(w, "name and type_id are required")
		return
	}
	if existing, _ := s.Store.TagByNameCaseInsensitive(body.Name); existing != nil {
		writeError(w, apperr.E(apperr.Conflict, "tag %q already exists", body.Name))
		return
	}
	if alias, _ := s.Store.AliasByNameCaseInsensitive(body.Name); alias != nil {
		writeError(w, apperr.E(apperr.Conflict, "tag %q collides with an existing alias", body.Name))
		return
	}
	t, err := s.Store.CreateTag(body.Name, body.TypeID, body.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// handleDeleteTag answers DELETE /tags/{id}.
func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.DeleteTag(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// handleDeleteTagAlias answers DELETE /tag-aliases/{id}.
func (s *Server) handleDeleteTagAlias(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.DeleteTagAlias(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

type fileTagBatchRequest struct {
	FileIDs      []int64 `json:"file_ids"`
	SetTagIDs    []int64 `json:"set_tag_ids"`
	AddTagIDs    []int64 `json:"add_tag_ids"`
	RemoveTagIDs []int64 `json:"remove_tag_ids"`
}

// handleFileTagBatch answers POST /file-tag-batches: bulk add/remove/
// replace tags across a set of files (§6).
func (s *Server) handleFileTagBatch(w http.ResponseWriter, r *http.Request) {
	var body fileTagBatchRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if len(body.FileIDs) == 0 {
		badRequest(w, "file_ids must not be empty")
		return
	}
	var set, add, remove []int64
	switch {
	case body.SetTagIDs != nil:
		set = body.SetTagIDs
	case body.AddTagIDs != nil:
		add = body.AddTagIDs
	case body.RemoveTagIDs != nil:
		remove = body.RemoveTagIDs
	default:
		badRequest(w, "one of set_tag_ids, add_tag_ids or remove_tag_ids is required")
		return
	}
	if err := s.Store.BatchUpdateFileTags(body.FileIDs, set, add, remove); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"updated": len(body.FileIDs)})
}

type tagFileChangeRequest struct {
	TagID   int64  `json:"tag_id"`
	Action  string `json:"action"`
	NewName string `json:"new_name"`
}

// handleTagFileChange answers POST /tag-file-changes: bulk rename or
// delete a tag everywhere it appears (§6).
func (s *Server) handleTagFileChange(w http.ResponseWriter, r *http.Request) {
	var body tagFileChangeRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.TagID == 0 {
		badRequest(w, "tag_id is required")
		return
	}
	action := rename.TagFileChangeAction(body.Action)
	if action != rename.TagActionRename && action != rename.TagActionDelete {
		badRequest(w, "action must be rename or delete")
		return
	}
	if action == rename.TagActionRename && body.NewName == "" {
		badRequest(w, "new_name is required for a rename")
		return
	}

	rec, runCtx, err := s.Tasks.New(s.taskContext(), "tag_file_change", "")
	if err != nil {
		writeError(w, err)
		return
	}
	go func() {
		_ = rename.TagFileChange(runCtx, s.Tasks, rec.ID, s.Store, body.TagID, action, body.NewName)
	}()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"task_id": rec.ID})
}

type tagSplitRequest struct {
	SourceTagID int64    `json:"source_tag_id"`
	NewTagNames []string `json:"new_tag_names"`
}

// handleTagSplit answers POST /tag-splits (§4.8).
func (s *Server) handleTagSplit(w http.ResponseWriter, r *http.Request) {
	var body tagSplitRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.SourceTagID == 0 || len(body.NewTagNames) == 0 {
		badRequest(w, "source_tag_id and new_tag_names are required")
		return
	}
	rec, runCtx, err := s.Tasks.New(s.taskContext(), "tag_split", "")
	if err != nil {
		writeError(w, err)
		return
	}
	go func() {
		_ = rename.TagSplit(runCtx, s.Tasks, rec.ID, s.Store, body.SourceTagID, body.NewTagNames)
	}()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"task_id": rec.ID})
}

type tagMergeRequest struct {
	SourceTagID int64 `json:"source_tag_id"`
	TargetTagID int64 `json:"target_tag_id"`
}

// handleTagMerge answers POST /tag-merges (§4.8).
func (s *Server) handleTagMerge(w http.ResponseWriter, r *http.Request) {
	var body tagMergeRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.SourceTagID == 0 || body.TargetTagID == 0 {
		badRequest(w, "source_tag_id and target_tag_id are required")
		return
	}
	rec, runCtx, err := s.Tasks.New(s.taskContext(), "tag_merge", "")
	if err != nil {
		writeError(w, err)
		return
	}
	go func() {
		_ = rename.TagMerge(runCtx, s.Tasks, rec.ID, s.Store, body.SourceTagID, body.TargetTagID)
	}()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"task_id": rec.ID})
}
