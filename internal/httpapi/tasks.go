package httpapi

import (
	"net/http"
	"time"

	"github.com/CaoBiang/Manga-ULM/internal/apperr"
	"github.com/CaoBiang/Manga-ULM/internal/model"
	"github.com/CaoBiang/Manga-ULM/internal/tasks"
)

type scanJobRequest struct {
	LibraryPathID  *int64  `json:"library_path_id"`
	LibraryPathIDs []int64 `json:"library_path_ids"`
}

// handleSubmitScanJobs answers POST /scan-jobs: submits a scan for one
// root, a set of roots, or (given neither) every configured root, enforcing
// at most one active scan per root (§5, §8 property 7).
func (s *Server) handleSubmitScanJobs(w http.ResponseWriter, r *http.Request) {
	var body scanJobRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	var targetIDs []int64
	switch {
	case body.LibraryPathID != nil:
		targetIDs = []int64{*body.LibraryPathID}
	case len(body.LibraryPathIDs) > 0:
		targetIDs = body.LibraryPathIDs
	default:
		roots, err := s.Store.ListLibraryRoots()
		if err != nil {
			writeError(w, err)
			return
		}
		for _, root := range roots {
			targetIDs = append(targetIDs, root.ID)
		}
	}

	var submitted []map[string]interface{}
	for _, rootID := range targetIDs {
		root, err := s.Store.LibraryRoot(rootID)
		if err != nil {
			writeError(w, err)
			return
		}
		if root == nil {
			writeError(w, apperr.E(apperr.NotFound, "library root %d not found", rootID))
			return
		}
		if active, ok := s.Tasks.ActiveByTarget("scan", root.Path); ok {
			writeError(w, apperr.E(apperr.Conflict, "scan already active for root %d (task %d)", rootID, active.ID))
			return
		}
		rec, runCtx, err := s.Tasks.New(s.taskContext(), "scan", root.Path)
		if err != nil {
			writeError(w, err)
			return
		}
		go func(rootID, taskID int64) {
			_ = s.Scanner.Run(runCtx, rootID, taskID)
		}(root.ID, rec.ID)
		submitted = append(submitted, map[string]interface{}{"task_id": rec.ID, "library_path_id": root.ID})
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"tasks": submitted})
}

// handleListTasks answers GET /tasks, filtering by status/task_type/
// active_only.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	taskType := q.Get("task_type")
	activeOnly := q.Get("active_only") == "1" || q.Get("active_only") == "true"

	all := s.Tasks.List()
	out := make([]tasks.Record, 0, len(all))
	for _, rec := range all {
		if status != "" && string(rec.Status) != status {
			continue
		}
		if taskType != "" && rec.Name != taskType {
			continue
		}
		if activeOnly && rec.Status.Terminal() {
			continue
		}
		out = append(out, rec)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": out})
}

// handleGetTask answers GET /tasks/{id}.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	rec, ok := s.Tasks.Get(id)
	if !ok {
		writeError(w, apperr.E(apperr.NotFound, "task %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type patchTaskRequest struct {
	Status string `json:"status"`
}

// handleCancelTask answers PATCH /tasks/{id} with {"status":"cancelled"}.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var body patchTaskRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Status != string(tasks.StatusCancelled) {
		badRequest(w, `only {"status":"cancelled"} is supported`)
		return
	}
	if err := s.Tasks.Cancel(id); err != nil {
		writeError(w, apperr.E(apperr.NotFound, "%s", err.Error()))
		return
	}
	rec, _ := s.Tasks.Get(id)
	writeJSON(w, http.StatusOK, rec)
}

// handleTrimTaskHistory answers DELETE /task-history?days=N (§6).
func (s *Server) handleTrimTaskHistory(w http.ResponseWriter, r *http.Request) {
	days := parseIntDefault(r.URL.Query().Get("days"), s.Settings.TaskHistoryRetentionDays())
	if days < 0 || days > 3650 {
		badRequest(w, "days must be within [0, 3650]")
		return
	}
	removed, err := s.Tasks.TrimHistory(time.Duration(days) * 24 * time.Hour)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})
}

// handleListIntegrityStatus answers GET /integrity-checks: a summary count
// of files per integrity status.
func (s *Server) handleListIntegrityStatus(w http.ResponseWriter, r *http.Request) {
	files, err := s.Store.AllFiles()
	if err != nil {
		writeError(w, err)
		return
	}
	counts := map[model.IntegrityStatus]int{}
	for _, f := range files {
		counts[f.Integrity]++
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        counts[model.IntegrityOK],
		"corrupted": counts[model.IntegrityCorrupted],
		"unknown":   counts[model.IntegrityUnknown],
	})
}

type integrityCheckRequest struct {
	FileIDs []int64 `json:"file_ids"`
}

// handleRunIntegrityCheck answers POST /integrity-checks: re-validates the
// given files (or every file, when file_ids is empty).
func (s *Server) handleRunIntegrityCheck(w http.ResponseWriter, r *http.Request) {
	var body integrityCheckRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, err)
			return
		}
	}
	rec, runCtx, err := s.Tasks.New(s.taskContext(), "integrity_check", "")
	if err != nil {
		writeError(w, err)
		return
	}
	maxWorkers := s.Settings.ScanSettings().MaxWorkers
	go func() {
		_ = s.Maintenance.CheckIntegrity(runCtx, rec.ID, body.FileIDs, maxWorkers)
	}()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"task_id": rec.ID})
}

type missingFileCleanupRequest struct {
	FileIDs []int64 `json:"file_ids"`
}

// handleMissingFileCleanup answers POST /missing-file-cleanups: hard-
// deletes missing file records (§9).
func (s *Server) handleMissingFileCleanup(w http.ResponseWriter, r *http.Request) {
	var body missingFileCleanupRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, err)
			return
		}
	}
	rec, runCtx, err := s.Tasks.New(s.taskContext(), "missing_cleanup", "")
	if err != nil {
		writeError(w, err)
		return
	}
	go func() {
		_ = s.Maintenance.CleanupMissing(runCtx, rec.ID, body.FileIDs)
	}()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"task_id": rec.ID})
}
