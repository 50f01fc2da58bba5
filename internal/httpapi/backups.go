package httpapi

import (
	"net/http"
	"time"
)

// handleCreateBackup answers POST /backups: a synchronous database copy,
// mirroring backup.py's create_backup (no task-engine involvement — the
// copy is fast enough to run inline, same as the original).
func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename, err := s.Backups.Create(timestamp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":         "backup created",
		"backup_filename": filename,
	})
}

// handleListBackups answers GET /backups.
func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.Backups.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"backups": backups, "count": len(backups)})
}

type restoreBackupRequest struct {
	Filename string `json:"filename"`
}

// handleRestoreBackup answers POST /backup-restores.
func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	var body restoreBackupRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Backups.Restore(body.Filename); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "restore complete, restart the server to apply it",
	})
}
