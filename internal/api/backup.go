package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

type backupFile struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

func (s *Service) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no contract store on this node")
		return false
	}
	return true
}

// @Title: Create Backup
// @Route: POST /api/backups/create
// @Description: Writes a snapshot of the contract store to the backup directory
// @Response: {"status": "ok", "path": "..."}
func (s *Service) HandleBackupCreate(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) || !s.requireStore(w) {
		return
	}
	path, err := s.store.BackupCurrent(s.backupKeep)
	if err != nil {
		s.log.Errorf("Failed to create backup: %v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to save backup")
		return
	}
	s.events.Info(fmt.Sprintf("contract store backed up to %s", filepath.Base(path)))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "path": path})
}

// @Title: List Backups
// @Route: GET /api/backups/list
// @Description: Lists contract store backups, oldest first
// @Response: [{"filename": "...", "timestamp": "...", "size": ...}]
func (s *Service) HandleBackupsList(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	paths, err := s.store.Backups()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to read backups")
		return
	}
	backups := make([]backupFile, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		backups = append(backups, backupFile{
			Filename:  filepath.Base(p),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}
	s.writeJSON(w, http.StatusOK, backups)
}

// @Title: Download Snapshot
// @Route: GET /api/backups/download
// @Description: Downloads a consistent SQLite snapshot of the contract store
// @Response: application/vnd.sqlite3 file download
func (s *Service) HandleSnapshotDownload(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) || !s.requireStore(w) {
		return
	}
	data, err := s.store.ExportSnapshot()
	if err != nil {
		s.log.Errorf("Failed to export snapshot: %v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to export snapshot")
		return
	}
	filename := fmt.Sprintf("ccr-%s.db", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.sqlite3")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
	s.log.Infof("Served snapshot download %s (%d bytes)", filename, len(data))
}
