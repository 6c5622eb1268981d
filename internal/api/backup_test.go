package api

import (
	"bytes"
	"net/http"
	"path/filepath"
	"testing"
)

func TestHandleBackupCreateAndList(t *testing.T) {
	svc, _, cleanup := setupTest(t)
	defer cleanup()

	w := doJSON(t, svc.HandleBackupCreate, http.MethodPost, "/api/backups/create", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("create backup: %d %s", w.Code, w.Body)
	}
	var created map[string]string
	decode(t, w, &created)

	w = doJSON(t, svc.HandleBackupsList, http.MethodGet, "/api/backups/list", nil)
	var list []backupFile
	decode(t, w, &list)
	if len(list) != 1 || list[0].Filename != filepath.Base(created["path"]) || list[0].Size == 0 {
		t.Errorf("unexpected backup list %+v", list)
	}

	if w := doJSON(t, svc.HandleBackupCreate, http.MethodGet, "/api/backups/create", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET create: got %d", w.Code)
	}
}

func TestHandleSnapshotDownload(t *testing.T) {
	svc, _, cleanup := setupTest(t)
	defer cleanup()

	w := doJSON(t, svc.HandleSnapshotDownload, http.MethodGet, "/api/backups/download", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("download: %d %s", w.Code, w.Body)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("SQLite format 3\x00")) {
		t.Error("download is not a SQLite database")
	}
	if cd := w.Header().Get("Content-Disposition"); cd == "" {
		t.Error("missing Content-Disposition")
	}
}

func TestBackupsWithoutStore(t *testing.T) {
	svc, _, cleanup := setupTest(t)
	defer cleanup()
	svc.store = nil

	for name, h := range map[string]http.HandlerFunc{
		"create":   svc.HandleBackupCreate,
		"list":     svc.HandleBackupsList,
		"download": svc.HandleSnapshotDownload,
	} {
		method := http.MethodGet
		if name == "create" {
			method = http.MethodPost
		}
		if w := doJSON(t, h, method, "/api/backups/"+name, nil); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: got %d", name, w.Code)
		}
	}
}
