package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/CaoBiang/Manga-ULM/internal/archivefs"
	"github.com/CaoBiang/Manga-ULM/internal/backup"
	"github.com/CaoBiang/Manga-ULM/internal/catalog"
	"github.com/CaoBiang/Manga-ULM/internal/covercache"
	"github.com/CaoBiang/Manga-ULM/internal/maintenance"
	"github.com/CaoBiang/Manga-ULM/internal/pageserver"
	"github.com/CaoBiang/Manga-ULM/internal/scanner"
	"github.com/CaoBiang/Manga-ULM/internal/settings"
	"github.com/CaoBiang/Manga-ULM/internal/tasks"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	store, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	engine, err := tasks.Open(filepath.Join(t.TempDir(), "tasks.db"), time.Hour)
	if err != nil {
		t.Fatalf("open tasks: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	reader, err := archivefs.NewReader(16, 64)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	provider := settings.NewProvider(store)
	coverCfg := covercache.Config{BaseDir: t.TempDir(), ShardCount: 4}
	covers := covercache.New(coverCfg, reader)

	s := &Server{
		Store:       store,
		Reader:      reader,
		Covers:      covers,
		CoverConfig: coverCfg,
		Settings:    provider,
		Tasks:       engine,
		Scanner: &scanner.Scanner{
			Store: store, Reader: reader, Covers: covers, Settings: provider, Engine: engine,
		},
		Pages:       pageserver.New(reader, func() int { return 256 }, provider.ReaderImageSettings),
		Maintenance: &maintenance.Runner{Store: store, Reader: reader, Covers: coverCfg, Engine: engine},
		Backups:     backup.New(t.TempDir(), filepath.Join(t.TempDir(), "catalog.db")),
		BaseContext: context.Background(),
	}
	return s, NewRouter(s)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestListFiles_EmptyCatalogReturnsEmptyList(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/files", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Files      []interface{} `json:"files"`
		TotalCount int64         `json:"total_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TotalCount != 0 || len(body.Files) != 0 {
		t.Fatalf("expected empty catalog, got %+v", body)
	}
}

func TestCreateTag_DuplicateNameIsConflict(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/tag-types", map[string]interface{}{"name": "Series", "sort_order": 0})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create tag type: %d %s", rec.Code, rec.Body.String())
	}
	var tagType struct {
		ID int64 `json:"ID"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &tagType)

	first := doJSON(t, h, http.MethodPost, "/tags", map[string]interface{}{"name": "Naruto", "type_id": tagType.ID})
	if first.Code != http.StatusCreated {
		t.Fatalf("create tag: %d %s", first.Code, first.Body.String())
	}

	dup := doJSON(t, h, http.MethodPost, "/tags", map[string]interface{}{"name": "naruto", "type_id": tagType.ID})
	if dup.Code != http.StatusConflict {
		t.Fatalf("expected 409 for case-insensitive duplicate, got %d: %s", dup.Code, dup.Body.String())
	}
}

func TestSubmitScanJobs_ConflictsWithAlreadyActiveScan(t *testing.T) {
	// Registers the "already running" scan directly against the task engine
	// rather than going through a real scan, since a real scan over an
	// empty directory completes almost immediately and would make the
	// conflict window racy to assert against.
	s, h := newTestServer(t)
	dir := t.TempDir()
	root, err := s.Store.CreateLibraryRoot(dir)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	if _, _, err := s.Tasks.New(context.Background(), "scan", root.Path); err != nil {
		t.Fatalf("seed active task: %v", err)
	}

	rec := doJSON(t, h, http.MethodPost, "/scan-jobs", map[string]interface{}{"library_path_id": root.ID})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for already-active scan, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRandomFile_EmptyCatalogIsNotFound(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/files/random", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetFile_UnknownIDIsNotFound(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/files/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}
