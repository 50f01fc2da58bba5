package pageserver

import (
	"archive/zip"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/CaoBiang/Manga-ULM/internal/archivefs"
)

func buildTestZip(t *testing.T, names []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.cbz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte("fake-image-bytes-" + name)); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return path
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reader, err := archivefs.NewReader(16, 64)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	return New(reader, func() int { return 256 }, nil)
}

func TestServePage_StreamsEntryBytes(t *testing.T) {
	path := buildTestZip(t, []string{"001.jpg", "002.jpg"})
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/pages/0", nil)
	rec := httptest.NewRecorder()
	if err := s.ServePage(rec, req, path, 0); err != nil {
		t.Fatalf("serve page: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "fake-image-bytes-001.jpg" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("unexpected content type: %s", rec.Header().Get("Content-Type"))
	}
}

func TestServePage_OutOfRangeIsNotFound(t *testing.T) {
	path := buildTestZip(t, []string{"001.jpg"})
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/pages/9", nil)
	rec := httptest.NewRecorder()
	err := s.ServePage(rec, req, path, 9)
	if err == nil {
		t.Fatalf("expected an out-of-range error")
	}
}

func TestServePage_MatchingIfNoneMatchReturnsNotModified(t *testing.T) {
	path := buildTestZip(t, []string{"001.jpg"})
	s := newTestServer(t)

	req1 := httptest.NewRequest(http.MethodGet, "/pages/0", nil)
	rec1 := httptest.NewRecorder()
	if err := s.ServePage(rec1, req1, path, 0); err != nil {
		t.Fatalf("serve page: %v", err)
	}
	etag := rec1.Header().Get("ETag")

	req2 := httptest.NewRequest(http.MethodGet, "/pages/0", nil)
	req2.Header.Set("If-None-Match", etag)
	rec2 := httptest.NewRecorder()
	if err := s.ServePage(rec2, req2, path, 0); err != nil {
		t.Fatalf("serve page: %v", err)
	}
	if rec2.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", rec2.Code)
	}
}

func TestServeCover_ServesFileWithETag(t *testing.T) {
	dir := t.TempDir()
	coverPath := filepath.Join(dir, "1.webp")
	if err := os.WriteFile(coverPath, []byte("webp-bytes"), 0o644); err != nil {
		t.Fatalf("write cover: %v", err)
	}
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/covers/1.webp", nil)
	rec := httptest.NewRecorder()
	if err := s.ServeCover(rec, req, coverPath); err != nil {
		t.Fatalf("serve cover: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "webp-bytes" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestServeCover_MissingFileIsNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/covers/404.webp", nil)
	rec := httptest.NewRecorder()
	err := s.ServeCover(rec, req, filepath.Join(t.TempDir(), "missing.webp"))
	if err == nil {
		t.Fatalf("expected not found error")
	}
}
