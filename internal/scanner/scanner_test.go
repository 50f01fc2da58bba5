package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CaoBiang/Manga-ULM/internal/tasks"
)

func TestExtractFilenameTags_FindsBracketedTokens(t *testing.T) {
	got := extractFilenameTags("Title [Author][Series] vol.1.cbz")
	want := []string{"Author", "Series"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestWalkArchives_FindsOnlySupportedExtensions(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.cbz", "b.txt", "c.cbr"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	items, err := walkArchives(dir)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 archives, got %d: %+v", len(items), items)
	}
}

func newTestEngine(t *testing.T) *tasks.Engine {
	t.Helper()
	e, err := tasks.Open(filepath.Join(t.TempDir(), "tasks.db"), time.Hour)
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestCancelChecker_ThrottlesRepeatedQueries(t *testing.T) {
	e := newTestEngine(t)
	rec, _, err := e.New(context.Background(), "scan", "/lib")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	checker := &cancelChecker{engine: e, taskID: rec.ID, interval: time.Hour}

	if checker.cancelled() {
		t.Fatalf("expected not cancelled initially")
	}
	if err := e.Cancel(rec.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Within the throttle window the checker still reports its cached
	// (stale) answer rather than re-querying the engine.
	if checker.cancelled() {
		t.Fatalf("expected throttled checker to still report the cached answer")
	}

	checker.interval = 0
	if !checker.cancelled() {
		t.Fatalf("expected checker to observe cancellation once throttle expires")
	}
}
