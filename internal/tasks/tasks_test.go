package tasks

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "huey.db")
	e, err := Open(path, time.Hour)
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEngine_NewAssignsIncrementingIDs(t *testing.T) {
	e := newTestEngine(t)
	r1, _, err := e.New(context.Background(), "scan", "/lib")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r2, _, err := e.New(context.Background(), "scan", "/lib")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if r2.ID != r1.ID+1 {
		t.Fatalf("expected sequential ids, got %d then %d", r1.ID, r2.ID)
	}
}

func TestEngine_TerminalStateSticky(t *testing.T) {
	e := newTestEngine(t)
	rec, _, _ := e.New(context.Background(), "scan", "/lib")

	if err := e.Finish(rec.ID, StatusCompleted, ""); err != nil {
		t.Fatalf("finish: %v", err)
	}
	changed, err := e.Update(rec.ID, func(r *Record) { r.Status = StatusRunning })
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if changed {
		t.Fatalf("expected update on terminal task to be rejected")
	}
	got, _ := e.Get(rec.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("expected status to remain completed, got %s", got.Status)
	}
}

func TestEngine_CancelMarksCancelledAndCancelsContext(t *testing.T) {
	e := newTestEngine(t)
	rec, runCtx, _ := e.New(context.Background(), "scan", "/lib")

	if err := e.Cancel(rec.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	select {
	case <-runCtx.Done():
	default:
		t.Fatalf("expected run context to be cancelled")
	}
	if !e.IsCancelled(rec.ID) {
		t.Fatalf("expected IsCancelled to report true")
	}
}

func TestEngine_RestoreMarksOrphansFailed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huey.db")
	e, err := Open(path, time.Hour)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rec, _, _ := e.New(context.Background(), "scan", "/lib")
	_, _ = e.Update(rec.ID, func(r *Record) { r.Status = StatusRunning })
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	e2, err := Open(path, time.Hour)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	hist, err := e2.History(0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 || hist[0].Status != StatusFailed {
		t.Fatalf("expected restored task to be marked failed, got %+v", hist)
	}
}
