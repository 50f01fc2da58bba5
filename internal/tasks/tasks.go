// Package tasks implements C6, the task engine: a registry of running and
// historical background jobs (scan, rename, integrity-check, missing-file
// cleanup) with cooperative cancellation and durable status.
//
// The in-memory registry and expire sweep are modeled on
// _examples/rclone-rclone/fs/rc/jobs (job.ID int64, a Jobs map guarded by a
// mutex, context-carried job id, kickExpire/Expire retention). Durable
// persistence on top of that is new: every status transition is mirrored
// into a go.etcd.io/bbolt file so task history and running-state survive a
// process restart, the same role bbolt plays as the KV layer in
// _examples/rclone-rclone/backend/hasher/kv.go.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Status is a Task's lifecycle state (§4.6).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status is sticky: once reached, no further
// transition is allowed (§8 "terminal state sticky" property).
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Record is a Task's persisted/observable state.
type Record struct {
	ID            int64      `json:"id"`
	Handle        string     `json:"handle"`
	Name          string     `json:"name"`
	Status        Status     `json:"status"`
	Progress      float64    `json:"progress"`
	TotalFiles    int        `json:"total_files"`
	ProcessedFiles int       `json:"processed_files"`
	CurrentFile   string     `json:"current_file"`
	TargetPath    string     `json:"target_path"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

var bucketName = []byte("tasks")

// Engine owns the in-memory job table and its durable mirror.
type Engine struct {
	mu      sync.Mutex
	nextID  int64
	jobs    map[int64]*job
	db      *bolt.DB
	expire  time.Duration
}

type job struct {
	rec    Record
	cancel context.CancelFunc
	mu     sync.Mutex
}

// Open opens (creating if absent) the bbolt file at path and restores any
// non-terminal task rows as failed (a process restart means whatever
// goroutine was running them is gone).
func Open(path string, expire time.Duration) (*Engine, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open task store %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		return nil, fmt.Errorf("init task bucket: %w", err)
	}

	e := &Engine{jobs: make(map[int64]*job), db: db, expire: expire}
	if err := e.restoreAndReapOrphans(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) Close() error { return e.db.Close() }

func (e *Engine) restoreAndReapOrphans() error {
	return e.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		var maxID int64
		cur := b.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if rec.ID > maxID {
				maxID = rec.ID
			}
			if !rec.Status.Terminal() {
				rec.Status = StatusFailed
				rec.ErrorMessage = "interrupted by server restart"
				now := time.Now()
				rec.FinishedAt = &now
				buf, err := json.Marshal(rec)
				if err != nil {
					return err
				}
				if err := b.Put(k, buf); err != nil {
					return err
				}
			}
		}
		e.nextID = maxID
		return nil
	})
}

func (e *Engine) persist(rec Record) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return e.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(idKey(rec.ID), buf)
	})
}

func idKey(id int64) []byte { return []byte(fmt.Sprintf("%020d", id)) }

// New creates a pending task row and returns its engine-assigned id plus a
// context the runner should observe for cancellation.
func (e *Engine) New(ctx context.Context, name, targetPath string) (*Record, context.Context, error) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	rec := Record{
		ID:         id,
		Handle:     uuid.NewString(),
		Name:       name,
		Status:     StatusPending,
		TargetPath: targetPath,
		CreatedAt:  time.Now(),
	}
	j := &job{rec: rec, cancel: cancel}

	e.mu.Lock()
	e.jobs[id] = j
	e.mu.Unlock()

	if err := e.persist(rec); err != nil {
		return nil, nil, err
	}
	return &rec, context.WithValue(runCtx, taskIDKey{}, id), nil
}

type taskIDKey struct{}

// IDFromContext recovers the task id a worker goroutine is running under,
// mirroring rclone's GetJobID context accessor.
func IDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(taskIDKey{}).(int64)
	return id, ok
}

// Update applies fn to the task's record under its lock and persists the
// result. It is a no-op (and returns false) once the task has reached a
// terminal state.
func (e *Engine) Update(id int64, fn func(*Record)) (bool, error) {
	e.mu.Lock()
	j, ok := e.jobs[id]
	e.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("task %d not found", id)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.rec.Status.Terminal() {
		return false, nil
	}
	fn(&j.rec)
	return true, e.persist(j.rec)
}

// Finish transitions a task to a terminal status, recording an error
// message for failures. Idempotent: calling it twice leaves the first
// terminal status in place.
func (e *Engine) Finish(id int64, status Status, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("%s is not a terminal status", status)
	}
	_, err := e.Update(id, func(r *Record) {
		r.Status = status
		r.ErrorMessage = errMsg
		r.Progress = 100
		r.CurrentFile = ""
		now := time.Now()
		r.FinishedAt = &now
	})
	return err
}

// Cancel requests cooperative cancellation: it cancels the task's context
// and immediately marks the record StatusCancelled with its finish time, so
// IsCancelled reports true straight away. The runner keeps working until it
// notices on its next throttled check; its own later Finish call is then a
// no-op because the status is already terminal.
func (e *Engine) Cancel(id int64) error {
	e.mu.Lock()
	j, ok := e.jobs[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %d not found", id)
	}
	j.cancel()
	_, err := e.Update(id, func(r *Record) {
		if !r.Status.Terminal() {
			r.Status = StatusCancelled
			now := time.Now()
			r.FinishedAt = &now
		}
	})
	return err
}

// IsCancelled reports whether a task's status is StatusCancelled, without
// throttling — callers (the scanner's cancelChecker) apply their own
// throttle interval around this.
func (e *Engine) IsCancelled(id int64) bool {
	e.mu.Lock()
	j, ok := e.jobs[id]
	e.mu.Unlock()
	if !ok {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rec.Status == StatusCancelled
}

// Get returns a snapshot of one task's record.
func (e *Engine) Get(id int64) (Record, bool) {
	e.mu.Lock()
	j, ok := e.jobs[id]
	e.mu.Unlock()
	if !ok {
		return Record{}, false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rec, true
}

// List returns every task currently tracked in memory, newest first.
func (e *Engine) List() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Record, 0, len(e.jobs))
	for _, j := range e.jobs {
		j.mu.Lock()
		out = append(out, j.rec)
		j.mu.Unlock()
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID > out[b].ID })
	return out
}

// ActiveByTarget returns the first non-terminal task matching name and
// targetPath, if any — the primitive POST /scan-jobs uses to enforce
// "at most one active scan per root" (§5, §8 property 7).
func (e *Engine) ActiveByTarget(name, targetPath string) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, j := range e.jobs {
		j.mu.Lock()
		match := j.rec.Name == name && j.rec.TargetPath == targetPath && !j.rec.Status.Terminal()
		rec := j.rec
		j.mu.Unlock()
		if match {
			return rec, true
		}
	}
	return Record{}, false
}

// Expire drops completed in-memory job handles older than e.expire,
// mirroring rclone's kickExpire/Expire retention sweep (§4.6 "History
// retention"). Persisted bbolt rows are left alone: the task-history API
// reads from bbolt directly, not from the in-memory map.
func (e *Engine) Expire() {
	if e.expire <= 0 {
		return
	}
	cutoff := time.Now().Add(-e.expire)
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, j := range e.jobs {
		j.mu.Lock()
		done := j.rec.Status.Terminal() && j.rec.FinishedAt != nil && j.rec.FinishedAt.Before(cutoff)
		j.mu.Unlock()
		if done {
			delete(e.jobs, id)
		}
	}
}

// RunExpireLoop blocks expiring finished jobs every interval until ctx is
// cancelled, the same shape as rclone's jobs.kickExpire goroutine.
func (e *Engine) RunExpireLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.Expire()
		}
	}
}

// History returns every persisted task record, most recent first.
func (e *Engine) History(limit int) ([]Record, error) {
	var out []Record
	err := e.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		cur := b.Cursor()
		for k, v := cur.Last(); k != nil; k, v = cur.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// TrimHistory deletes persisted terminal task rows finished more than
// olderThan ago, returning the count removed (DELETE /task-history, §6).
// Non-terminal rows are never removed regardless of age.
func (e *Engine) TrimHistory(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	err := e.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		cur := b.Cursor()
		var toDelete [][]byte
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if rec.Status.Terminal() && rec.FinishedAt != nil && rec.FinishedAt.Before(cutoff) {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}
