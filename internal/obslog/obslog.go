// Package obslog is the server's structured logging boundary:
// github.com/sirupsen/logrus configured once at startup, with per-task and
// per-request helpers that attach stable fields the way
// _examples/rclone-rclone attaches an fs.Object/fs.Dir to its Debugf calls.
package obslog

import (
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// base is the process-wide logger every helper here derives from.
var base = logrus.New()

// Configure sets the logger's level and output format; called once from
// cmd/mangaulmd at startup with the selected config profile's settings.
func Configure(level string, json bool) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		base.SetLevel(lvl)
	}
	if json {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	base.SetOutput(os.Stderr)
}

// Logger returns the shared logger for call sites with no task/request
// context of their own (startup, background sweeps).
func Logger() *logrus.Logger { return base }

// Task returns a logger scoped to one background task, attaching task_id
// and name to every subsequent entry.
func Task(taskID int64, name string) *logrus.Entry {
	return base.WithFields(logrus.Fields{"task_id": taskID, "task_name": name})
}

// File returns a logger scoped to one catalog file, for logging per-file
// failures.
func File(fileID int64) *logrus.Entry {
	return base.WithField("file_id", fileID)
}

// RequestMiddleware logs each HTTP request's method, path, status and
// duration at Info level once it completes, the same shape chi's own
// middleware.Logger produces but routed through the shared logrus logger
// so task and request logs interleave consistently.
func RequestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		base.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   sw.status,
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
