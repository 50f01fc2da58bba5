// Package apperr defines the sentinel error kinds shared across components
// and their HTTP status mapping (§7).
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a coarse error category, comparable with errors.Is.
type Kind error

var (
	// NotFound: the referenced entity (file, tag, task, ...) does not exist.
	NotFound Kind = errors.New("not found")
	// Conflict: the request would violate a uniqueness or state invariant.
	Conflict Kind = errors.New("conflict")
	// InvalidArgument: the request itself is malformed or out of range.
	InvalidArgument Kind = errors.New("invalid argument")
	// ArchiveCorrupt: an archive could not be opened or its index is damaged.
	ArchiveCorrupt Kind = errors.New("archive corrupt")
	// ReadFailed: an I/O error occurred reading an otherwise valid archive.
	ReadFailed Kind = errors.New("read failed")
	// PathEscape: a computed destination path fell outside its configured root.
	PathEscape Kind = errors.New("path escapes root")
	// TargetExists: a rename's filesystem destination is already present.
	// Distinct from Conflict: §7 carves rename destinations out to 400
	// rather than the general Conflict→409 rule.
	TargetExists Kind = errors.New("rename target exists")
	// Unavailable: a dependent resource (disk, external volume) is not reachable.
	Unavailable Kind = errors.New("unavailable")
	// Internal: an unexpected failure with no more specific classification.
	Internal Kind = errors.New("internal error")
)

// E builds a new error of the given kind from a formatted message, so that
// errors.Is(e, kind) succeeds; it carries no underlying cause (see Wrap).
func E(kind Kind, format string, args ...interface{}) error {
	return &wrapped{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to an existing error without discarding it.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{kind: kind, msg: err.Error(), cause: err}
}

type wrapped struct {
	kind  Kind
	msg   string
	cause error
}

func (w *wrapped) Error() string { return w.msg }

func (w *wrapped) Unwrap() error {
	if w.cause != nil {
		return w.cause
	}
	return w.kind
}

func (w *wrapped) Is(target error) bool { return errors.Is(w.kind, target) }

// HTTPStatus maps an error's kind to the status code httpapi should answer
// with. Unrecognized errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, NotFound):
		return http.StatusNotFound
	case errors.Is(err, Conflict):
		return http.StatusConflict
	case errors.Is(err, InvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, PathEscape):
		return http.StatusBadRequest
	case errors.Is(err, TargetExists):
		return http.StatusBadRequest
	case errors.Is(err, ArchiveCorrupt):
		return http.StatusInternalServerError
	case errors.Is(err, ReadFailed):
		return http.StatusInternalServerError
	case errors.Is(err, Unavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
