// Package errors defines all exported error sentinels and typed errors for
// the streamreduce library.
//
// This is the single source of truth for error values. The top-level
// streamreduce package and internal packages import from here, so errors.Is
// checks work across package boundaries.
package errors

import (
	"errors"
	"fmt"
)

// Failure kinds surfaced by a pipeline run
var (
	ErrIO              = errors.New("streamreduce: i/o failure")
	ErrSort            = errors.New("streamreduce: sort failed")
	ErrMalformedRecord = errors.New("streamreduce: malformed intermediate record")
	ErrWorkerFault     = errors.New("streamreduce: worker function failed")
)

// Configuration errors
var (
	ErrInvalidWorkerCount = errors.New("streamreduce: worker count must be at least 1")
	ErrNilFunc            = errors.New("streamreduce: map, reduce and codec functions must be non-nil")
	ErrPathConflict       = errors.New("streamreduce: input, output and intermediate store paths must differ")
)

// Data contract errors
var (
	ErrInvalidToken  = errors.New("streamreduce: key or value text must be non-empty and free of whitespace and control characters")
	ErrInvalidResult = errors.New("streamreduce: result text must not contain a newline")
	ErrUnsortedInput = errors.New("streamreduce: intermediate store is not sorted by key")
	ErrCorruptRun    = errors.New("streamreduce: sort run checksum mismatch")
)

// Handoff errors
var (
	ErrHandoffClosed  = errors.New("streamreduce: put on closed handoff buffer")
	ErrHandoffAborted = errors.New("streamreduce: handoff buffer aborted")
)

// MalformedRecordError reports a line of the intermediate store that could
// not be split into a key and a value, or whose fields could not be decoded.
type MalformedRecordError struct {
	Line   int64  // 1-based line number in the intermediate store
	Text   string // offending line, without the trailing newline
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("streamreduce: malformed intermediate record at line %d (%s): %q", e.Line, e.Reason, e.Text)
}

func (e *MalformedRecordError) Unwrap() error {
	return ErrMalformedRecord
}

// WorkerFault reports a map or reduce function that returned an error or
// panicked while processing one item.
type WorkerFault struct {
	Stage  string // "map" or "reduce"
	Worker int
	Item   string // record, possibly truncated (map), or key text (reduce)
	Err    error
}

func (e *WorkerFault) Error() string {
	return fmt.Sprintf("streamreduce: %s worker %d failed on %q: %v", e.Stage, e.Worker, e.Item, e.Err)
}

// Unwrap exposes both the fault kind and the user error.
func (e *WorkerFault) Unwrap() []error {
	return []error{ErrWorkerFault, e.Err}
}
