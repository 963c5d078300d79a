// Package vinylerr holds the error kinds shared across the vinyl engine's
// packages. It follows the teacher's flat, sentinel-error style (one
// errors.go per package, errors.New/fmt.Errorf) rather than a generic
// error-handling framework.
package vinylerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way spec §7 requires: the caller can
// switch on Kind without parsing the message.
type Kind int

const (
	// KindOutOfMemory covers allocation failures. Non-fatal; callers
	// propagate it and the scheduler converts it to task failure + backoff.
	KindOutOfMemory Kind = iota
	// KindTransactionConflict is surfaced when a reader/writer operates
	// on a transaction that has already moved to ABORT.
	KindTransactionConflict
	// KindInvalidVylogFile marks corruption or missing records detected
	// during vylog recovery. Fatal to the recovering index.
	KindInvalidVylogFile
	// KindSystemError wraps filesystem operation failures.
	KindSystemError
	// KindInjection marks test-only synthetic failures at declared
	// injection points.
	KindInjection
)

func (k Kind) String() string {
	switch k {
	case KindOutOfMemory:
		return "out_of_memory"
	case KindTransactionConflict:
		return "transaction_conflict"
	case KindInvalidVylogFile:
		return "invalid_vylog_file"
	case KindSystemError:
		return "system_error"
	case KindInjection:
		return "injection"
	default:
		return "unknown"
	}
}

// Error is a diagnostic carrying a stable Kind alongside the wrapped cause,
// per spec §7 "a failed read/write surfaces a diagnostic with a stable
// error kind and a human-readable message".
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "vylsm.Set", "vyrun.Open"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error for op/kind with a plain message.
func New(op string, kind Kind, msg string) error {
	return &Error{Op: op, Kind: kind, Err: errors.New(msg)}
}

// Wrap attaches op/kind to an existing error. Returns nil if err is nil.
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Sentinel errors referenced directly by callers that don't need the
// full diagnostic wrapper (mirrors pkg/lsm/errors.go and
// pkg/mvcc/errors.go in the teacher).
var (
	ErrKeyNotFound   = errors.New("key not found")
	ErrClosed        = errors.New("vinyl: closed")
	ErrCancelled     = errors.New("vinyl: operation cancelled")
	ErrInvalidated   = errors.New("vinyl: iterator invalidated")
	ErrEmptyCut      = errors.New("vinyl: cut intersection is empty")
	ErrFormatMismatch = errors.New("vinyl: statement format disagrees with mem format")
)
