// Package errkind classifies kernel errors into the semantic kinds the
// pipeline's retry policies act on. Activities wrap their failures in a Kind
// and the orchestrator decides retry/terminal behavior from the kind alone.
package errkind

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind is the semantic class of a kernel error.
type Kind string

const (
	// Transport is a network failure to the LLM or the graph store. Retryable.
	Transport Kind = "transport"
	// Schema is an LLM output that failed structural validation. Retryable
	// within the stage budget.
	Schema Kind = "schema"
	// Budget is a token, wall-clock, or repetition cap. Retryable within the
	// stage budget.
	Budget Kind = "budget"
	// Consistency is a graph-store operation that would violate an invariant.
	// Never retried; the workflow ends terminal/failed.
	Consistency Kind = "consistency"
	// Cancelled is cooperative cancellation. Not logged as an error.
	Cancelled Kind = "cancelled"
	// DeadlineExceeded is a WAIT state outliving its human-review deadline.
	// Terminal.
	DeadlineExceeded Kind = "deadline_exceeded"
	// Config is missing environment or an unreachable store at startup.
	// Fatal at process level.
	Config Kind = "config"
)

// maxMessageLen caps error messages crossing the orchestrator boundary.
const maxMessageLen = 500

// Error is an error carrying a Kind. The message is truncated so checkpoint
// rows and status responses stay bounded.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err with a kind and the operation that produced it.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf wraps a formatted message with a kind.
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Err != nil {
		msg = e.Op + ": " + e.Err.Error()
	}
	return Truncate(msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the kind of err, mapping context errors to their kinds.
// Errors with no kernel kind default to Transport, the conservative
// retryable classification.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return DeadlineExceeded
	}
	return Transport
}

// Retryable reports whether the pipeline may retry an error of this kind.
func (k Kind) Retryable() bool {
	switch k {
	case Transport, Schema, Budget:
		return true
	default:
		return false
	}
}

// Terminal reports whether the kind ends a workflow in a failed state with
// no further transitions.
func (k Kind) Terminal() bool {
	switch k {
	case Consistency, DeadlineExceeded, Cancelled:
		return true
	default:
		return false
	}
}

// Truncate bounds a message for storage in checkpoints and status rows.
func Truncate(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) <= maxMessageLen {
		return msg
	}
	return msg[:maxMessageLen-3] + "..."
}
