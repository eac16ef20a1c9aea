// Package kind defines the error-kind taxonomy shared by the pipeline,
// conflict engine, resolution controller, and HTTP boundary.
package kind

import (
	"errors"
	"fmt"
)

// Kind is a sentinel error classification. Boundary-visible kinds map to an
// HTTP status in internal/httpapi; the rest stay internal to the pipeline.
type Kind string

const (
	BadInput    Kind = "bad_input"    // 400
	Unsupported Kind = "unsupported"  // 415
	TooLarge    Kind = "too_large"    // 413
	NotFound    Kind = "not_found"    // 404
	Conflict    Kind = "conflict"     // 409, invariant violations only
	Internal    Kind = "internal"     // 500

	// Internal-only kinds, never surfaced at the boundary directly; they are
	// mapped to Internal unless a handler recognizes them specifically.
	ParseError        Kind = "parse_error"
	ChunkError        Kind = "chunk_error"
	EmbedError        Kind = "embed_error"
	IndexError        Kind = "index_error"
	StoreError        Kind = "store_error"
	ModelError        Kind = "model_error"
	InconsistentState Kind = "inconsistent_state"
)

// Error wraps an underlying cause with a Kind and the operation that
// produced it, so callers can classify failures with errors.As without
// string matching.
type Error struct {
	K   Kind
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.K)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.K, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a *Error.
func New(k Kind, op string, err error) *Error {
	return &Error{K: k, Op: op, Err: err}
}

// Of extracts the Kind of err, defaulting to Internal if err is not a *Error
// (or does not wrap one).
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.K
	}
	return Internal
}
