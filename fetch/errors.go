// Package fetch retrieves remote model artifacts into staging locations.
//
// This file defines sentinel errors and the TransferError wrapper for
// classifying transfer failures. Callers use errors.Is/errors.As for
// typed assertions rather than string matching.
package fetch

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for transfer failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrNetwork indicates a network-level failure (connection refused,
	// DNS, broken transfer). Retryable by the orchestrator.
	ErrNetwork = errors.New("network error")

	// ErrStatus indicates the source returned a non-success status.
	ErrStatus = errors.New("unexpected source status")

	// ErrNotFound indicates the source object does not exist (404, NoSuchKey).
	ErrNotFound = errors.New("source not found")

	// ErrDestination indicates the staging destination could not be
	// opened or written.
	ErrDestination = errors.New("destination error")

	// ErrSource indicates the source location is malformed or uses an
	// unsupported scheme.
	ErrSource = errors.New("invalid source")

	// ErrCanceled indicates the transfer was canceled via context.
	ErrCanceled = errors.New("transfer canceled")
)

// TransferError wraps an underlying error with transfer classification.
// It preserves the original error in the chain for inspection via errors.As.
type TransferError struct {
	// Kind is the sentinel error for classification (e.g. ErrNetwork).
	Kind error
	// Op is the operation that failed (e.g. "get", "write").
	Op string
	// Source is the source location involved.
	Source string
	// Err is the underlying error.
	Err error
}

func (e *TransferError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("fetch %s %s: %v: %v", e.Op, e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *TransferError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *TransferError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// newTransferError creates a classified transfer error.
func newTransferError(kind error, op, source string, err error) *TransferError {
	return &TransferError{Kind: kind, Op: op, Source: source, Err: err}
}

// classifyGetError picks the sentinel for a failed remote read.
// Context cancellation wins over any other classification.
func classifyGetError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCanceled
	default:
		return ErrNetwork
	}
}

// Retryable reports whether a transfer error is worth re-attempting
// with the same source. Destination and source-shape errors are not.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrStatus)
}
