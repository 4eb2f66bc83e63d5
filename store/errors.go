// Package store is the durable home of model artifacts: the active
// set, backup records, staged candidates, and the manifest.
//
// This file defines sentinel errors and the StoreError wrapper for
// classifying store failures. Callers use errors.Is/errors.As for
// typed assertions rather than string matching.
package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for store failure classification.
var (
	// ErrUnknownModel indicates no active descriptor exists for the
	// logical name.
	ErrUnknownModel = errors.New("unknown model")

	// ErrNoBackupAvailable indicates rollback was requested with an
	// empty backup history.
	ErrNoBackupAvailable = errors.New("no backup available")

	// ErrCommit indicates a commit-time failure. The manifest and the
	// previously active artifact are intact; the staged artifact is
	// discarded by the caller.
	ErrCommit = errors.New("commit failed")

	// ErrStaleStaged indicates a staged artifact was committed twice
	// or discarded before commit.
	ErrStaleStaged = errors.New("staged artifact no longer present")

	// ErrCorruptManifest indicates the on-disk manifest does not
	// parse or validate.
	ErrCorruptManifest = errors.New("corrupt manifest")
)

// StoreError wraps an underlying error with store classification.
// It preserves the original error in the chain for errors.As.
type StoreError struct {
	// Kind is the sentinel for classification (e.g. ErrCommit).
	Kind error
	// Op is the operation that failed (e.g. "commit", "rollback").
	Op string
	// Name is the logical model name involved, if any.
	Name string
	// Err is the underlying error.
	Err error
}

func (e *StoreError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("store %s %s: %v: %v", e.Op, e.Name, e.Kind, e.Err)
	}
	return fmt.Sprintf("store %s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func newStoreError(kind error, op, name string, err error) *StoreError {
	return &StoreError{Kind: kind, Op: op, Name: name, Err: err}
}
