// Package probe classifies model artifacts against a target runtime's
// acceptance rules without executing inference.
//
// The opaque accept/reject behavior of the real model loader is
// abstracted behind the Loader interface and a declared policy table
// (operator markers, shape contract), so classification is
// deterministic and testable without the runtime itself.
package probe

import (
	"context"
	"errors"

	"github.com/pithecene-io/assay/types"
)

// Loader sentinel errors. Any error outside these is treated as a
// transient loader failure and yields an indeterminate verdict.
var (
	// ErrCorruptContainer indicates the bytes do not parse as a valid
	// model container.
	ErrCorruptContainer = errors.New("probe: corrupt container")

	// ErrResourceExhausted indicates the loader hit a transient
	// resource limit (mmap, memory). Retryable.
	ErrResourceExhausted = errors.New("probe: resource exhausted")
)

// LoadResult is what a Loader learns from initializing an artifact.
type LoadResult struct {
	// CustomOps are the custom operator names found in the container,
	// in file order, deduplicated.
	CustomOps []string
	// Contract is the shape contract the loader read from the
	// container, or nil when the loader cannot recover shapes. The
	// prober then falls back to the descriptor-declared contract.
	Contract *types.ShapeContract
}

// Loader initializes an artifact under the target runtime's loader
// semantics. Implementations must be deterministic for the same bytes.
type Loader interface {
	Load(ctx context.Context, path string) (*LoadResult, error)
}

// TargetRuntime is the declared acceptance policy of an execution
// environment: which custom operators it cannot honor.
type TargetRuntime struct {
	// Name identifies the runtime (informational, appears in verdicts).
	Name string
	// UnsupportedOps are custom operator names the runtime rejects at
	// load time.
	UnsupportedOps []string
}

// Unsupported reports whether op is rejected by this runtime.
func (t TargetRuntime) Unsupported(op string) bool {
	for _, u := range t.UnsupportedOps {
		if u == op {
			return true
		}
	}
	return false
}

// CPURuntime is the portable CPU interpreter profile: it rejects
// accelerator-compiled operators.
func CPURuntime() TargetRuntime {
	return TargetRuntime{
		Name:           "cpu",
		UnsupportedOps: []string{"edgetpu-custom-op"},
	}
}
