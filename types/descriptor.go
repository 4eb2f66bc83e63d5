// Package types defines core domain types for the Assay model pipeline.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// WildcardDim is the wildcard dimension in a shape contract.
// It matches any positive dimension during compatibility probing.
const WildcardDim int64 = -1

// Shape is an ordered sequence of tensor dimensions.
// A WildcardDim entry matches any positive value.
type Shape []int64

// Matches reports whether other satisfies this shape contract.
// Dimensions are compared in order; a WildcardDim on either side
// matches any positive dimension. Rank must match exactly.
func (s Shape) Matches(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i, dim := range s {
		if dim == WildcardDim && other[i] == WildcardDim {
			continue
		}
		if dim == WildcardDim || other[i] == WildcardDim {
			concrete := dim
			if dim == WildcardDim {
				concrete = other[i]
			}
			if concrete <= 0 {
				return false
			}
			continue
		}
		if dim != other[i] {
			return false
		}
	}
	return true
}

// String renders the shape as "[1, 640, 640, 3]".
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, dim := range s {
		if dim == WildcardDim {
			parts[i] = "?"
		} else {
			parts[i] = fmt.Sprintf("%d", dim)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ShapeContract is the input/output shape pair a model must honor.
type ShapeContract struct {
	Input  Shape `json:"input_shape"`
	Output Shape `json:"output_shape"`
}

// semverPattern matches a plain MAJOR.MINOR.PATCH version string.
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// checksumPattern matches a lowercase hex SHA-256 digest.
var checksumPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ArtifactDescriptor identifies one versioned model artifact.
// Descriptors are immutable: a new version is a new descriptor,
// never a mutation of an existing one.
type ArtifactDescriptor struct {
	// Name is the logical model name (e.g. "table_detection").
	Name string `json:"name" msgpack:"name"`
	// Version is the semantic version of the artifact.
	Version string `json:"version" msgpack:"version"`
	// Variant is the deployment variant suffix (e.g. "-cpu", "-mobile").
	Variant string `json:"variant,omitempty" msgpack:"variant"`
	// Contract is the declared input/output shape contract.
	Contract ShapeContract `json:"contract" msgpack:"contract"`
	// SizeBytes is the declared artifact size.
	SizeBytes int64 `json:"size_bytes" msgpack:"size_bytes"`
	// Checksum is the lowercase hex SHA-256 digest of the artifact bytes.
	Checksum string `json:"checksum" msgpack:"checksum"`
	// Tags carry free-form capability hints (quantization mode,
	// accelerator hint). Never interpreted by the store.
	Tags map[string]string `json:"tags,omitempty" msgpack:"tags"`
	// AccuracyBaseline is the expected accuracy of this artifact version.
	AccuracyBaseline float64 `json:"accuracy_baseline,omitempty" msgpack:"accuracy_baseline"`
	// PerformanceTargetMs is the expected per-inference latency budget.
	PerformanceTargetMs int `json:"performance_target_ms,omitempty" msgpack:"performance_target_ms"`
}

// Filename returns the on-disk artifact filename under the active
// area: name + variant + "-" + version + ".tflite". The version
// qualifier gives every artifact version its own path, so committing
// a successor never writes over a file a reader may hold open.
func (d *ArtifactDescriptor) Filename() string {
	return d.Name + d.Variant + "-" + d.Version + ".tflite"
}

// Validate checks structural validity of the descriptor.
func (d *ArtifactDescriptor) Validate() error {
	if d.Name == "" {
		return errors.New("descriptor: name is required")
	}
	if strings.ContainsAny(d.Name, "/\\") || strings.Contains(d.Name, "..") {
		return fmt.Errorf("descriptor: invalid name %q", d.Name)
	}
	if !semverPattern.MatchString(d.Version) {
		return fmt.Errorf("descriptor: invalid version %q", d.Version)
	}
	if d.SizeBytes < 0 {
		return fmt.Errorf("descriptor: negative size %d", d.SizeBytes)
	}
	if d.Checksum != "" && !checksumPattern.MatchString(d.Checksum) {
		return fmt.Errorf("descriptor: invalid checksum %q", d.Checksum)
	}
	return nil
}
