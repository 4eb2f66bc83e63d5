// Package convert transforms model artifacts into a target-compatible
// binary form.
//
// The actual tensor-level conversion is performed by an external
// converter tool (the model toolchain is a black box here). This
// package owns option plumbing, staging placement, and the fail-closed
// operator-set check on the tool's output: when custom operators are
// disallowed, an output embedding one outside the target operator set
// is an error, never a silent fallback.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pithecene-io/assay/probe"
)

// Quantization selects the numeric representation of the converted model.
type Quantization string

const (
	// QuantNone keeps the source precision.
	QuantNone Quantization = "none"
	// QuantFloat16 converts weights to float16.
	QuantFloat16 Quantization = "float16"
	// QuantInt8 applies full int8 quantization.
	QuantInt8 Quantization = "int8"
)

// Options configures a conversion.
type Options struct {
	// Quantization is the numeric mode. Defaults to QuantNone.
	Quantization Quantization
	// TargetOperatorSet is the ordered set of allowed operator
	// families (e.g. "TFLITE_BUILTINS", "SELECT_TF_OPS") plus any
	// custom operator names the target honors.
	TargetOperatorSet []string
	// AllowCustomOps permits operators outside TargetOperatorSet in
	// the output. When false, such an output fails the conversion.
	AllowCustomOps bool
}

// Validate checks option consistency.
func (o *Options) Validate() error {
	switch o.Quantization {
	case "", QuantNone, QuantFloat16, QuantInt8:
	default:
		return fmt.Errorf("convert: unknown quantization %q", o.Quantization)
	}
	if !o.AllowCustomOps && len(o.TargetOperatorSet) == 0 {
		return errors.New("convert: target operator set required when custom ops are disallowed")
	}
	return nil
}

// allows reports whether op is inside the target operator set.
func (o *Options) allows(op string) bool {
	for _, allowed := range o.TargetOperatorSet {
		if allowed == op {
			return true
		}
	}
	return false
}

// Sentinel errors.
var (
	// ErrUnsupportedOperator indicates the converted output embeds an
	// operator outside the target operator set while AllowCustomOps is
	// false. Not retryable without changing options.
	ErrUnsupportedOperator = errors.New("convert: unsupported operator in output")

	// ErrTool indicates the external converter tool failed.
	ErrTool = errors.New("convert: converter tool failed")
)

// Converter produces a target-compatible artifact from a source
// artifact. Output is written under the staging directory, never into
// the artifact store's active area.
type Converter interface {
	Convert(ctx context.Context, inputPath string, opts Options) (outputPath string, err error)
}

// ToolConverter shells out to an external converter command.
//
// The tool is invoked as:
//
//	<command> --input <in> --output <out> --quantization <mode>
//	          --target-ops <comma-list> [--allow-custom-ops]
//
// and must exit 0 with the converted container at <out>.
type ToolConverter struct {
	// Command is the converter executable (required).
	Command string
	// StagingDir receives converted outputs (required).
	StagingDir string
}

// Convert implements Converter.
func (c *ToolConverter) Convert(ctx context.Context, inputPath string, opts Options) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}
	if c.Command == "" {
		return "", errors.New("convert: converter command not configured")
	}
	if err := os.MkdirAll(c.StagingDir, 0755); err != nil {
		return "", fmt.Errorf("convert: staging dir: %w", err)
	}

	quant := opts.Quantization
	if quant == "" {
		quant = QuantNone
	}

	outputPath := filepath.Join(c.StagingDir, "converted-"+filepath.Base(inputPath))
	args := []string{
		"--input", inputPath,
		"--output", outputPath,
		"--quantization", string(quant),
		"--target-ops", strings.Join(opts.TargetOperatorSet, ","),
	}
	if opts.AllowCustomOps {
		args = append(args, "--allow-custom-ops")
	}

	cmd := exec.CommandContext(ctx, c.Command, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(outputPath)
		return "", fmt.Errorf("%w: %v: %s", ErrTool, err, strings.TrimSpace(string(out)))
	}

	if err := enforceOperatorSet(ctx, outputPath, opts); err != nil {
		_ = os.Remove(outputPath)
		return "", err
	}
	return outputPath, nil
}

// enforceOperatorSet scans the converted container for custom operators
// and rejects any outside the target set when custom ops are disallowed.
func enforceOperatorSet(ctx context.Context, outputPath string, opts Options) error {
	if opts.AllowCustomOps {
		return nil
	}

	result, err := probe.StaticLoader{}.Load(ctx, outputPath)
	if err != nil {
		return fmt.Errorf("%w: output unreadable: %v", ErrTool, err)
	}

	var embedded []string
	for _, op := range result.CustomOps {
		if !opts.allows(op) {
			embedded = append(embedded, op)
		}
	}
	if len(embedded) > 0 {
		return fmt.Errorf("%w: %s", ErrUnsupportedOperator, strings.Join(embedded, ", "))
	}
	return nil
}
