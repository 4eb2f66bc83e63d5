package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/pithecene-io/assay/convert"
	"github.com/pithecene-io/assay/types"
)

// Config represents an assay.yaml configuration file.
// All values are optional and act as defaults for assay command flags.
// CLI flags always override config values.
type Config struct {
	// StoreRoot is the model directory root.
	StoreRoot string                 `yaml:"store_root"`
	Models    map[string]ModelConfig `yaml:"models"`
	Probe     ProbeConfig            `yaml:"probe"`
	Converter ConverterConfig        `yaml:"converter"`
	S3        S3Config               `yaml:"s3"`
	Adapter   AdapterConfig          `yaml:"adapter"`
	Retention RetentionConfig        `yaml:"retention"`
}

// ModelConfig declares one logical model: where to fetch it, which
// variant is active, the shape contract it must honor, and whether a
// non-accelerated fallback path is allowed when no compatible
// artifact exists.
type ModelConfig struct {
	Source              string            `yaml:"source"`
	Version             string            `yaml:"version"`
	Variant             string            `yaml:"variant"`
	Checksum            string            `yaml:"checksum"`
	InputShape          []int64           `yaml:"input_shape"`
	OutputShape         []int64           `yaml:"output_shape"`
	AccuracyBaseline    float64           `yaml:"accuracy_baseline"`
	PerformanceTargetMs int               `yaml:"performance_target_ms"`
	FallbackEnabled     bool              `yaml:"fallback_enabled"`
	UseVisionFramework  bool              `yaml:"use_vision_framework"`
	Tags                map[string]string `yaml:"tags,omitempty"`
}

// Descriptor builds the artifact descriptor this model entry declares.
func (m ModelConfig) Descriptor(name string) *types.ArtifactDescriptor {
	return &types.ArtifactDescriptor{
		Name:    name,
		Version: m.Version,
		Variant: m.Variant,
		Contract: types.ShapeContract{
			Input:  types.Shape(m.InputShape),
			Output: types.Shape(m.OutputShape),
		},
		Checksum:            m.Checksum,
		Tags:                m.Tags,
		AccuracyBaseline:    m.AccuracyBaseline,
		PerformanceTargetMs: m.PerformanceTargetMs,
	}
}

// ProbeConfig holds compatibility probe defaults.
type ProbeConfig struct {
	// Runtime names the target runtime (informational, logged).
	Runtime  string   `yaml:"runtime"`
	Attempts int      `yaml:"attempts"`
	Backoff  Duration `yaml:"backoff"`
}

// ConverterConfig holds converter tool defaults.
type ConverterConfig struct {
	// Command is the external converter executable. Empty disables
	// conversion.
	Command        string   `yaml:"command"`
	Quantization   string   `yaml:"quantization"`
	TargetOps      []string `yaml:"target_ops"`
	AllowCustomOps bool     `yaml:"allow_custom_ops"`
}

// Options maps the converter config onto conversion options.
// Returns nil when no converter command is configured.
func (c ConverterConfig) Options() (*convert.Options, error) {
	if c.Command == "" {
		return nil, nil
	}
	opts := &convert.Options{
		Quantization:      convert.Quantization(c.Quantization),
		TargetOperatorSet: c.TargetOps,
		AllowCustomOps:    c.AllowCustomOps,
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// S3Config holds S3 source defaults.
type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// AdapterConfig holds notification adapter defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// RetentionConfig holds backup retention defaults.
type RetentionConfig struct {
	MaxBackups int `yaml:"max_backups"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ModelNames returns the configured model names in sorted order.
// Sorting ensures deterministic update and render ordering.
func (c *Config) ModelNames() []string {
	names := make([]string, 0, len(c.Models))
	for name := range c.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
