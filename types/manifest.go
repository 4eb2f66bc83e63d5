package types

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ManifestEntry is one model's active record in the manifest.
// Field names match the historical metadata JSON consumed by the
// inference application's configuration loader.
type ManifestEntry struct {
	// Filename is the artifact file under the store's active area.
	Filename string `json:"filename"`
	// Version is the semantic version of the active artifact.
	Version string `json:"version"`
	// SizeBytes is the size of the active artifact.
	SizeBytes int64 `json:"size_bytes"`
	// Checksum is the lowercase hex SHA-256 digest of the active bytes.
	Checksum string `json:"checksum"`
	// InputShape and OutputShape are the declared shape contract.
	InputShape  Shape `json:"input_shape"`
	OutputShape Shape `json:"output_shape"`
	// AccuracyBaseline is carried through from the descriptor.
	AccuracyBaseline float64 `json:"accuracy_baseline,omitempty"`
	// PerformanceTargetMs is carried through from the descriptor.
	PerformanceTargetMs int `json:"performance_target_ms,omitempty"`
	// Tags carry free-form capability hints from the descriptor.
	Tags map[string]string `json:"tags,omitempty"`
	// Backups lists superseded versions newest-first, for rollback.
	Backups []string `json:"backups,omitempty"`
}

// ManifestMetadata summarizes the manifest as a whole.
type ManifestMetadata struct {
	TotalSizeMB      float64 `json:"total_size_mb"`
	Optimization     string  `json:"optimization,omitempty"`
	ConversionMethod string  `json:"conversion_method,omitempty"`
}

// ArtifactManifest is the durable record of which artifact version is
// active per logical model. It is the single source of truth: a full
// manifest write is the unit of mutation, it is never edited in place.
type ArtifactManifest struct {
	SchemaVersion string                   `json:"version"`
	CreatedAt     time.Time                `json:"created_at"`
	Models        map[string]ManifestEntry `json:"models"`
	Metadata      ManifestMetadata         `json:"metadata"`
}

// NewManifest returns an empty manifest at the current schema version.
func NewManifest() *ArtifactManifest {
	return &ArtifactManifest{
		SchemaVersion: ManifestSchemaVersion,
		CreatedAt:     time.Now().UTC(),
		Models:        make(map[string]ManifestEntry),
	}
}

// Clone returns a deep copy. Mutating the copy never affects the
// original; commit builds the successor manifest from a clone.
func (m *ArtifactManifest) Clone() *ArtifactManifest {
	out := &ArtifactManifest{
		SchemaVersion: m.SchemaVersion,
		CreatedAt:     m.CreatedAt,
		Models:        make(map[string]ManifestEntry, len(m.Models)),
		Metadata:      m.Metadata,
	}
	for name, entry := range m.Models {
		copied := entry
		copied.InputShape = append(Shape(nil), entry.InputShape...)
		copied.OutputShape = append(Shape(nil), entry.OutputShape...)
		if entry.Tags != nil {
			copied.Tags = make(map[string]string, len(entry.Tags))
			for k, v := range entry.Tags {
				copied.Tags[k] = v
			}
		}
		copied.Backups = append([]string(nil), entry.Backups...)
		out.Models[name] = copied
	}
	return out
}

// EntryFor builds a manifest entry from a descriptor.
func EntryFor(d *ArtifactDescriptor) ManifestEntry {
	return ManifestEntry{
		Filename:            d.Filename(),
		Version:             d.Version,
		SizeBytes:           d.SizeBytes,
		Checksum:            d.Checksum,
		InputShape:          append(Shape(nil), d.Contract.Input...),
		OutputShape:         append(Shape(nil), d.Contract.Output...),
		AccuracyBaseline:    d.AccuracyBaseline,
		PerformanceTargetMs: d.PerformanceTargetMs,
		Tags:                d.Tags,
	}
}

// Descriptor reconstructs the descriptor for a named entry.
func (e ManifestEntry) Descriptor(name string) *ArtifactDescriptor {
	variant := ""
	suffix := "-" + e.Version + ".tflite"
	if strings.HasPrefix(e.Filename, name) && strings.HasSuffix(e.Filename, suffix) {
		variant = e.Filename[len(name) : len(e.Filename)-len(suffix)]
	}
	return &ArtifactDescriptor{
		Name:                name,
		Version:             e.Version,
		Variant:             variant,
		Contract:            ShapeContract{Input: e.InputShape, Output: e.OutputShape},
		SizeBytes:           e.SizeBytes,
		Checksum:            e.Checksum,
		Tags:                e.Tags,
		AccuracyBaseline:    e.AccuracyBaseline,
		PerformanceTargetMs: e.PerformanceTargetMs,
	}
}

// RecomputeMetadata refreshes the aggregate size summary from the
// current model entries. Rounded to one decimal, matching the
// historical metadata format.
func (m *ArtifactManifest) RecomputeMetadata() {
	var total int64
	for _, entry := range m.Models {
		total += entry.SizeBytes
	}
	m.Metadata.TotalSizeMB = math.Round(float64(total)/1024/1024*10) / 10
}

// Validate checks structural validity of the manifest.
func (m *ArtifactManifest) Validate() error {
	if m.SchemaVersion == "" {
		return fmt.Errorf("manifest: missing schema version")
	}
	for name, entry := range m.Models {
		if entry.Filename == "" {
			return fmt.Errorf("manifest: model %q has no filename", name)
		}
		if !checksumPattern.MatchString(entry.Checksum) {
			return fmt.Errorf("manifest: model %q has invalid checksum %q", name, entry.Checksum)
		}
	}
	return nil
}
