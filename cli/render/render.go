// Package render provides centralized output rendering for the assay CLI.
//
// Format selection rules:
//   - If output is a TTY, default to table
//   - If output is not a TTY, default to json
//   - --format flag always overrides defaults
//   - Invalid formats are errors
//
// Color handling: --no-color affects table output only.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/assay/pipeline"
	"github.com/pithecene-io/assay/types"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // Let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from CLI context, applying the
// TTY-based format default.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}

	if format == "" {
		if isTTY(os.Stdout) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}

	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color"),
		out:     os.Stdout,
	}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{
		format:  format,
		noColor: noColor,
		out:     out,
	}
}

// Manifest renders the artifact manifest.
func (r *Renderer) Manifest(m *types.ArtifactManifest) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(m)
	case FormatYAML:
		return r.renderYAML(m)
	case FormatTable:
		return r.manifestTable(m)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func (r *Renderer) manifestTable(m *types.ArtifactManifest) error {
	if len(m.Models) == 0 {
		fmt.Fprintln(r.out, "(no models)")
		return nil
	}

	names := make([]string, 0, len(m.Models))
	for name := range m.Models {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	fmt.Fprintln(w, "MODEL\tVERSION\tFILE\tSIZE\tCHECKSUM\tBACKUPS")
	for _, name := range names {
		entry := m.Models[name]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			name, entry.Version, entry.Filename,
			humanSize(entry.SizeBytes), shortDigest(entry.Checksum),
			len(entry.Backups))
	}
	fmt.Fprintf(w, "\ntotal: %.1f MB\t(manifest %s, created %s)\n",
		m.Metadata.TotalSizeMB, m.SchemaVersion,
		m.CreatedAt.Format(time.RFC3339))
	return nil
}

// resultView is the serializable projection of a pipeline result.
type resultView struct {
	Model        string `json:"model"`
	State        string `json:"state"`
	Reason       string `json:"reason,omitempty"`
	Error        string `json:"error,omitempty"`
	Version      string `json:"version,omitempty"`
	Checksum     string `json:"checksum,omitempty"`
	BytesFetched int64  `json:"bytes_fetched"`
	DurationMs   int64  `json:"duration_ms"`
}

func viewOf(res pipeline.Result) resultView {
	v := resultView{
		Model:        res.Name,
		State:        string(res.State),
		Reason:       res.Reason,
		BytesFetched: res.BytesFetched,
		DurationMs:   res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		v.Error = res.Err.Error()
	}
	if res.Descriptor != nil {
		v.Version = res.Descriptor.Version
		v.Checksum = res.Descriptor.Checksum
	}
	return v
}

// Results renders replacement outcomes.
func (r *Renderer) Results(results []pipeline.Result) error {
	views := make([]resultView, len(results))
	for i, res := range results {
		views[i] = viewOf(res)
	}

	switch r.format {
	case FormatJSON:
		return r.renderJSON(views)
	case FormatYAML:
		return r.renderYAML(views)
	case FormatTable:
		return r.resultsTable(results)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func (r *Renderer) resultsTable(results []pipeline.Result) error {
	if len(results) == 0 {
		fmt.Fprintln(r.out, "(no results)")
		return nil
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	fmt.Fprintln(w, "MODEL\tSTATUS\tREASON\tFETCHED\tDURATION")
	var updated, aborted int
	var fetched int64
	for _, res := range results {
		status := r.paintStatus(string(res.State), successStyle)
		if res.OK() {
			updated++
		} else {
			status = r.paintStatus(string(res.State), errorStyle)
			aborted++
		}
		fetched += res.BytesFetched
		reason := res.Reason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			res.Name, status, reason,
			humanSize(res.BytesFetched), res.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(w, "\n%d updated, %d aborted\t(%s fetched)\n",
		updated, aborted, humanSize(fetched))
	return nil
}

// Verdict renders a standalone compatibility check.
func (r *Renderer) Verdict(path string, v types.CompatibilityVerdict) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(struct {
			Path    string                     `json:"path"`
			Verdict types.CompatibilityVerdict `json:"verdict"`
		}{path, v})
	case FormatYAML:
		return r.renderYAML(struct {
			Path    string                     `yaml:"path"`
			Verdict types.CompatibilityVerdict `yaml:"verdict"`
		}{path, v})
	case FormatTable:
		style := successStyle
		switch v.Status {
		case types.VerdictIncompatible:
			style = errorStyle
		case types.VerdictIndeterminate:
			style = warningStyle
		}
		fmt.Fprintf(r.out, "%s: %s", path, r.paintStatus(string(v.Status), style))
		if v.Reason != "" {
			fmt.Fprintf(r.out, " (%s)", v.Reason)
		}
		fmt.Fprintln(r.out)
		if v.Detail != "" {
			fmt.Fprintln(r.out, r.paintStatus(v.Detail, mutedStyle))
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func (r *Renderer) renderJSON(data any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (r *Renderer) renderYAML(data any) error {
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()
	return enc.Encode(data)
}

// shortDigest abbreviates a hex digest for table cells.
func shortDigest(sum string) string {
	if len(sum) <= 12 {
		return sum
	}
	return sum[:12]
}

// humanSize renders a byte count as B, KB or MB.
func humanSize(n int64) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/1024/1024)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// isTTY returns true if the writer is a TTY.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
