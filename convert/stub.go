package convert

import (
	"context"
	"os"
	"path/filepath"
	"sync"
)

// StubConverter records Convert calls and copies input to output,
// optionally injecting bytes, for testing pipelines without an
// external tool.
type StubConverter struct {
	// StagingDir receives outputs.
	StagingDir string
	// Inject is appended to the copied output bytes, if set.
	Inject []byte
	// Err, when set, is returned from Convert without producing output.
	Err error

	mu    sync.Mutex
	Calls []Options
}

// Convert implements Converter by copying the input into staging.
func (s *StubConverter) Convert(_ context.Context, inputPath string, opts Options) (string, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, opts)
	s.mu.Unlock()

	if s.Err != nil {
		return "", s.Err
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return "", err
	}
	data = append(data, s.Inject...)

	outputPath := filepath.Join(s.StagingDir, "converted-"+filepath.Base(inputPath))
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return "", err
	}
	return outputPath, nil
}

// Verify StubConverter implements Converter.
var _ Converter = (*StubConverter)(nil)
