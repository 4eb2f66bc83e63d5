package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pithecene-io/assay/iox"
)

// tfliteIdentifier is the flatbuffer file identifier at offset 4 of a
// valid TFLite container.
var tfliteIdentifier = []byte("TFL3")

// knownCustomOpMarkers are custom operator names that appear verbatim
// in a container's operator-code table. The scan looks for these;
// the target runtime decides which of them it rejects.
var knownCustomOpMarkers = []string{
	"edgetpu-custom-op",
	"TFLite_Detection_PostProcess",
	"Convolution2DTransposeBias",
	"MaxPoolingWithArgmax2D",
}

// scanChunkSize is the read chunk size for the marker scan. Overlap of
// maxMarkerLen-1 bytes between chunks keeps markers spanning a chunk
// boundary detectable.
const scanChunkSize = 256 * 1024

// StaticLoader inspects a TFLite container without linking the real
// runtime: it validates the flatbuffer identifier and scans the bytes
// for known custom operator markers. It never recovers shapes
// (Contract is always nil); shape checks fall back to the
// descriptor-declared contract.
type StaticLoader struct{}

// Load implements Loader.
func (StaticLoader) Load(ctx context.Context, path string) (*LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptContainer, path, err)
		}
		return nil, fmt.Errorf("probe: open %s: %w", path, err)
	}
	defer iox.DiscardClose(f)

	header := make([]byte, 8)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("%w: %s: short header", ErrCorruptContainer, path)
	}
	if !bytes.Equal(header[4:8], tfliteIdentifier) {
		return nil, fmt.Errorf("%w: %s: missing TFL3 identifier", ErrCorruptContainer, path)
	}

	ops, err := scanCustomOps(ctx, f, header)
	if err != nil {
		return nil, err
	}
	return &LoadResult{CustomOps: ops}, nil
}

// IsContainer reports whether the file at path carries the TFLite
// flatbuffer identifier. Callers use this to decide whether an
// artifact needs conversion before it can be probed.
func IsContainer(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer iox.DiscardClose(f)

	header := make([]byte, 8)
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return bytes.Equal(header[4:8], tfliteIdentifier)
}

// scanCustomOps scans the remainder of the file (seeded with the
// already-read header) for known custom operator markers.
func scanCustomOps(ctx context.Context, r io.Reader, seed []byte) ([]string, error) {
	maxMarkerLen := 0
	for _, m := range knownCustomOpMarkers {
		if len(m) > maxMarkerLen {
			maxMarkerLen = len(m)
		}
	}

	var found []string
	seen := make(map[string]bool)
	buf := make([]byte, 0, scanChunkSize+maxMarkerLen)
	buf = append(buf, seed...)
	chunk := make([]byte, scanChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("probe: scan canceled: %w", err)
		}

		n, rerr := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for _, marker := range knownCustomOpMarkers {
				if !seen[marker] && bytes.Contains(buf, []byte(marker)) {
					seen[marker] = true
					found = append(found, marker)
				}
			}
			// Keep a tail so markers spanning the chunk boundary are
			// still found in the next pass.
			if len(buf) > maxMarkerLen-1 {
				tail := buf[len(buf)-(maxMarkerLen-1):]
				buf = append(buf[:0], tail...)
			}
		}
		if rerr == io.EOF {
			return found, nil
		}
		if rerr != nil {
			return nil, fmt.Errorf("probe: read: %w", rerr)
		}
	}
}
