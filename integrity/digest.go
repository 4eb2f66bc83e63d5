// Package integrity computes and checks content digests for model
// artifacts.
//
// All digests are SHA-256, rendered as lowercase hex. Files are read in
// bounded chunks so memory use is constant regardless of artifact size.
// Verification fails closed: any I/O error counts as a verification
// failure, never as a skipped check.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pithecene-io/assay/iox"
)

// DigestChunkSize is the read chunk size for digest computation.
// The digest result is independent of this value.
const DigestChunkSize = 64 * 1024

// ErrDigestMismatch indicates the computed digest does not match the
// expected digest. Not retryable without re-fetching the artifact.
var ErrDigestMismatch = errors.New("integrity: digest mismatch")

// Digest computes the SHA-256 digest of the file at path, reading in
// DigestChunkSize chunks. Returns the lowercase hex digest string.
func Digest(path string) (string, error) {
	return digestWithChunkSize(path, DigestChunkSize)
}

// digestWithChunkSize is the chunked implementation; tests exercise it
// with varying chunk sizes to assert chunk-size independence.
func digestWithChunkSize(path string, chunkSize int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("integrity: open %s: %w", path, err)
	}
	defer iox.DiscardClose(f)

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("integrity: read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify computes the digest of the file at path and compares it to
// expected. Returns nil on match, ErrDigestMismatch on mismatch, and
// the underlying read error on I/O failure. There is no skip path.
func Verify(path, expected string) error {
	actual, err := Digest(path)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("%w: %s: have %s, want %s", ErrDigestMismatch, path, actual, expected)
	}
	return nil
}

// DigestBytes computes the SHA-256 digest of an in-memory byte slice.
// Used for small payloads (manifests, records), never for artifacts.
func DigestBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
