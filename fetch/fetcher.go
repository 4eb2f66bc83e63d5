package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pithecene-io/assay/iox"
)

// ChunkSize is the streaming copy chunk size. Payloads are never
// buffered whole in memory.
const ChunkSize = 64 * 1024

// DefaultTimeout bounds a single HTTP transfer end to end.
const DefaultTimeout = 10 * time.Minute

// Fetcher streams remote artifacts to staging destinations.
//
// A Fetcher performs no retries: retry policy belongs to the
// orchestrator. On any failure the destination file is removed so a
// partial transfer is never mistaken for an artifact.
type Fetcher struct {
	// Client is the HTTP client for http(s) sources. Defaults to a
	// client with DefaultTimeout.
	Client *http.Client
	// S3 resolves s3:// sources. Nil disables S3 support.
	S3 ObjectGetter
	// OnProgress receives progress updates, if set.
	OnProgress ProgressFunc
}

// NewFetcher creates a Fetcher with the default HTTP client and no S3
// support. Attach an ObjectGetter via the S3 field to enable s3:// sources.
func NewFetcher() *Fetcher {
	return &Fetcher{Client: &http.Client{Timeout: DefaultTimeout}}
}

// Fetch streams the payload at source into dest.
//
// Supported source schemes: http, https, s3 (when an ObjectGetter is
// configured). sizeHint, when positive, seeds progress reporting for
// sources that do not declare a content length; a declared length from
// the source takes precedence.
//
// Returns the number of bytes written. On failure the destination is
// removed and a classified *TransferError is returned.
func (f *Fetcher) Fetch(ctx context.Context, source, dest string, sizeHint int64) (int64, error) {
	u, err := url.Parse(source)
	if err != nil {
		return 0, newTransferError(ErrSource, "parse", source, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return f.fetchHTTP(ctx, source, dest, sizeHint)
	case "s3":
		if f.S3 == nil {
			return 0, newTransferError(ErrSource, "get", source,
				fmt.Errorf("s3 source requires an S3 client"))
		}
		return f.fetchS3(ctx, u, dest, sizeHint)
	default:
		return 0, newTransferError(ErrSource, "parse", source,
			fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, source, dest string, sizeHint int64) (int64, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return 0, newTransferError(ErrSource, "get", source, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, newTransferError(classifyGetError(err), "get", source, err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		kind := ErrStatus
		if resp.StatusCode == http.StatusNotFound {
			kind = ErrNotFound
		}
		return 0, newTransferError(kind, "get", source,
			fmt.Errorf("status %d", resp.StatusCode))
	}

	total := resp.ContentLength
	if total <= 0 {
		total = sizeHint
	}
	return f.writeStream(ctx, source, dest, resp.Body, total)
}

// writeStream copies body into dest in ChunkSize chunks, reporting
// monotonic progress. On any failure dest is removed.
func (f *Fetcher) writeStream(ctx context.Context, source, dest string, body io.Reader, total int64) (written int64, err error) {
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, newTransferError(ErrDestination, "open", source, err)
	}

	defer func() {
		iox.DiscardClose(out)
		if err != nil {
			// Never leave a plausible-looking partial artifact behind.
			_ = os.Remove(dest)
			written = 0
		}
	}()

	buf := make([]byte, ChunkSize)
	for {
		if cerr := ctx.Err(); cerr != nil {
			return 0, newTransferError(ErrCanceled, "copy", source, cerr)
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return 0, newTransferError(ErrDestination, "write", source, werr)
			}
			written += int64(n)
			if f.OnProgress != nil {
				f.OnProgress(Progress{Bytes: written, Total: total})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return 0, newTransferError(classifyGetError(rerr), "read", source, rerr)
		}
	}

	if serr := out.Sync(); serr != nil {
		return 0, newTransferError(ErrDestination, "sync", source, serr)
	}
	return written, nil
}
