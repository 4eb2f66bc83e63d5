package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/pithecene-io/assay/iox"
)

// ObjectGetter is the subset of the S3 API the fetcher needs.
// *s3.Client satisfies it; tests substitute a stub.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config holds configuration for the S3 source backend.
type S3Config struct {
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not
	// subdomain). Required by most S3-compatible providers.
	UsePathStyle bool
}

// NewS3Client creates an S3 client from the default AWS credential
// chain (env vars, shared config, IAM role) with optional overrides.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("fetch: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsConfig, s3Opts...), nil
}

// fetchS3 streams an s3://bucket/key object into dest.
func (f *Fetcher) fetchS3(ctx context.Context, u *url.URL, dest string, sizeHint int64) (int64, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	source := u.String()
	if bucket == "" || key == "" {
		return 0, newTransferError(ErrSource, "parse", source,
			fmt.Errorf("s3 source must be s3://bucket/key"))
	}

	out, err := f.S3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		var noBucket *s3types.NoSuchBucket
		kind := classifyGetError(err)
		if errors.As(err, &noKey) || errors.As(err, &noBucket) {
			kind = ErrNotFound
		}
		return 0, newTransferError(kind, "get", source, err)
	}
	defer iox.DiscardClose(out.Body)

	total := sizeHint
	if out.ContentLength != nil && *out.ContentLength > 0 {
		total = *out.ContentLength
	}
	return f.writeStream(ctx, source, dest, out.Body, total)
}
