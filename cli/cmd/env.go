package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/assay/adapter"
	redisadapter "github.com/pithecene-io/assay/adapter/redis"
	"github.com/pithecene-io/assay/adapter/webhook"
	"github.com/pithecene-io/assay/cli/config"
	"github.com/pithecene-io/assay/convert"
	"github.com/pithecene-io/assay/fetch"
	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/metrics"
	"github.com/pithecene-io/assay/pipeline"
	"github.com/pithecene-io/assay/store"
)

// loadConfig reads the config file and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if root := c.String("store-root"); root != "" {
		cfg.StoreRoot = root
	}
	if cfg.StoreRoot == "" {
		return nil, fmt.Errorf("no store root configured (set store_root or --store-root)")
	}
	return cfg, nil
}

// openStore opens the artifact store with the configured retention.
func openStore(cfg *config.Config, lg *log.Logger, extra ...store.Option) (*store.Store, error) {
	opts := []store.Option{store.WithLogger(lg)}
	if cfg.Retention.MaxBackups > 0 {
		opts = append(opts, store.WithMaxBackups(cfg.Retention.MaxBackups))
	}
	opts = append(opts, extra...)
	return store.Open(cfg.StoreRoot, opts...)
}

// buildFetcher creates a fetcher, attaching an S3 client only when a
// configured source needs one.
func buildFetcher(ctx context.Context, cfg *config.Config) (*fetch.Fetcher, error) {
	f := fetch.NewFetcher()

	needsS3 := false
	for _, m := range cfg.Models {
		if strings.HasPrefix(m.Source, "s3://") {
			needsS3 = true
			break
		}
	}
	if !needsS3 {
		return f, nil
	}

	client, err := fetch.NewS3Client(ctx, fetch.S3Config{
		Region:       cfg.S3.Region,
		Endpoint:     cfg.S3.Endpoint,
		UsePathStyle: cfg.S3.PathStyle,
	})
	if err != nil {
		return nil, err
	}
	f.S3 = client
	return f, nil
}

// buildAdapter creates the configured notification adapter, or nil
// when none is configured. The caller owns Close.
func buildAdapter(ac config.AdapterConfig) (adapter.Adapter, error) {
	retries := 0
	if ac.Retries != nil {
		retries = *ac.Retries
	}

	switch ac.Type {
	case "":
		return nil, nil
	case "redis":
		return redisadapter.New(redisadapter.Config{
			URL:     ac.URL,
			Channel: ac.Channel,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     ac.URL,
			Headers: ac.Headers,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q (must be redis or webhook)", ac.Type)
	}
}

// buildOrchestrator assembles the full pipeline from a loaded config.
func buildOrchestrator(ctx context.Context, cfg *config.Config, lg *log.Logger) (*pipeline.Orchestrator, error) {
	mc := metrics.NewCollector(cfg.Probe.Runtime, cfg.StoreRoot)
	st, err := openStore(cfg, lg, store.WithEvictionObserver(mc))
	if err != nil {
		return nil, err
	}

	fetcher, err := buildFetcher(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ad, err := buildAdapter(cfg.Adapter)
	if err != nil {
		return nil, err
	}

	o := pipeline.New(st, fetcher)
	o.Logger = lg
	o.Adapter = ad
	o.Metrics = mc
	if cfg.Probe.Attempts > 0 {
		o.ProbeAttempts = cfg.Probe.Attempts
	}
	if cfg.Probe.Backoff.Duration > 0 {
		o.ProbeBackoff = cfg.Probe.Backoff.Duration
	}
	if cfg.Converter.Command != "" {
		o.Converter = &convert.ToolConverter{
			Command:    cfg.Converter.Command,
			StagingDir: filepath.Join(cfg.StoreRoot, "staging"),
		}
	}
	return o, nil
}

// closeAdapter releases the orchestrator's adapter, if any.
func closeAdapter(o *pipeline.Orchestrator, lg *log.Logger) {
	if o.Adapter == nil {
		return
	}
	if err := o.Adapter.Close(); err != nil {
		lg.Warn("adapter close failed", map[string]any{"error": err.Error()})
	}
}
