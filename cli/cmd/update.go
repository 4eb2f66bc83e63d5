package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/assay/cli/config"
	"github.com/pithecene-io/assay/cli/render"
	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/pipeline"
)

// UpdateCommand returns the update command: acquire-and-replace the
// configured models.
func UpdateCommand() *cli.Command {
	return &cli.Command{
		Name:  "update",
		Usage: "Fetch, verify, probe and atomically replace model artifacts",
		Flags: append(CommonFlags(),
			&cli.StringSliceFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "Model to update (repeatable; default all configured models)",
			},
			&cli.StringFlag{
				Name:  "policy",
				Usage: "Replacement policy: replace or remove",
				Value: "replace",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress result output",
			},
		),
		Action: updateAction,
	}
}

func updateAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	policy, err := parsePolicy(c.String("policy"))
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	names, err := selectModels(cfg, c.StringSlice("model"))
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	lg := log.NewLogger()
	if c.Bool("quiet") {
		lg = lg.WithOutput(io.Discard)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	o, err := buildOrchestrator(ctx, cfg, lg)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	defer closeAdapter(o, lg)

	convOpts, err := cfg.Converter.Options()
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	// Distinct names replace concurrently; the orchestrator serializes
	// any same-name overlap.
	resultCh := make(chan pipeline.Result, len(names))
	for _, name := range names {
		model := cfg.Models[name]
		req := pipeline.Request{
			Source:     model.Source,
			Descriptor: model.Descriptor(name),
			Policy:     policy,
			Convert:    convOpts,
		}
		go func() {
			resultCh <- o.Replace(ctx, req)
		}()
	}

	results := make([]pipeline.Result, 0, len(names))
	for range names {
		results = append(results, <-resultCh)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	if !c.Bool("quiet") {
		if err := r.Results(results); err != nil {
			fmt.Fprintf(os.Stderr, "render failed: %v\n", err)
		}
	}

	return cli.Exit("", updateExitCode(results))
}

func parsePolicy(s string) (pipeline.ReplacementPolicy, error) {
	switch s {
	case "", "replace":
		return pipeline.PolicyRemoveAndReplace, nil
	case "remove":
		return pipeline.PolicyRemoveOnly, nil
	default:
		return "", fmt.Errorf("invalid policy %q (must be replace or remove)", s)
	}
}

// selectModels resolves the requested model names against the config.
func selectModels(cfg *config.Config, requested []string) ([]string, error) {
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("no models configured")
	}
	if len(requested) == 0 {
		return cfg.ModelNames(), nil
	}
	for _, name := range requested {
		if _, ok := cfg.Models[name]; !ok {
			return nil, fmt.Errorf("model %q is not configured", name)
		}
	}
	names := append([]string(nil), requested...)
	sort.Strings(names)
	return names, nil
}

// updateExitCode distinguishes success, partial failure and total
// failure across the batch.
func updateExitCode(results []pipeline.Result) int {
	succeeded := 0
	for _, res := range results {
		if res.OK() {
			succeeded++
		}
	}
	switch {
	case succeeded == len(results):
		return exitSuccess
	case succeeded == 0:
		return exitFailure
	default:
		return exitPartial
	}
}
