package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/assay/cli/render"
	"github.com/pithecene-io/assay/probe"
	"github.com/pithecene-io/assay/types"
)

// CheckCommand returns the check command: probe a local artifact file
// for target-runtime compatibility without touching the store.
func CheckCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Probe a local artifact for runtime compatibility",
		ArgsUsage: "<path>",
		Flags: append(CommonFlags(),
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "Check against this configured model's shape contract",
			},
		),
		Action: checkAction,
	}
}

func checkAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: assay check <path>", exitInvalidInput)
	}
	path := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	// Without --model the probe checks container validity and the
	// operator set only; the shape contract is unconstrained.
	var contract types.ShapeContract
	if name := c.String("model"); name != "" {
		cfg, err := loadConfig(c)
		if err != nil {
			return cli.Exit(err.Error(), exitInvalidInput)
		}
		model, ok := cfg.Models[name]
		if !ok {
			return cli.Exit(fmt.Sprintf("model %q is not configured", name), exitInvalidInput)
		}
		contract = model.Descriptor(name).Contract
	}

	verdict := probe.NewProber().Probe(c.Context, path, contract, contract)
	if err := r.Verdict(path, verdict); err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	if verdict.Status != types.VerdictCompatible {
		return cli.Exit("", exitFailure)
	}
	return nil
}
