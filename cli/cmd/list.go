package cmd

import (
	"io"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/assay/cli/render"
	"github.com/pithecene-io/assay/log"
)

// ListCommand returns the list command: render the current manifest.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:   "list",
		Usage:  "List the active model manifest",
		Flags:  CommonFlags(),
		Action: listAction,
	}
}

func listAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	st, err := openStore(cfg, log.NewLogger().WithOutput(io.Discard))
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	manifest, err := st.Manifest()
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	return r.Manifest(manifest)
}
