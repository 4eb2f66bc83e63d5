package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/store"
)

// PruneCommand returns the prune command: trim a model's backup
// history beyond a retention count.
func PruneCommand() *cli.Command {
	return &cli.Command{
		Name:      "prune",
		Usage:     "Remove old backups of a model beyond the retention count",
		ArgsUsage: "<name>",
		Flags: append(CommonFlags(),
			&cli.IntFlag{
				Name:  "keep",
				Usage: "Number of backups to keep (default: configured retention)",
				Value: -1,
			},
		),
		Action: pruneAction,
	}
}

func pruneAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: assay prune <name>", exitInvalidInput)
	}
	name := c.Args().First()

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	keep := resolveKeep(c.Int("keep"), cfg.Retention.MaxBackups)

	st, err := openStore(cfg, log.NewLogger())
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	removed, err := st.Prune(name, keep)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	fmt.Fprintf(c.App.Writer, "pruned %d backup(s) of %s\n", removed, name)
	return nil
}

// resolveKeep picks the retention count: an explicit --keep wins, then
// the configured retention, then the store default. Only an explicit
// --keep 0 drops the whole history.
func resolveKeep(flag, configured int) int {
	if flag >= 0 {
		return flag
	}
	if configured > 0 {
		return configured
	}
	return store.DefaultMaxBackups
}
