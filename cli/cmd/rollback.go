package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/assay/log"
)

// RollbackCommand returns the rollback command: restore the newest
// backup for a logical model.
func RollbackCommand() *cli.Command {
	return &cli.Command{
		Name:      "rollback",
		Usage:     "Restore the most recent backup of a model",
		ArgsUsage: "<name>",
		Flags:     CommonFlags(),
		Action:    rollbackAction,
	}
}

func rollbackAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: assay rollback <name>", exitInvalidInput)
	}
	name := c.Args().First()

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lg := log.NewLogger()
	o, err := buildOrchestrator(ctx, cfg, lg)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	defer closeAdapter(o, lg)

	if err := o.Rollback(ctx, name); err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	return nil
}
