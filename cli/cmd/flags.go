// Package cmd provides CLI commands for the assay binary.
package cmd

import "github.com/urfave/cli/v2"

// Exit codes shared by all commands.
const (
	exitSuccess = 0
	exitFailure = 1
	// exitPartial means some models updated and some aborted.
	exitPartial      = 2
	exitInvalidInput = 3
)

// Shared flags.
var (
	// ConfigFlag names the YAML config file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to assay.yaml config file",
		Value:   "assay.yaml",
	}

	// StoreRootFlag overrides the config's store root.
	StoreRootFlag = &cli.StringFlag{
		Name:  "store-root",
		Usage: "Model directory root (overrides config)",
	}

	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}
)

// CommonFlags returns the flags shared by every command.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		StoreRootFlag,
		FormatFlag,
		NoColorFlag,
	}
}
