package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/assay/cli/render"
	"github.com/pithecene-io/assay/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version        string `json:"version"`
	ManifestSchema string `json:"manifest_schema"`
	Commit         string `json:"commit"`
}

// VersionCommand returns the version command.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  CommonFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		format, err := render.ParseFormat(c.String("format"))
		if err != nil {
			return cli.Exit(err.Error(), exitInvalidInput)
		}

		resp := VersionResponse{
			Version:        types.Version,
			ManifestSchema: types.ManifestSchemaVersion,
			Commit:         commit,
		}

		if format == render.FormatJSON {
			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}
		fmt.Fprintf(c.App.Writer, "assay %s (manifest schema %s, commit %s)\n",
			resp.Version, resp.ManifestSchema, resp.Commit)
		return nil
	}
}
