package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/cobuild/cli/render"
	"github.com/pithecene-io/cobuild/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version          string `json:"version"`
	RecordingVersion string `json:"recording_version"`
	Commit           string `json:"commit"`
}

// VersionCommand returns the version command. It never contacts Redis.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return cli.Exit(err.Error(), exitSetupError)
		}
		return r.Render(VersionResponse{
			Version:          types.Version,
			RecordingVersion: types.RecordingVersion,
			Commit:           commit,
		})
	}
}
