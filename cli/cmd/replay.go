package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/cobuild/cli/render"
	"github.com/pithecene-io/cobuild/iox"
	"github.com/pithecene-io/cobuild/ipc"
	"github.com/pithecene-io/cobuild/terminal"
)

// ReplayCommand returns the replay command, which plays back a recording
// made with `exec --record`.
func ReplayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Play back recorded task output",
		ArgsUsage: "<recording>",
		Flags: append(ReadOnlyFlags(),
			&cli.BoolFlag{
				Name:  "info",
				Usage: "Show the recording header instead of its output",
			},
		),
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("replay requires exactly one recording path", exitSetupError)
	}
	path := c.Args().First()

	f, err := os.Open(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot open recording: %v", err), exitSetupError)
	}
	defer iox.DiscardClose(f)

	var dest terminal.Destination = terminal.NewStreamSink(c.App.Writer, c.App.ErrWriter)
	var transform *terminal.TransformSink
	if c.Bool("info") {
		dest = terminal.NewBufferSink()
	} else if c.Bool("no-color") {
		transform = terminal.NewTransformSink(dest, terminal.TransformOptions{RemoveColors: true})
		dest = transform
	}

	header, err := ipc.Replay(f, dest)
	if err == nil && transform != nil {
		err = transform.Flush()
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("replay %s: %v", path, err), exitSetupError)
	}

	if !c.Bool("info") {
		return nil
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}
	chunks := dest.(*terminal.BufferSink).Chunks()
	return r.Render(RecordingInfo{
		Version:   header.Version,
		StartedAt: header.StartedAt,
		ContextID: header.ContextID,
		RunnerID:  header.RunnerID,
		Chunks:    len(chunks),
	})
}

// RecordingInfo describes a recording.
type RecordingInfo struct {
	Version   string `json:"version" yaml:"version"`
	StartedAt string `json:"started_at" yaml:"started_at"`
	ContextID string `json:"context_id,omitempty" yaml:"context_id,omitempty"`
	RunnerID  string `json:"runner_id,omitempty" yaml:"runner_id,omitempty"`
	Chunks    int    `json:"chunks" yaml:"chunks"`
}
