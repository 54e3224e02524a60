// Package main provides the cobuild CLI entrypoint.
//
// Usage:
//
//	cobuild <command> [options]
//
// Exit codes:
//   - 0: every task succeeded
//   - 1: at least one task failed
//   - 2: configuration or infrastructure error
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/cobuild/cli/cmd"
	"github.com/pithecene-io/cobuild/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors.
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:           "cobuild",
		Usage:          "Run build tasks with collated output, shared across runners through cobuild locks",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Writer:         stdout,
		ErrWriter:      stderr,
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ExecCommand(),
			cmd.StatusCommand(),
			cmd.ReplayCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

// exitErrHandler exits with the code carried by err.
func exitErrHandler(c *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		w := io.Writer(os.Stderr)
		if c != nil && c.App != nil && c.App.ErrWriter != nil {
			w = c.App.ErrWriter
		}
		fmt.Fprintln(w, msg)
	}
	os.Exit(code)
}

// exitStatus maps err to an exit code and the message to print, if any.
func exitStatus(err error) (int, string) {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		// cli.Exit("", N).Error() is "exit status N"; nothing to print.
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg
	}
	return 1, fmt.Sprintf("Error: %v", err)
}
