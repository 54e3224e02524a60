// Package cmd provides CLI commands for the cobuild binary.
package cmd

import "github.com/urfave/cli/v2"

// Exit codes shared by all commands.
const (
	exitSuccess     = 0
	exitTaskFailure = 1
	exitSetupError  = 2
)

// DefaultConfigPath is read when --config is not given.
const DefaultConfigPath = "cobuild.yaml"

// Shared flags.
var (
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

	// ConfigFlag points at cobuild.yaml.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config file",
		Value:   DefaultConfigPath,
	}

	// LogLevelFlag sets the diagnostic log level.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
		Value: "warn",
	}

	// ContextIDFlag overrides the cobuild context id.
	ContextIDFlag = &cli.StringFlag{
		Name:    "context-id",
		Usage:   "Cobuild context id shared by cooperating runners",
		EnvVars: []string{"COBUILD_CONTEXT_ID"},
	}

	// RunnerIDFlag overrides the runner id.
	RunnerIDFlag = &cli.StringFlag{
		Name:    "runner-id",
		Usage:   "Runner id (default: random)",
		EnvVars: []string{"COBUILD_RUNNER_ID"},
	}

	// RedisURLFlag enables cobuilds.
	RedisURLFlag = &cli.StringFlag{
		Name:  "redis-url",
		Usage: "Redis URL for cobuild locks (enables cobuilds)",
	}
)

// ReadOnlyFlags returns the shared flags for commands that only report.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}

// ConfigFlags returns the flags for commands that read cobuild.yaml.
func ConfigFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		LogLevelFlag,
		ContextIDFlag,
		RunnerIDFlag,
		RedisURLFlag,
	}
}
