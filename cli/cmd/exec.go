package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/cobuild/cli/render"
	"github.com/pithecene-io/cobuild/iox"
	"github.com/pithecene-io/cobuild/ipc"
	"github.com/pithecene-io/cobuild/metrics"
	"github.com/pithecene-io/cobuild/runner"
	"github.com/pithecene-io/cobuild/terminal"
	"github.com/pithecene-io/cobuild/types"
)

// ExecResponse is the structured summary of an exec run.
type ExecResponse struct {
	Summary runner.Summary    `json:"summary" yaml:"summary"`
	Results []runner.Result   `json:"results" yaml:"results"`
	Metrics *metrics.Snapshot `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// ExecCommand returns the exec command, which runs configured tasks.
func ExecCommand() *cli.Command {
	flags := append(ConfigFlags(),
		FormatFlag,
		NoColorFlag,
		&cli.IntFlag{
			Name:    "parallelism",
			Aliases: []string{"p"},
			Usage:   "Maximum concurrent tasks (default: CPU count)",
		},
		&cli.StringFlag{
			Name:  "cache-backend",
			Usage: "Build cache backend: fs, s3 or none",
		},
		&cli.StringFlag{
			Name:  "cache-path",
			Usage: "Build cache location (fs: directory, s3: bucket/prefix)",
		},
		&cli.DurationFlag{
			Name:  "wait-timeout",
			Usage: "Give up waiting on another runner after this long (0 waits forever)",
		},
		&cli.BoolFlag{
			Name:  "no-banners",
			Usage: "Do not print a banner when a task's output starts",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Suppress the run summary",
		},
		&cli.BoolFlag{
			Name:  "metrics",
			Usage: "Include run metrics in the summary",
		},
		&cli.StringFlag{
			Name:  "record",
			Usage: "Record collated output to this file (see replay)",
		},
	)

	return &cli.Command{
		Name:      "exec",
		Usage:     "Run configured tasks with collated output and cobuild coordination",
		ArgsUsage: "[task...]",
		Flags:     flags,
		Action:    execAction,
	}
}

func execAction(c *cli.Context) error {
	format, err := render.ParseFormat(c.String("format"))
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}
	if format == "" {
		format = render.FormatTable
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}
	tasks, err := selectTasks(cfg, c.Args().Slice())
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}
	logger, err := newLogger(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}
	defer iox.DiscardErr(logger.Sync)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := cfg.Cache.Backend
	if backend == "" {
		backend = "none"
	}
	collector := metrics.NewCollector(cfg.ContextID, cfg.RunnerID, backend)

	cache, err := buildCache(ctx, cfg, logger, collector)
	if err != nil {
		return cli.Exit(fmt.Sprintf("build cache: %v", err), exitSetupError)
	}
	provider, err := buildProvider(cfg, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}
	notifier, err := buildNotifier(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("notifier: %v", err), exitSetupError)
	}
	if notifier != nil {
		defer closeQuietly(logger, "notifier", notifier)
	}

	stream, transform := outputSink(c, cfg)
	var dest terminal.Destination = transform

	var recorder *ipc.Recorder
	if path := c.String("record"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("record: %v", err), exitSetupError)
		}
		recorder, err = ipc.NewRecorder(f, dest, ipc.RecorderOptions{
			ContextID: cfg.ContextID,
			RunnerID:  cfg.RunnerID,
		})
		if err != nil {
			iox.DiscardClose(f)
			return cli.Exit(fmt.Sprintf("record: %v", err), exitSetupError)
		}
		dest = recorder
	}

	sugar := logger.Sugar()
	r, err := runner.New(runner.Options{
		Destination:   dest,
		Parallelism:   cfg.Parallelism,
		Executor:      runner.ShellExecutor{Shell: cfg.Shell},
		Provider:      provider,
		ContextID:     cfg.ContextID,
		RunnerID:      cfg.RunnerID,
		LockTTL:       cfg.Cobuild.LockTTL.Duration,
		RenewInterval: cfg.Cobuild.RenewInterval.Duration,
		PollInterval:  cfg.Cobuild.PollInterval.Duration,
		WaitTimeout:   cfg.Cobuild.WaitTimeout.Duration,
		Cache:         cache,
		Notifier:      notifier,
		Banners:       !cfg.Output.NoBanners,
		NoColor:       cfg.Output.NoColor,
		OnStatus: func(task string, status types.OperationStatus) {
			sugar.Infof("%s: %s", task, status)
		},
		Logger:  logger,
		Metrics: collector,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}

	report, runErr := r.Run(ctx, tasks)

	if err := transform.Flush(); err != nil {
		logger.Warn("writing task output failed", map[string]any{"error": err.Error()})
	}
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			logger.Error("recording incomplete", map[string]any{"error": err.Error()})
		}
	}
	if runErr != nil {
		return cli.Exit(runErr.Error(), exitSetupError)
	}
	if err := stream.Err(); err != nil {
		logger.Warn("writing task output failed", map[string]any{"error": err.Error()})
	}

	if !c.Bool("quiet") {
		resp := ExecResponse{Summary: report.Summary(), Results: report.Results}
		if c.Bool("metrics") {
			snap := collector.Snapshot()
			resp.Metrics = &snap
		}
		if err := renderExec(render.NewRendererWithWriter(format, cfg.Output.NoColor, c.App.ErrWriter), resp); err != nil {
			logger.Warn("rendering summary failed", map[string]any{"error": err.Error()})
		}
	}

	if report.Failed() {
		return cli.Exit("", exitTaskFailure)
	}
	return nil
}

// renderExec writes the summary. Tables cannot nest, so table output is
// rendered section by section.
func renderExec(r *render.Renderer, resp ExecResponse) error {
	if r.Format() != render.FormatTable {
		return r.Render(resp)
	}
	if err := r.Render(resp.Results); err != nil {
		return err
	}
	if err := r.Render(resp.Summary); err != nil {
		return err
	}
	if resp.Metrics != nil {
		return r.Render(resp.Metrics)
	}
	return nil
}
