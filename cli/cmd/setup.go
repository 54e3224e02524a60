package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/cobuild/buildcache"
	"github.com/pithecene-io/cobuild/cli/config"
	"github.com/pithecene-io/cobuild/cobuild"
	cobuildredis "github.com/pithecene-io/cobuild/cobuild/redis"
	"github.com/pithecene-io/cobuild/iox"
	"github.com/pithecene-io/cobuild/log"
	"github.com/pithecene-io/cobuild/metrics"
	"github.com/pithecene-io/cobuild/notify"
	notifyredis "github.com/pithecene-io/cobuild/notify/redis"
	"github.com/pithecene-io/cobuild/notify/webhook"
	"github.com/pithecene-io/cobuild/runner"
	"github.com/pithecene-io/cobuild/terminal"
)

// loadConfig reads the config file and applies environment and flag
// overrides, then defaults and validation. A missing file is an error
// only when --config was given explicitly.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")

	cfg, err := config.Load(path)
	if err != nil {
		if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) || c.IsSet("config") {
			return nil, err
		}
		cfg = &config.Config{}
	}

	cfg.ApplyEnv()
	applyFlagOverrides(c, cfg)
	cfg.ApplyDefaults()
	if cfg.RunnerID == "" {
		cfg.RunnerID = uuid.New().String()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func applyFlagOverrides(c *cli.Context, cfg *config.Config) {
	if v := c.String("context-id"); c.IsSet("context-id") && v != "" {
		cfg.ContextID = v
	}
	if v := c.String("runner-id"); c.IsSet("runner-id") && v != "" {
		cfg.RunnerID = v
	}
	if c.IsSet("redis-url") {
		cfg.Cobuild.Redis.URL = c.String("redis-url")
	}
	if c.IsSet("parallelism") {
		cfg.Parallelism = c.Int("parallelism")
	}
	if c.IsSet("cache-backend") {
		cfg.Cache.Backend = c.String("cache-backend")
	}
	if c.IsSet("cache-path") {
		cfg.Cache.Path = c.String("cache-path")
	}
	if c.IsSet("wait-timeout") {
		cfg.Cobuild.WaitTimeout.Duration = c.Duration("wait-timeout")
	}
	if c.Bool("no-banners") {
		cfg.Output.NoBanners = true
	}
	if c.Bool("no-color") {
		cfg.Output.NoColor = true
	}
}

func newLogger(c *cli.Context, cfg *config.Config) (*log.Logger, error) {
	level, err := log.ParseLevel(c.String("log-level"))
	if err != nil {
		return nil, err
	}
	return log.NewLoggerWithWriter(log.Identity{
		ContextID: cfg.ContextID,
		RunnerID:  cfg.RunnerID,
	}, c.App.ErrWriter, level), nil
}

// buildProvider returns nil when cobuilds are disabled.
func buildProvider(cfg *config.Config, logger *log.Logger) (cobuild.LockProvider, error) {
	if !cfg.CobuildEnabled() {
		return nil, nil
	}
	rc := cfg.Cobuild.Redis
	retries := 0
	if rc.ConnectRetries != nil {
		retries = *rc.ConnectRetries
		if retries == 0 {
			retries = cobuildredis.NoRetries
		}
	}
	p, err := cobuildredis.New(cobuildredis.Config{
		URL:            rc.URL,
		PasswordEnvVar: rc.PasswordEnv,
		ConnectRetries: retries,
		Timeout:        rc.Timeout.Duration,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// buildCache returns nil when no cache backend is configured.
func buildCache(ctx context.Context, cfg *config.Config, logger *log.Logger, m *metrics.Collector) (*buildcache.Cache, error) {
	opts := buildcache.Options{
		Dataset: cfg.Cache.Dataset,
		Logger:  logger,
		Metrics: m,
	}
	switch cfg.Cache.Backend {
	case "", "none":
		return nil, nil
	case buildcache.BackendFS:
		return buildcache.NewFS(cfg.Cache.Path, opts)
	case buildcache.BackendS3:
		bucket, prefix := buildcache.ParseS3Path(cfg.Cache.Path)
		return buildcache.NewS3(ctx, buildcache.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Cache.Region,
			Endpoint:     cfg.Cache.Endpoint,
			UsePathStyle: cfg.Cache.S3PathStyle,
		}, opts)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// buildNotifier returns nil when notifications are disabled. Several
// notifiers are fanned out through notify.Multi.
func buildNotifier(cfg *config.Config) (notify.Notifier, error) {
	var all notify.Multi
	for _, n := range cfg.Notify {
		nt, err := newNotifier(n)
		if err != nil {
			iox.DiscardClose(all)
			return nil, err
		}
		all = append(all, nt)
	}
	switch len(all) {
	case 0:
		return nil, nil
	case 1:
		return all[0], nil
	default:
		return all, nil
	}
}

func newNotifier(n config.NotifyConfig) (notify.Notifier, error) {
	switch n.Type {
	case "webhook":
		retries := webhook.DefaultRetries
		if n.Retries != nil {
			retries = *n.Retries
		}
		return webhook.New(webhook.Config{
			URL:     n.URL,
			Headers: n.Headers,
			Timeout: n.Timeout.Duration,
			Retries: retries,
		})
	case "redis":
		retries := notifyredis.DefaultRetries
		if n.Retries != nil {
			retries = *n.Retries
		}
		return notifyredis.New(notifyredis.Config{
			URL:     n.URL,
			Channel: n.Channel,
			Timeout: n.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown notify type %q", n.Type)
	}
}

// outputSink writes chunks to the command's writers after the configured
// newline and color transforms. Flush the TransformSink when output ends.
func outputSink(c *cli.Context, cfg *config.Config) (*terminal.StreamSink, *terminal.TransformSink) {
	stream := terminal.NewStreamSink(c.App.Writer, c.App.ErrWriter)
	opts := terminal.TransformOptions{RemoveColors: cfg.Output.StripColors || cfg.Output.NoColor}
	switch cfg.Output.Newlines {
	case "lf":
		opts.Newlines = terminal.NewlineLF
	case "crlf":
		opts.Newlines = terminal.NewlineCRLF
	default:
		opts.Newlines = terminal.NewlinePreserve
	}
	return stream, terminal.NewTransformSink(stream, opts)
}

// selectTasks converts configured tasks, keeping only the named ones
// when names are given.
func selectTasks(cfg *config.Config, names []string) ([]runner.Task, error) {
	byName := make(map[string]config.TaskConfig, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		byName[t.Name] = t
	}

	var selected []config.TaskConfig
	if len(names) == 0 {
		selected = cfg.Tasks
	} else {
		for _, name := range names {
			t, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("unknown task %q", name)
			}
			selected = append(selected, t)
		}
	}
	if len(selected) == 0 {
		return nil, errors.New("no tasks configured")
	}

	tasks := make([]runner.Task, 0, len(selected))
	for _, t := range selected {
		tasks = append(tasks, runner.Task{
			Name:      t.Name,
			Command:   t.Command,
			Dir:       t.Dir,
			Env:       t.Env,
			Package:   t.Package,
			Phase:     t.Phase,
			ClusterID: t.ClusterID,
			CacheID:   t.CacheID,
			NoCobuild: t.NoCobuild,
		})
	}
	return tasks, nil
}

func closeQuietly(logger *log.Logger, what string, c io.Closer) {
	iox.CloseWith(c, func(err error) {
		logger.Warn("close failed", map[string]any{"resource": what, "error": err.Error()})
	})
}
