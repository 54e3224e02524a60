package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/cobuild/buildcache"
	"github.com/pithecene-io/cobuild/cli/render"
	"github.com/pithecene-io/cobuild/cobuild"
	"github.com/pithecene-io/cobuild/iox"
)

// TaskStatus is one row of the status command.
type TaskStatus struct {
	Task              string `json:"task" yaml:"task"`
	ClusterID         string `json:"cluster_id" yaml:"cluster_id"`
	CacheID           string `json:"cache_id" yaml:"cache_id"`
	LockKey           string `json:"lock_key" yaml:"lock_key"`
	CompletedStateKey string `json:"completed_state_key" yaml:"completed_state_key"`
	// Status is the published completed state, or "" if none.
	Status       string `json:"status" yaml:"status"`
	StateCacheID string `json:"state_cache_id,omitempty" yaml:"state_cache_id,omitempty"`
	// Cached reports whether the state's cache entry exists. Always false
	// without a configured cache.
	Cached bool `json:"cached" yaml:"cached"`
}

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show cobuild keys and published completed states for tasks",
		ArgsUsage: "[task...]",
		Flags:     append(ConfigFlags(), FormatFlag, NoColorFlag),
		Action:    statusAction,
	}
}

func statusAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}
	if !cfg.CobuildEnabled() {
		return cli.Exit("cobuilds are not enabled: set cobuild.redis.url or --redis-url", exitSetupError)
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

	ctx := c.Context
	cache, err := buildCache(ctx, cfg, logger, nil)
	if err != nil {
		return cli.Exit(fmt.Sprintf("build cache: %v", err), exitSetupError)
	}
	provider, err := buildProvider(cfg, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}
	if err := provider.Connect(ctx); err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}
	defer func() { _ = provider.Disconnect(ctx) }()

	rows := make([]TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		cctx, err := cobuild.NewContext(cobuild.ContextOptions{
			ContextID:   cfg.ContextID,
			ClusterID:   t.EffectiveClusterID(),
			CacheID:     t.EffectiveCacheID(),
			RunnerID:    cfg.RunnerID,
			PackageName: t.Package,
			PhaseName:   t.Phase,
		})
		if err != nil {
			return cli.Exit(fmt.Sprintf("task %q: %v", t.Name, err), exitSetupError)
		}
		row := TaskStatus{
			Task:              t.Name,
			ClusterID:         cctx.ClusterID,
			CacheID:           cctx.CacheID,
			LockKey:           cctx.LockKey,
			CompletedStateKey: cctx.CompletedStateKey,
		}

		state, err := cobuild.NewLock(provider, cctx, cobuild.LockOptions{Logger: logger}).GetCompletedState(ctx)
		if err != nil {
			return cli.Exit(err.Error(), exitSetupError)
		}
		if state != nil {
			row.Status = string(state.Status)
			row.StateCacheID = state.CacheID
			if cache != nil {
				_, err := cache.Get(ctx, state.CacheID)
				switch {
				case err == nil:
					row.Cached = true
				case !errors.Is(err, buildcache.ErrNotFound):
					logger.Warn("build cache read failed", map[string]any{"task": t.Name, "error": err.Error()})
				}
			}
		}
		rows = append(rows, row)
	}

	return r.Render(rows)
}
