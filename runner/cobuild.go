package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/cobuild/buildcache"
	"github.com/pithecene-io/cobuild/cobuild"
	"github.com/pithecene-io/cobuild/types"
)

// coordinate runs j through its lock: restore, execute, or wait.
func (r *Runner) coordinate(ctx context.Context, j job) Result {
	var deadline time.Time
	if r.opts.WaitTimeout > 0 {
		deadline = r.opts.Now().Add(r.opts.WaitTimeout)
	}
	waiting := false

	for {
		state, err := j.lock.GetCompletedState(ctx)
		if err != nil {
			return r.lockFailure(j, err)
		}
		if state != nil {
			if res, ok := r.restore(ctx, j, state); ok {
				return res
			}
			// Nothing to restore. Rebuild under the lock so the winner
			// caches the output again.
		}

		acquired, err := j.lock.TryAcquire(ctx)
		if err != nil {
			return r.lockFailure(j, err)
		}
		if acquired {
			return r.executeLocked(ctx, j)
		}

		if !waiting {
			waiting = true
			r.status(j.task.Name, types.StatusRemoteExecuting)
			r.opts.Logger.Info("task executing on another runner", map[string]any{
				"task":     j.task.Name,
				"lock_key": j.lock.Context().LockKey,
			})
		}
		if !deadline.IsZero() && !r.opts.Now().Before(deadline) {
			return r.lockFailure(j, fmt.Errorf("%w: %s", ErrWaitTimeout, j.lock.Context().Describe()))
		}

		select {
		case <-ctx.Done():
			return r.lockFailure(j, ctx.Err())
		case <-time.After(r.opts.PollInterval):
		}
	}
}

// executeLocked runs the task while holding its lock, caches the output
// and publishes the completed state.
func (r *Runner) executeLocked(ctx context.Context, j job) Result {
	renewer := cobuild.StartRenewer(ctx, j.lock, r.opts.RenewInterval)
	res := r.execute(ctx, j)
	renewErr := renewer.Stop()

	select {
	case <-renewer.Lost():
		r.opts.Logger.Warn("cobuild lock expired during execution", map[string]any{
			"task":  j.task.Name,
			"error": fmt.Sprint(renewErr),
		})
	default:
	}

	cacheID := j.lock.Context().CacheID
	if res.Status == types.StatusFailure {
		cacheID = j.lock.FailedCacheID()
	}
	res.CacheID = cacheID

	// The outcome is published even when ctx is canceled.
	pubCtx := context.WithoutCancel(ctx)

	if r.opts.Cache != nil {
		err := r.opts.Cache.Put(pubCtx, buildcache.Entry{
			CacheID:   cacheID,
			ContextID: j.lock.Context().ContextID,
			TaskName:  j.task.Name,
			Chunks:    j.out.Captured(),
		})
		if err != nil {
			res.warn("output not cached: " + err.Error())
		}
	}

	state := cobuild.CompletedState{Status: res.Status, CacheID: cacheID}
	if err := j.lock.SetCompletedState(pubCtx, state); err != nil {
		r.opts.Logger.Error("publishing completed state failed", map[string]any{
			"task":  j.task.Name,
			"error": err.Error(),
		})
		res.warn("completed state not published: " + err.Error())
	}
	return res
}

// restore replays a cached entry for state. ok is false when nothing
// could be restored.
func (r *Runner) restore(ctx context.Context, j job, state *cobuild.CompletedState) (Result, bool) {
	if r.opts.Cache == nil {
		r.opts.Metrics.IncCacheMiss()
		return Result{}, false
	}

	entry, err := r.opts.Cache.Get(ctx, state.CacheID)
	if err != nil {
		r.opts.Metrics.IncCacheMiss()
		if !errors.Is(err, buildcache.ErrNotFound) {
			r.opts.Logger.Warn("build cache read failed", map[string]any{
				"task":     j.task.Name,
				"cache_id": state.CacheID,
				"error":    err.Error(),
			})
		}
		return Result{}, false
	}

	for _, chunk := range entry.Chunks {
		if err := j.out.WriteChunk(chunk); err != nil {
			res := Result{CacheID: state.CacheID, Restored: true, Recorded: state.Status}
			res.fail(fmt.Errorf("replaying cached output: %w", err))
			return res, true
		}
	}
	r.opts.Metrics.IncCacheRestore()

	res := Result{
		Status:   types.StatusFromCache,
		Recorded: state.Status,
		CacheID:  state.CacheID,
		Restored: true,
	}
	if state.Status == types.StatusFailure {
		res.Status = types.StatusFailure
		res.Error = "failed on another runner"
	}
	return res, true
}

// lockFailure reports a task that could not be coordinated.
func (r *Runner) lockFailure(j job, err error) Result {
	_ = j.out.Terminal().WriteStderrLine("cobuild: " + err.Error())
	res := Result{ExitCode: -1}
	res.fail(err)
	return res
}
