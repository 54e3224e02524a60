package cobuild

import (
	"context"

	"github.com/pithecene-io/cobuild/log"
	"github.com/pithecene-io/cobuild/metrics"
)

// LockOptions configure a Lock. Both fields are optional.
type LockOptions struct {
	Logger  *log.Logger
	Metrics *metrics.Collector
}

// Lock binds a provider to one task's cobuild context.
type Lock struct {
	provider LockProvider
	cctx     *Context
	logger   *log.Logger
	metrics  *metrics.Collector
}

// NewLock creates a Lock for cctx.
func NewLock(provider LockProvider, cctx *Context, opts LockOptions) *Lock {
	return &Lock{
		provider: provider,
		cctx:     cctx,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Context returns the lock's cobuild context.
func (l *Lock) Context() *Context {
	return l.cctx
}

// FailedCacheID returns the cache id for a failed attempt.
func (l *Lock) FailedCacheID() string {
	return l.cctx.FailedCacheID()
}

// TryAcquire attempts to take the lock. A false result with a nil error
// means another runner holds it.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	acquired, err := l.provider.AcquireLock(ctx, l.cctx)
	if err != nil {
		return false, err
	}
	if acquired {
		l.metrics.IncLockAcquired()
		l.logger.Debug("cobuild lock acquired", l.fields())
	} else {
		l.metrics.IncLockContended()
		l.logger.Debug("cobuild lock held by another runner", l.fields())
	}
	return acquired, nil
}

// Renew refreshes the lock TTL.
func (l *Lock) Renew(ctx context.Context) error {
	if err := l.provider.RenewLock(ctx, l.cctx); err != nil {
		l.metrics.IncLockRenewFailure()
		return err
	}
	l.metrics.IncLockRenewal()
	return nil
}

// SetCompletedState validates and publishes state.
func (l *Lock) SetCompletedState(ctx context.Context, state CompletedState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	if err := l.provider.SetCompletedState(ctx, l.cctx, state); err != nil {
		return err
	}
	l.metrics.IncStateWritten()
	fields := l.fields()
	fields["status"] = string(state.Status)
	fields["cache_id"] = state.CacheID
	l.logger.Info("cobuild completed state published", fields)
	return nil
}

// GetCompletedState returns the published state, or nil.
func (l *Lock) GetCompletedState(ctx context.Context) (*CompletedState, error) {
	state, err := l.provider.GetCompletedState(ctx, l.cctx)
	if err != nil {
		return nil, err
	}
	l.metrics.IncStateRead(state != nil)
	return state, nil
}

func (l *Lock) fields() map[string]any {
	return map[string]any{
		"lock_key": l.cctx.LockKey,
		"cluster":  l.cctx.ClusterID,
	}
}
