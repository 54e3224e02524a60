package cobuild

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Renewer keeps a held lock alive until stopped.
//
// Transient renewal failures are recorded and retried on the next tick.
// ErrLockExpired stops the renewer and closes Lost: the lock may now be
// held by another runner.
type Renewer struct {
	lock     *Lock
	interval time.Duration

	mu      sync.Mutex
	lastErr error

	lostCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// StartRenewer begins renewing lock every interval. A non-positive
// interval uses DefaultRenewInterval. The renewer stops when ctx is done
// or Stop is called.
func StartRenewer(ctx context.Context, lock *Lock, interval time.Duration) *Renewer {
	if interval <= 0 {
		interval = DefaultRenewInterval
	}
	r := &Renewer{
		lock:     lock,
		interval: interval,
		lostCh:   make(chan struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go r.loop(ctx)
	return r
}

func (r *Renewer) loop(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !r.renew(ctx) {
				return
			}
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// renew reports whether the loop should continue.
func (r *Renewer) renew(ctx context.Context) bool {
	err := r.lock.Renew(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		return true
	}

	r.lastErr = err
	fields := r.lock.fields()
	fields["error"] = err.Error()
	if errors.Is(err, ErrLockExpired) {
		close(r.lostCh)
		r.lock.logger.Error("cobuild lock lost", fields)
		return false
	}
	r.lock.logger.Warn("cobuild lock renewal failed", fields)
	return true
}

// Lost is closed when the lock expired under the renewer.
func (r *Renewer) Lost() <-chan struct{} {
	return r.lostCh
}

// Err returns the most recent renewal error.
func (r *Renewer) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Stop halts renewal, waits for the loop to exit and returns the most
// recent renewal error. Safe to call more than once.
func (r *Renewer) Stop() error {
	r.once.Do(func() { close(r.stopCh) })
	<-r.doneCh
	return r.Err()
}
