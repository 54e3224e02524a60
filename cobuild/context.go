// Package cobuild coordinates a cacheable task across build agents that
// share a key-value store.
//
// The agent that wins the lock for a task executes it and publishes a
// completed state; other agents find that state and restore the result
// instead of running the task again. Locks are never released explicitly:
// the holder renews the TTL while it works, and expiry releases the lock
// of a crashed holder.
package cobuild

import (
	"fmt"
	"strings"
	"time"
)

// Key namespaces. Lock and completed-state keys never collide.
const (
	LockKeyPrefix      = "cobuild:lock:"
	CompletedKeyPrefix = "cobuild:completed:"
)

// Lock timing defaults.
const (
	DefaultRenewInterval = 10 * time.Second
	DefaultLockTTL       = 3 * DefaultRenewInterval
)

// ContextOptions are the inputs to NewContext.
type ContextOptions struct {
	// ContextID identifies one cobuild: every agent participating in the
	// same build uses the same id.
	ContextID string
	// ClusterID names the mutually exclusive resource, typically the task.
	ClusterID string
	// CacheID identifies the task's output.
	CacheID string
	// RunnerID identifies this agent.
	RunnerID string

	PackageName string
	PhaseName   string

	// LockTTL defaults to DefaultLockTTL.
	LockTTL time.Duration
}

// Context is the lock context for one task attempt.
type Context struct {
	ContextID   string
	ClusterID   string
	CacheID     string
	RunnerID    string
	PackageName string
	PhaseName   string

	LockKey           string
	CompletedStateKey string
	LockTTL           time.Duration
}

// NewContext validates opts and derives the store keys.
func NewContext(opts ContextOptions) (*Context, error) {
	required := []struct{ name, value string }{
		{"context id", opts.ContextID},
		{"cluster id", opts.ClusterID},
		{"cache id", opts.CacheID},
		{"runner id", opts.RunnerID},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return nil, fmt.Errorf("%w: %s is required", ErrInvalidContext, r.name)
		}
	}
	if opts.LockTTL < 0 {
		return nil, fmt.Errorf("%w: lock ttl must be positive, got %s", ErrInvalidContext, opts.LockTTL)
	}

	ttl := opts.LockTTL
	if ttl == 0 {
		ttl = DefaultLockTTL
	}

	return &Context{
		ContextID:         opts.ContextID,
		ClusterID:         opts.ClusterID,
		CacheID:           opts.CacheID,
		RunnerID:          opts.RunnerID,
		PackageName:       opts.PackageName,
		PhaseName:         opts.PhaseName,
		LockKey:           LockKeyPrefix + opts.ContextID + ":" + opts.ClusterID,
		CompletedStateKey: CompletedKeyPrefix + opts.ContextID + ":" + opts.CacheID,
		LockTTL:           ttl,
	}, nil
}

// Describe returns a human-readable identifier for diagnostics.
func (c *Context) Describe() string {
	var b strings.Builder
	b.WriteString(c.ClusterID)
	if c.PackageName != "" || c.PhaseName != "" {
		b.WriteString(" (")
		b.WriteString(c.PackageName)
		if c.PhaseName != "" {
			if c.PackageName != "" {
				b.WriteString(" ")
			}
			b.WriteString(c.PhaseName)
		}
		b.WriteString(")")
	}
	b.WriteString(" in context ")
	b.WriteString(c.ContextID)
	return b.String()
}

// FailedCacheID is the cache id under which a failed attempt's output is
// stored, so that failures never overwrite a successful entry.
func (c *Context) FailedCacheID() string {
	return c.CacheID + "-" + c.ContextID + "-failed"
}
