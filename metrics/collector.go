// Package metrics provides per-invocation counters for cobuild runs.
//
// The Collector accumulates counters while tasks execute. It is a leaf
// package with no internal dependencies.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Tasks
	TasksSucceeded int64 `json:"tasks_succeeded" yaml:"tasks_succeeded"`
	TasksWarned    int64 `json:"tasks_warned" yaml:"tasks_warned"`
	TasksFailed    int64 `json:"tasks_failed" yaml:"tasks_failed"`
	TasksRestored  int64 `json:"tasks_restored" yaml:"tasks_restored"`

	// Locks
	LocksAcquired     int64 `json:"locks_acquired" yaml:"locks_acquired"`
	LocksContended    int64 `json:"locks_contended" yaml:"locks_contended"`
	LockRenewals      int64 `json:"lock_renewals" yaml:"lock_renewals"`
	LockRenewFailures int64 `json:"lock_renew_failures" yaml:"lock_renew_failures"`

	// Completed state
	StatesWritten int64 `json:"states_written" yaml:"states_written"`
	StatesRead    int64 `json:"states_read" yaml:"states_read"`
	StateHits     int64 `json:"state_hits" yaml:"state_hits"`

	// Build cache (per call, not per chunk)
	CacheWrites        int64 `json:"cache_writes" yaml:"cache_writes"`
	CacheWriteFailures int64 `json:"cache_write_failures" yaml:"cache_write_failures"`
	CacheRestores      int64 `json:"cache_restores" yaml:"cache_restores"`
	CacheMisses        int64 `json:"cache_misses" yaml:"cache_misses"`

	// Collator
	WriterActivations   int64 `json:"writer_activations" yaml:"writer_activations"`
	BannerWriteFailures int64 `json:"banner_write_failures" yaml:"banner_write_failures"`

	// Dimensions (informational, set at construction)
	ContextID    string `json:"context_id" yaml:"context_id"`
	RunnerID     string `json:"runner_id" yaml:"runner_id"`
	CacheBackend string `json:"cache_backend" yaml:"cache_backend"`
}

// Collector accumulates counters during a single invocation.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector creates a Collector with dimension labels.
// cacheBackend is empty when no build cache is configured.
func NewCollector(contextID, runnerID, cacheBackend string) *Collector {
	return &Collector{s: Snapshot{
		ContextID:    contextID,
		RunnerID:     runnerID,
		CacheBackend: cacheBackend,
	}}
}

func (c *Collector) inc(counter func(*Snapshot) *int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*counter(&c.s)++
	c.mu.Unlock()
}

// --- Tasks ---

// IncTaskSucceeded records a task that finished with SUCCESS.
func (c *Collector) IncTaskSucceeded() { c.inc(func(s *Snapshot) *int64 { return &s.TasksSucceeded }) }

// IncTaskWarned records a task that finished with SUCCESS_WITH_WARNING.
func (c *Collector) IncTaskWarned() { c.inc(func(s *Snapshot) *int64 { return &s.TasksWarned }) }

// IncTaskFailed records a task that finished with FAILURE.
func (c *Collector) IncTaskFailed() { c.inc(func(s *Snapshot) *int64 { return &s.TasksFailed }) }

// IncTaskRestored records a task whose output came from another runner.
func (c *Collector) IncTaskRestored() { c.inc(func(s *Snapshot) *int64 { return &s.TasksRestored }) }

// --- Locks ---

// IncLockAcquired records a successful lock acquisition.
func (c *Collector) IncLockAcquired() { c.inc(func(s *Snapshot) *int64 { return &s.LocksAcquired }) }

// IncLockContended records an acquisition attempt lost to another runner.
func (c *Collector) IncLockContended() { c.inc(func(s *Snapshot) *int64 { return &s.LocksContended }) }

// IncLockRenewal records a successful renewal.
func (c *Collector) IncLockRenewal() { c.inc(func(s *Snapshot) *int64 { return &s.LockRenewals }) }

// IncLockRenewFailure records a failed renewal.
func (c *Collector) IncLockRenewFailure() {
	c.inc(func(s *Snapshot) *int64 { return &s.LockRenewFailures })
}

// --- Completed state ---

// IncStateWritten records a completed state published.
func (c *Collector) IncStateWritten() { c.inc(func(s *Snapshot) *int64 { return &s.StatesWritten }) }

// IncStateRead records a completed state lookup. hit is true when a state
// was present.
func (c *Collector) IncStateRead(hit bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.StatesRead++
	if hit {
		c.s.StateHits++
	}
	c.mu.Unlock()
}

// --- Build cache ---

// IncCacheWrite records a successful cache write.
func (c *Collector) IncCacheWrite() { c.inc(func(s *Snapshot) *int64 { return &s.CacheWrites }) }

// IncCacheWriteFailure records a failed cache write.
func (c *Collector) IncCacheWriteFailure() {
	c.inc(func(s *Snapshot) *int64 { return &s.CacheWriteFailures })
}

// IncCacheRestore records output restored from the cache.
func (c *Collector) IncCacheRestore() { c.inc(func(s *Snapshot) *int64 { return &s.CacheRestores }) }

// IncCacheMiss records a completed state whose cache entry was absent.
func (c *Collector) IncCacheMiss() { c.inc(func(s *Snapshot) *int64 { return &s.CacheMisses }) }

// --- Collator ---

// IncWriterActivation records a writer becoming active.
func (c *Collector) IncWriterActivation() {
	c.inc(func(s *Snapshot) *int64 { return &s.WriterActivations })
}

// IncBannerWriteFailure records a task banner that could not be written.
func (c *Collector) IncBannerWriteFailure() {
	c.inc(func(s *Snapshot) *int64 { return &s.BannerWriteFailures })
}

// Snapshot returns a point-in-time copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
