// Package buildcache stores task output by cache id so that a runner can
// restore the output of a task another runner already executed.
//
// Entries live in a Lode dataset with a Hive layout on cache_id. Each Put
// writes one snapshot holding an entry record and one record per chunk;
// the newest snapshot for a cache id wins.
package buildcache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/cobuild/log"
	"github.com/pithecene-io/cobuild/metrics"
	"github.com/pithecene-io/cobuild/terminal"
)

// DefaultDataset is the Lode dataset id for cache entries.
const DefaultDataset = "cobuild-cache"

const (
	recordKindEntry = "entry"
	recordKindChunk = "chunk"
)

// Entry is the cached output of one task execution.
type Entry struct {
	CacheID   string
	ContextID string
	TaskName  string
	WrittenAt time.Time
	Chunks    []terminal.Chunk
}

// Options configure a Cache.
type Options struct {
	// Dataset defaults to DefaultDataset.
	Dataset string
	// Backend labels the store in logs ("fs", "s3", "memory").
	Backend string
	Logger  *log.Logger
	Metrics *metrics.Collector
	Now     func() time.Time
}

// Cache reads and writes entries.
type Cache struct {
	dataset lode.Dataset
	backend string
	logger  *log.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// New creates a cache over the store produced by factory.
func New(factory lode.StoreFactory, opts Options) (*Cache, error) {
	if opts.Dataset == "" {
		opts.Dataset = DefaultDataset
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ds, err := lode.NewDataset(
		lode.DatasetID(opts.Dataset),
		factory,
		lode.WithHiveLayout("cache_id"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, wrapStorageError("init", opts.Dataset, err)
	}

	return &Cache{
		dataset: ds,
		backend: opts.Backend,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}, nil
}

// Backend returns the store label.
func (c *Cache) Backend() string {
	return c.backend
}

// ValidateCacheID reports whether id can be used as a cache key.
func ValidateCacheID(id string) error {
	if id == "" || strings.ContainsAny(id, "/=\\") || strings.TrimSpace(id) != id {
		return fmt.Errorf("%w: %q", ErrInvalidCacheID, id)
	}
	return nil
}

// Put stores e. Chunk order is preserved.
func (c *Cache) Put(ctx context.Context, e Entry) error {
	if err := ValidateCacheID(e.CacheID); err != nil {
		c.metrics.IncCacheWriteFailure()
		return err
	}
	writtenAt := e.WrittenAt
	if writtenAt.IsZero() {
		writtenAt = c.now()
	}

	records := make([]any, 0, len(e.Chunks)+1)
	records = append(records, map[string]any{
		"record_kind": recordKindEntry,
		"cache_id":    e.CacheID,
		"context_id":  e.ContextID,
		"task":        e.TaskName,
		"chunk_count": len(e.Chunks),
		"written_at":  writtenAt.UTC().Format(time.RFC3339Nano),
	})
	for i, chunk := range e.Chunks {
		records = append(records, map[string]any{
			"record_kind": recordKindChunk,
			"cache_id":    e.CacheID,
			"seq":         i,
			"kind":        string(chunk.Kind),
			"text":        chunk.Text,
		})
	}

	if _, err := c.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		c.metrics.IncCacheWriteFailure()
		werr := wrapStorageError("write", "cache_id="+e.CacheID, err)
		c.logger.Warn("build cache write failed", map[string]any{
			"cache_id": e.CacheID,
			"backend":  c.backend,
			"error":    werr.Error(),
		})
		return werr
	}

	c.metrics.IncCacheWrite()
	c.logger.Debug("build cache entry written", map[string]any{
		"cache_id": e.CacheID,
		"chunks":   len(e.Chunks),
		"backend":  c.backend,
	})
	return nil
}

// Get returns the newest entry for cacheID, or ErrNotFound.
func (c *Cache) Get(ctx context.Context, cacheID string) (*Entry, error) {
	if err := ValidateCacheID(cacheID); err != nil {
		return nil, err
	}

	snapshots, err := c.dataset.Snapshots(ctx)
	if err != nil {
		return nil, wrapStorageError("list", c.backend, err)
	}

	// Snapshots are listed oldest first; walk back from the newest.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotHasPartition(snap, "cache_id", cacheID) {
			continue
		}

		data, err := c.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrapStorageError("read", fmt.Sprintf("snapshot/%s", snap.ID), err)
		}
		if e, ok := decodeEntry(data, cacheID); ok {
			return e, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, cacheID)
}

type seqChunk struct {
	seq   int64
	chunk terminal.Chunk
}

// decodeEntry rebuilds an entry from one snapshot's records. It reports
// false when the snapshot holds no complete entry for cacheID.
func decodeEntry(data []any, cacheID string) (*Entry, bool) {
	var entry *Entry
	want := int64(-1)
	var chunks []seqChunk

	for _, item := range data {
		record, ok := item.(map[string]any)
		if !ok || toString(record["cache_id"]) != cacheID {
			continue
		}
		switch toString(record["record_kind"]) {
		case recordKindEntry:
			entry = &Entry{
				CacheID:   cacheID,
				ContextID: toString(record["context_id"]),
				TaskName:  toString(record["task"]),
			}
			if ts, err := time.Parse(time.RFC3339Nano, toString(record["written_at"])); err == nil {
				entry.WrittenAt = ts
			}
			want = toInt64(record["chunk_count"])
		case recordKindChunk:
			chunks = append(chunks, seqChunk{
				seq: toInt64(record["seq"]),
				chunk: terminal.Chunk{
					Text: toString(record["text"]),
					Kind: terminal.ChunkKind(toString(record["kind"])),
				},
			})
		}
	}

	if entry == nil || int64(len(chunks)) != want {
		return nil, false
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].seq < chunks[j].seq })
	entry.Chunks = make([]terminal.Chunk, len(chunks))
	for i, sc := range chunks {
		entry.Chunks[i] = sc.chunk
	}
	return entry, true
}

// snapshotHasPartition checks for an exact key=value path segment, so
// cache_id=a never matches cache_id=ab.
func snapshotHasPartition(snap *lode.DatasetSnapshot, key, value string) bool {
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		for _, part := range strings.Split(f.Path, "/") {
			if part == segment {
				return true
			}
		}
	}
	return false
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// toInt64 handles the numeric types JSON decoding may produce.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return -1
	}
}
