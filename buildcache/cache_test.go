package buildcache

import (
	"errors"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/cobuild/metrics"
	"github.com/pithecene-io/cobuild/terminal"
)

func sampleChunks() []terminal.Chunk {
	return []terminal.Chunk{
		{Text: "compiling\n", Kind: terminal.KindStdout},
		{Text: "warning: unused\n", Kind: terminal.KindStderr},
		{Text: "done\n", Kind: terminal.KindStdout},
	}
}

func TestCache_PutGet(t *testing.T) {
	m := metrics.NewCollector("", "", BackendMemory)
	c, err := NewMemory(Options{Metrics: m})
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}

	writtenAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := c.Put(t.Context(), Entry{
		CacheID:   "abc123",
		ContextID: "ctx-1",
		TaskName:  "build",
		WrittenAt: writtenAt,
		Chunks:    sampleChunks(),
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := c.Get(t.Context(), "abc123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CacheID != "abc123" || got.ContextID != "ctx-1" || got.TaskName != "build" {
		t.Errorf("unexpected entry metadata: %+v", got)
	}
	if !got.WrittenAt.Equal(writtenAt) {
		t.Errorf("WrittenAt = %s, want %s", got.WrittenAt, writtenAt)
	}
	want := sampleChunks()
	if len(got.Chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(got.Chunks), len(want))
	}
	for i := range want {
		if got.Chunks[i] != want[i] {
			t.Errorf("chunk %d = %+v, want %+v", i, got.Chunks[i], want[i])
		}
	}
	if m.Snapshot().CacheWrites != 1 {
		t.Errorf("CacheWrites = %d, want 1", m.Snapshot().CacheWrites)
	}
	if c.Backend() != BackendMemory {
		t.Errorf("Backend() = %q", c.Backend())
	}
}

func TestCache_EmptyOutput(t *testing.T) {
	c, _ := NewMemory(Options{})
	if err := c.Put(t.Context(), Entry{CacheID: "silent", TaskName: "noop"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := c.Get(t.Context(), "silent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(got.Chunks))
	}
}

func TestCache_NotFound(t *testing.T) {
	c, _ := NewMemory(Options{})
	if _, err := c.Get(t.Context(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on empty cache, got %v", err)
	}

	_ = c.Put(t.Context(), Entry{CacheID: "abc-10", Chunks: sampleChunks()})
	if _, err := c.Get(t.Context(), "abc-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("prefix of a stored id must not match, got %v", err)
	}
}

func TestCache_LatestWins(t *testing.T) {
	c, _ := NewMemory(Options{})
	first := []terminal.Chunk{{Text: "old\n", Kind: terminal.KindStdout}}
	second := []terminal.Chunk{{Text: "new\n", Kind: terminal.KindStdout}}

	if err := c.Put(t.Context(), Entry{CacheID: "k", Chunks: first}); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(t.Context(), Entry{CacheID: "other", Chunks: first}); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(t.Context(), Entry{CacheID: "k", Chunks: second}); err != nil {
		t.Fatal(err)
	}

	got, err := c.Get(t.Context(), "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Chunks) != 1 || got.Chunks[0].Text != "new\n" {
		t.Errorf("expected newest entry, got %+v", got.Chunks)
	}
}

func TestCache_SharedStore(t *testing.T) {
	store := lode.NewMemory()
	factory := func() (lode.Store, error) { return store, nil }

	writer, err := New(factory, Options{})
	if err != nil {
		t.Fatal(err)
	}
	reader, err := New(factory, Options{})
	if err != nil {
		t.Fatal(err)
	}

	if err := writer.Put(t.Context(), Entry{CacheID: "shared", Chunks: sampleChunks()}); err != nil {
		t.Fatal(err)
	}
	got, err := reader.Get(t.Context(), "shared")
	if err != nil {
		t.Fatalf("Get from second cache: %v", err)
	}
	if len(got.Chunks) != 3 {
		t.Errorf("got %d chunks, want 3", len(got.Chunks))
	}
}

func TestCache_FS(t *testing.T) {
	root := t.TempDir() + "/nested/cache"
	c, err := NewFS(root, Options{})
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	if err := c.Put(t.Context(), Entry{CacheID: "fs-entry", Chunks: sampleChunks()}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	reopened, err := NewFS(root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Get(t.Context(), "fs-entry")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if len(got.Chunks) != 3 {
		t.Errorf("got %d chunks, want 3", len(got.Chunks))
	}
}

func TestCache_InvalidCacheID(t *testing.T) {
	m := metrics.NewCollector("", "", "")
	c, _ := NewMemory(Options{Metrics: m})
	for _, id := range []string{"", "a/b", "a=b", " padded"} {
		if err := c.Put(t.Context(), Entry{CacheID: id}); !errors.Is(err, ErrInvalidCacheID) {
			t.Errorf("Put(%q) = %v, want ErrInvalidCacheID", id, err)
		}
		if _, err := c.Get(t.Context(), id); !errors.Is(err, ErrInvalidCacheID) {
			t.Errorf("Get(%q) = %v, want ErrInvalidCacheID", id, err)
		}
	}
	if m.Snapshot().CacheWriteFailures != 4 {
		t.Errorf("CacheWriteFailures = %d, want 4", m.Snapshot().CacheWriteFailures)
	}
}

func TestNewFS_RequiresRoot(t *testing.T) {
	if _, err := NewFS("", Options{}); err == nil {
		t.Error("expected error for empty root")
	}
}

func TestS3Config(t *testing.T) {
	bucket, prefix := ParseS3Path("builds/cobuild/cache")
	if bucket != "builds" || prefix != "cobuild/cache" {
		t.Errorf("ParseS3Path = %q, %q", bucket, prefix)
	}
	bucket, prefix = ParseS3Path("builds")
	if bucket != "builds" || prefix != "" {
		t.Errorf("ParseS3Path = %q, %q", bucket, prefix)
	}

	cfg := S3Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing bucket")
	}
	if _, err := NewS3(t.Context(), S3Config{}, Options{}); err == nil {
		t.Error("NewS3 should validate config")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{errors.New("AccessDenied: no"), ErrAccessDenied},
		{errors.New("open /x: permission denied"), ErrPermissionDenied},
		{errors.New("write: no space left on device"), ErrDiskFull},
		{errors.New("context deadline exceeded"), ErrTimeout},
		{timeoutErr{}, ErrTimeout},
		{errors.New("SlowDown: please reduce"), ErrThrottled},
		{errors.New("ExpiredToken"), ErrAuth},
		{errors.New("dial tcp 1.2.3.4:443: connection refused"), ErrNetwork},
	}
	for _, tt := range tests {
		err := wrapStorageError("write", "p", tt.err)
		if !errors.Is(err, tt.want) {
			t.Errorf("classify(%q) = %v, want %v", tt.err, err, tt.want)
		}
		if !errors.Is(err, tt.err) {
			t.Errorf("wrapped error should unwrap to %v", tt.err)
		}
	}

	if wrapStorageError("x", "", nil) != nil {
		t.Error("nil error should stay nil")
	}
	var se *StorageError
	if !errors.As(wrapStorageError("read", "", errors.New("weird")), &se) || se.Kind != errUnclassified {
		t.Error("unknown errors should be unclassified")
	}
}
