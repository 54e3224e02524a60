package terminal

import (
	"strings"
	"sync"
)

// BufferSink records every chunk in memory. Safe for concurrent use.
type BufferSink struct {
	mu     sync.Mutex
	chunks []Chunk
}

// NewBufferSink returns an empty BufferSink.
func NewBufferSink() *BufferSink {
	return &BufferSink{}
}

// WriteChunk appends chunk. Never fails.
func (b *BufferSink) WriteChunk(chunk Chunk) error {
	b.mu.Lock()
	b.chunks = append(b.chunks, chunk)
	b.mu.Unlock()
	return nil
}

// Chunks returns a copy of the recorded chunks in write order.
func (b *BufferSink) Chunks() []Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Chunk, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// AllOutput returns the concatenated text of every chunk.
func (b *BufferSink) AllOutput() string {
	return b.collect(func(Chunk) bool { return true })
}

// Stdout returns the concatenated text of stdout chunks.
func (b *BufferSink) Stdout() string {
	return b.collect(func(c Chunk) bool { return c.Kind == KindStdout })
}

// Stderr returns the concatenated text of stderr chunks.
func (b *BufferSink) Stderr() string {
	return b.collect(func(c Chunk) bool { return c.Kind == KindStderr })
}

// Reset discards the recorded chunks.
func (b *BufferSink) Reset() {
	b.mu.Lock()
	b.chunks = nil
	b.mu.Unlock()
}

func (b *BufferSink) collect(keep func(Chunk) bool) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var sb strings.Builder
	for _, c := range b.chunks {
		if keep(c) {
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}
