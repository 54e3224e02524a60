package collator

import (
	"fmt"

	"github.com/pithecene-io/cobuild/terminal"
)

// CollatedWriter is one task's output stream. Whether a chunk reaches the
// destination immediately or is buffered is decided by the owning
// StreamCollator.
type CollatedWriter struct {
	taskName string
	collator *StreamCollator
	terminal *terminal.CollatedTerminal

	buffered []terminal.Chunk
	closed   bool
}

func newCollatedWriter(taskName string, c *StreamCollator) *CollatedWriter {
	w := &CollatedWriter{taskName: taskName, collator: c}
	w.terminal = terminal.NewCollatedTerminal(w)
	return w
}

// TaskName returns the name the writer was registered under.
func (w *CollatedWriter) TaskName() string {
	return w.taskName
}

// Terminal returns a line-oriented terminal writing through this writer.
func (w *CollatedWriter) Terminal() *terminal.CollatedTerminal {
	return w.terminal
}

// IsActive reports whether this writer currently owns the destination.
func (w *CollatedWriter) IsActive() bool {
	return w.collator.activeWriter == w
}

// IsClosed reports whether Close has been called.
func (w *CollatedWriter) IsClosed() bool {
	return w.closed
}

// BufferedChunks returns a copy of the chunks waiting for activation.
func (w *CollatedWriter) BufferedChunks() []terminal.Chunk {
	out := make([]terminal.Chunk, len(w.buffered))
	copy(out, w.buffered)
	return out
}

// WriteChunk writes chunk through the collator.
func (w *CollatedWriter) WriteChunk(chunk terminal.Chunk) error {
	if w.closed {
		return fmt.Errorf("write to %q: %w", w.taskName, ErrWriterClosed)
	}
	return w.collator.writerWriteChunk(w, chunk)
}

// Close marks the writer finished. Pending output is flushed when the
// writer's turn comes.
func (w *CollatedWriter) Close() error {
	w.collator.checkNotDispatching("close")
	if w.closed {
		return fmt.Errorf("close %q: %w", w.taskName, ErrWriterClosed)
	}
	w.closed = true
	return w.collator.writerClose(w)
}

// flushBufferedChunks writes every pending chunk to the destination and
// empties the buffer. Called when the writer becomes active.
func (w *CollatedWriter) flushBufferedChunks() error {
	var firstErr error
	for _, chunk := range w.buffered {
		if err := w.collator.destination.WriteChunk(chunk); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.buffered = nil
	return firstErr
}
