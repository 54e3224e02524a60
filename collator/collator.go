// Package collator serializes the output of concurrently running tasks into
// a single destination, one task at a time.
//
// The first task to produce output becomes active and writes straight
// through. Everyone else is buffered. When the active task closes, tasks
// that already finished while buffered are flushed in the order they
// closed, then one still-running buffered task takes over. No output is
// dropped and, for a fixed arrival order of writes and closes, the result
// is deterministic.
package collator

import (
	"fmt"

	"github.com/pithecene-io/cobuild/terminal"
)

// Options configures a StreamCollator.
type Options struct {
	// Destination receives all collated output (required).
	Destination terminal.Destination
	// OnWriterActive is called each time a writer becomes active, before its
	// buffered output is flushed. It may write to the collator's Terminal but
	// must not write to or close any CollatedWriter.
	OnWriterActive func(w *CollatedWriter)
}

// StreamCollator arbitrates which registered writer owns the destination.
//
// A StreamCollator is not safe for concurrent use. Hosts that write from
// several goroutines go through a Mux.
type StreamCollator struct {
	destination    terminal.Destination
	onWriterActive func(w *CollatedWriter)
	terminal       *terminal.CollatedTerminal

	writers map[string]*CollatedWriter
	order   []*CollatedWriter

	activeWriter *CollatedWriter
	// Insertion-ordered; writers with pending output that are still open.
	openBuffered []*CollatedWriter
	// Insertion-ordered; writers with pending output that closed before
	// their turn.
	closedBuffered []*CollatedWriter

	dispatching bool
}

// New creates a collator. It panics if Destination is nil.
func New(opts Options) *StreamCollator {
	if opts.Destination == nil {
		panic("collator: Options.Destination is required")
	}
	return &StreamCollator{
		destination:    opts.Destination,
		onWriterActive: opts.OnWriterActive,
		terminal:       terminal.NewCollatedTerminal(opts.Destination),
		writers:        make(map[string]*CollatedWriter),
	}
}

// Terminal returns a terminal writing straight to the destination,
// bypassing arbitration. Intended for banners and summaries.
func (c *StreamCollator) Terminal() *terminal.CollatedTerminal {
	return c.terminal
}

// RegisterTask creates the writer for taskName.
func (c *StreamCollator) RegisterTask(taskName string) (*CollatedWriter, error) {
	if _, exists := c.writers[taskName]; exists {
		return nil, fmt.Errorf("register %q: %w", taskName, ErrDuplicateTask)
	}
	w := newCollatedWriter(taskName, c)
	c.writers[taskName] = w
	c.order = append(c.order, w)
	return w, nil
}

// Writers returns the registered writers in registration order.
func (c *StreamCollator) Writers() []*CollatedWriter {
	out := make([]*CollatedWriter, len(c.order))
	copy(out, c.order)
	return out
}

// Writer returns the writer registered under taskName, if any.
func (c *StreamCollator) Writer(taskName string) (*CollatedWriter, bool) {
	w, ok := c.writers[taskName]
	return w, ok
}

// ActiveWriter returns the active writer, or nil.
func (c *StreamCollator) ActiveWriter() *CollatedWriter {
	return c.activeWriter
}

// ActiveTaskName returns the active writer's task name, or "".
func (c *StreamCollator) ActiveTaskName() string {
	if c.activeWriter == nil {
		return ""
	}
	return c.activeWriter.taskName
}

func (c *StreamCollator) writerWriteChunk(w *CollatedWriter, chunk terminal.Chunk) error {
	c.checkNotDispatching("write chunk")

	var err error
	if c.activeWriter == nil {
		err = c.assignActiveWriter(w)
	}

	if c.activeWriter == w {
		if werr := c.destination.WriteChunk(chunk); werr != nil && err == nil {
			err = werr
		}
		return err
	}

	if len(w.buffered) == 0 {
		c.openBuffered = appendUnique(c.openBuffered, w)
	}
	w.buffered = append(w.buffered, chunk)
	return err
}

func (c *StreamCollator) writerClose(w *CollatedWriter) error {
	c.checkNotDispatching("close")

	if c.activeWriter != w {
		if len(w.buffered) > 0 {
			c.openBuffered = remove(c.openBuffered, w)
			c.closedBuffered = appendUnique(c.closedBuffered, w)
		}
		return nil
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(w.flushBufferedChunks())
	c.activeWriter = nil

	// Finished waiters drain before anyone still running.
	waiting := c.closedBuffered
	c.closedBuffered = nil
	for _, finished := range waiting {
		keep(c.assignActiveWriter(finished))
		c.activeWriter = nil
	}

	if len(c.openBuffered) > 0 {
		keep(c.assignActiveWriter(c.openBuffered[0]))
	}

	return firstErr
}

func (c *StreamCollator) assignActiveWriter(w *CollatedWriter) error {
	c.activeWriter = w
	c.openBuffered = remove(c.openBuffered, w)

	if c.onWriterActive != nil {
		c.invokeOnWriterActive(w)
	}

	return w.flushBufferedChunks()
}

func (c *StreamCollator) invokeOnWriterActive(w *CollatedWriter) {
	c.dispatching = true
	defer func() { c.dispatching = false }()
	c.onWriterActive(w)
}

func (c *StreamCollator) checkNotDispatching(op string) {
	if c.dispatching {
		panic(&InternalError{Op: op, Err: ErrReentrantDispatch})
	}
}

func appendUnique(list []*CollatedWriter, w *CollatedWriter) []*CollatedWriter {
	for _, existing := range list {
		if existing == w {
			return list
		}
	}
	return append(list, w)
}

func remove(list []*CollatedWriter, w *CollatedWriter) []*CollatedWriter {
	for i, existing := range list {
		if existing == w {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
