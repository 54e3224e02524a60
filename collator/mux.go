package collator

import (
	"io"
	"sync"

	"github.com/pithecene-io/cobuild/terminal"
)

// Mux is a goroutine-safe front for a StreamCollator.
//
// Every registration, write and close is serialized by one mutex, so the
// collator still sees a single stream of calls. OnWriterActive runs while
// that mutex is held: it must not call back into the Mux or any TaskOutput.
type Mux struct {
	mu       sync.Mutex
	collator *StreamCollator
}

// NewMux creates a collator from opts and wraps it.
func NewMux(opts Options) *Mux {
	return &Mux{collator: New(opts)}
}

// Register creates the output for taskName. If capture is true the output
// keeps a copy of every chunk written to it (see TaskOutput.Captured).
func (m *Mux) Register(taskName string, capture bool) (*TaskOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, err := m.collator.RegisterTask(taskName)
	if err != nil {
		return nil, err
	}
	return &TaskOutput{mux: m, writer: w, capture: capture}, nil
}

// ActiveTaskName returns the task currently owning the destination, or "".
func (m *Mux) ActiveTaskName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collator.ActiveTaskName()
}

// WriteStdoutLine writes a line straight to the destination, bypassing
// arbitration. Intended for summaries printed after all tasks closed.
func (m *Mux) WriteStdoutLine(message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collator.Terminal().WriteStdoutLine(message)
}

// TaskOutput is the goroutine-safe handle one task writes its output to.
type TaskOutput struct {
	mux    *Mux
	writer *CollatedWriter

	capture     bool
	captured    []terminal.Chunk
	wroteStderr bool
}

// TaskName returns the registered task name.
func (o *TaskOutput) TaskName() string {
	return o.writer.TaskName()
}

// WriteChunk writes chunk through the collator.
func (o *TaskOutput) WriteChunk(chunk terminal.Chunk) error {
	o.mux.mu.Lock()
	defer o.mux.mu.Unlock()

	if err := o.writer.WriteChunk(chunk); err != nil {
		return err
	}
	if chunk.Kind == terminal.KindStderr {
		o.wroteStderr = true
	}
	if o.capture {
		o.captured = append(o.captured, chunk)
	}
	return nil
}

// Terminal returns a line-oriented terminal over this output.
func (o *TaskOutput) Terminal() *terminal.CollatedTerminal {
	return terminal.NewCollatedTerminal(o)
}

// Stdout returns an io.Writer producing stdout chunks.
func (o *TaskOutput) Stdout() io.Writer {
	return streamWriter{output: o, kind: terminal.KindStdout}
}

// Stderr returns an io.Writer producing stderr chunks.
func (o *TaskOutput) Stderr() io.Writer {
	return streamWriter{output: o, kind: terminal.KindStderr}
}

// Close closes the underlying writer.
func (o *TaskOutput) Close() error {
	o.mux.mu.Lock()
	defer o.mux.mu.Unlock()
	return o.writer.Close()
}

// IsActive reports whether the task currently owns the destination.
func (o *TaskOutput) IsActive() bool {
	o.mux.mu.Lock()
	defer o.mux.mu.Unlock()
	return o.writer.IsActive()
}

// WroteStderr reports whether any stderr chunk was accepted.
func (o *TaskOutput) WroteStderr() bool {
	o.mux.mu.Lock()
	defer o.mux.mu.Unlock()
	return o.wroteStderr
}

// Captured returns a copy of every chunk accepted so far. Empty unless the
// output was registered with capture enabled.
func (o *TaskOutput) Captured() []terminal.Chunk {
	o.mux.mu.Lock()
	defer o.mux.mu.Unlock()
	out := make([]terminal.Chunk, len(o.captured))
	copy(out, o.captured)
	return out
}

type streamWriter struct {
	output *TaskOutput
	kind   terminal.ChunkKind
}

func (s streamWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := s.output.WriteChunk(terminal.Chunk{Text: string(p), Kind: s.kind}); err != nil {
		return 0, err
	}
	return len(p), nil
}
