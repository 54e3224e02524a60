package terminal

import (
	"fmt"
	"io"
	"sync"
)

// StreamSink writes stdout chunks to one writer and stderr chunks to another.
//
// The first write error is sticky: it is returned from every later
// WriteChunk call and from Err, and no further output is attempted.
type StreamSink struct {
	stdout io.Writer
	stderr io.Writer

	mu  sync.Mutex
	err error
}

// NewStreamSink returns a sink over the given writers. A nil stderr
// sends everything to stdout.
func NewStreamSink(stdout, stderr io.Writer) *StreamSink {
	if stderr == nil {
		stderr = stdout
	}
	return &StreamSink{stdout: stdout, stderr: stderr}
}

// WriteChunk writes chunk to the writer matching its kind.
func (s *StreamSink) WriteChunk(chunk Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	var w io.Writer
	switch chunk.Kind {
	case KindStdout:
		w = s.stdout
	case KindStderr:
		w = s.stderr
	default:
		return fmt.Errorf("terminal: unknown chunk kind %q", string(chunk.Kind))
	}

	if _, err := io.WriteString(w, chunk.Text); err != nil {
		s.err = fmt.Errorf("terminal: write %s: %w", chunk.Kind, err)
		return s.err
	}
	return nil
}

// Err returns the sticky write error, if any.
func (s *StreamSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
