package terminal

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// NewlineKind selects the newline sequence TransformSink normalizes to.
type NewlineKind string

const (
	// NewlineLF normalizes to "\n".
	NewlineLF NewlineKind = "lf"
	// NewlineCRLF normalizes to "\r\n".
	NewlineCRLF NewlineKind = "crlf"
	// NewlinePreserve leaves newlines untouched.
	NewlinePreserve NewlineKind = ""
)

// TransformOptions configures a TransformSink.
type TransformOptions struct {
	// Newlines selects newline normalization.
	Newlines NewlineKind
	// RemoveColors strips ANSI escape sequences.
	RemoveColors bool
}

// maxHeld bounds how much text TransformSink holds back waiting for the
// rest of an escape sequence.
const maxHeld = 4096

// TransformSink rewrites chunk text before forwarding it.
//
// Process output is split at arbitrary byte boundaries, so a trailing
// "\r" or an unterminated escape sequence is held back per stream until
// the next chunk of the same kind arrives or Flush is called.
type TransformSink struct {
	next Destination
	opts TransformOptions
	held map[ChunkKind]string
}

// NewTransformSink returns a sink that rewrites chunks and forwards them to next.
func NewTransformSink(next Destination, opts TransformOptions) *TransformSink {
	return &TransformSink{next: next, opts: opts, held: make(map[ChunkKind]string)}
}

// WriteChunk transforms chunk.Text and forwards the result.
// Chunks that become empty are dropped.
func (t *TransformSink) WriteChunk(chunk Chunk) error {
	ready, held := t.split(t.held[chunk.Kind] + chunk.Text)
	if held == "" {
		delete(t.held, chunk.Kind)
	} else {
		t.held[chunk.Kind] = held
	}
	return t.forward(chunk.Kind, ready)
}

// Flush forwards held text, stdout first. Call it once the stream ends.
func (t *TransformSink) Flush() error {
	var firstErr error
	for _, kind := range []ChunkKind{KindStdout, KindStderr} {
		text, ok := t.held[kind]
		if !ok {
			continue
		}
		delete(t.held, kind)
		if err := t.forward(kind, text); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *TransformSink) forward(kind ChunkKind, text string) error {
	if t.opts.RemoveColors {
		text = ansi.Strip(text)
	}
	text = normalizeNewlines(text, t.opts.Newlines)
	if text == "" {
		return nil
	}
	return t.next.WriteChunk(Chunk{Text: text, Kind: kind})
}

// split cuts text into a part that can be rewritten now and a tail that
// may continue in the next chunk.
func (t *TransformSink) split(text string) (ready, held string) {
	cut := len(text)
	if t.opts.RemoveColors {
		if i := strings.LastIndexByte(text, ansi.ESC); i >= 0 && !escapeComplete(text[i:]) {
			cut = i
		}
	}
	if t.opts.Newlines != NewlinePreserve && cut > 0 && text[cut-1] == '\r' {
		cut--
	}
	if len(text)-cut > maxHeld {
		return text, ""
	}
	return text[:cut], text[cut:]
}

// escapeComplete reports whether seq, which starts with ESC, holds a
// whole escape sequence.
func escapeComplete(seq string) bool {
	if len(seq) < 2 {
		return false
	}
	switch seq[1] {
	case '[':
		for i := 2; i < len(seq); i++ {
			if seq[i] >= 0x40 && seq[i] <= 0x7e {
				return true
			}
		}
		return false
	case ']', 'P', 'X', '^', '_':
		// Terminated by BEL; an ESC \ terminator is itself the last ESC.
		return strings.IndexByte(seq, ansi.BEL) >= 0
	}
	// ESC, optional intermediates (0x20-0x2f), final byte.
	for i := 1; i < len(seq); i++ {
		if seq[i] < 0x20 || seq[i] > 0x2f {
			return true
		}
	}
	return false
}

func normalizeNewlines(s string, kind NewlineKind) string {
	if kind == NewlinePreserve || !strings.ContainsAny(s, "\r\n") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	if kind == NewlineCRLF {
		s = strings.ReplaceAll(s, "\n", "\r\n")
	}
	return s
}

// TeeSink forwards each chunk to every destination in order. The first
// error stops the fan-out for that chunk and is returned.
type TeeSink struct {
	destinations []Destination
}

// NewTeeSink returns a sink fanning out to destinations.
func NewTeeSink(destinations ...Destination) *TeeSink {
	return &TeeSink{destinations: destinations}
}

// WriteChunk writes chunk to each destination.
func (t *TeeSink) WriteChunk(chunk Chunk) error {
	for _, d := range t.destinations {
		if err := d.WriteChunk(chunk); err != nil {
			return err
		}
	}
	return nil
}
