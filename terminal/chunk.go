// Package terminal defines terminal chunks, the destination contract that
// collated output is written to, and a set of destinations (sinks).
package terminal

import "fmt"

// ChunkKind identifies the stream a chunk was written to.
type ChunkKind string

const (
	// KindStdout marks a chunk written to standard output.
	KindStdout ChunkKind = "O"
	// KindStderr marks a chunk written to standard error.
	KindStderr ChunkKind = "E"
)

// Valid reports whether k is a known chunk kind.
func (k ChunkKind) Valid() bool {
	return k == KindStdout || k == KindStderr
}

// String returns the stream name.
func (k ChunkKind) String() string {
	switch k {
	case KindStdout:
		return "stdout"
	case KindStderr:
		return "stderr"
	default:
		return fmt.Sprintf("unknown(%s)", string(k))
	}
}

// Chunk is a piece of text written to a terminal stream.
type Chunk struct {
	Text string    `msgpack:"text" json:"text"`
	Kind ChunkKind `msgpack:"kind" json:"kind"`
}

// Destination receives chunks. It is the only contract the collator
// requires from its output sink; buffering and flushing are up to the
// implementation.
type Destination interface {
	WriteChunk(chunk Chunk) error
}

// DestinationFunc adapts a function to Destination.
type DestinationFunc func(chunk Chunk) error

// WriteChunk calls f(chunk).
func (f DestinationFunc) WriteChunk(chunk Chunk) error {
	return f(chunk)
}
