package terminal

// CollatedTerminal turns line-oriented writes into chunks on a destination.
// It holds no state of its own.
type CollatedTerminal struct {
	destination Destination
}

// NewCollatedTerminal returns a terminal writing to destination.
func NewCollatedTerminal(destination Destination) *CollatedTerminal {
	return &CollatedTerminal{destination: destination}
}

// WriteChunk forwards chunk verbatim.
func (t *CollatedTerminal) WriteChunk(chunk Chunk) error {
	return t.destination.WriteChunk(chunk)
}

// WriteStdoutLine writes message followed by a newline to stdout.
func (t *CollatedTerminal) WriteStdoutLine(message string) error {
	return t.destination.WriteChunk(Chunk{Text: message + "\n", Kind: KindStdout})
}

// WriteStderrLine writes message followed by a newline to stderr.
func (t *CollatedTerminal) WriteStderrLine(message string) error {
	return t.destination.WriteChunk(Chunk{Text: message + "\n", Kind: KindStderr})
}
