package ipc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pithecene-io/cobuild/terminal"
	"github.com/pithecene-io/cobuild/types"
)

// Recorder is a terminal.Destination that appends each chunk to a
// recording and then forwards it to the next destination.
//
// Recording failures never block forwarding: the first one is kept and
// reported by Err and Close.
type Recorder struct {
	next terminal.Destination

	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	seq    int64
	err    error
}

// RecorderOptions identify the recording.
type RecorderOptions struct {
	ContextID string
	RunnerID  string
	Now       func() time.Time
}

// NewRecorder writes a header frame to w and returns a recorder forwarding
// to next. If w is an io.Closer it is closed by Close.
func NewRecorder(w io.Writer, next terminal.Destination, opts RecorderOptions) (*Recorder, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	bw := bufio.NewWriter(w)
	header := HeaderFrame{
		Type:      HeaderType,
		Version:   types.RecordingVersion,
		StartedAt: now().UTC().Format(time.RFC3339Nano),
		ContextID: opts.ContextID,
		RunnerID:  opts.RunnerID,
	}
	if err := WriteFrame(bw, header); err != nil {
		return nil, fmt.Errorf("ipc: write recording header: %w", err)
	}

	r := &Recorder{next: next, w: bw}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r, nil
}

// WriteChunk records chunk, then forwards it.
func (r *Recorder) WriteChunk(chunk terminal.Chunk) error {
	r.mu.Lock()
	if r.err == nil {
		frame := ChunkFrame{Type: ChunkType, Seq: r.seq, Text: chunk.Text, Kind: chunk.Kind}
		if err := WriteFrame(r.w, frame); err != nil {
			r.err = fmt.Errorf("ipc: record chunk %d: %w", r.seq, err)
		}
		r.seq++
	}
	r.mu.Unlock()

	if r.next == nil {
		return nil
	}
	return r.next.WriteChunk(chunk)
}

// Recorded returns the number of chunks recorded.
func (r *Recorder) Recorded() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Err returns the first recording error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close flushes the recording and closes the underlying writer.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	errs := []error{r.err}
	if err := r.w.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("ipc: flush recording: %w", err))
	}
	if r.closer != nil {
		if err := r.closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ipc: close recording: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Replay reads a recording from rd and writes every chunk to dst. It
// returns the recording header.
func Replay(rd io.Reader, dst terminal.Destination) (*HeaderFrame, error) {
	dec := NewFrameDecoder(rd)

	payload, err := dec.ReadFrame()
	if err != nil {
		if err == io.EOF {
			return nil, &FrameError{Kind: FrameErrorPartial, Msg: "empty recording"}
		}
		return nil, err
	}
	first, err := DecodeFrame(payload)
	if err != nil {
		return nil, err
	}
	header, ok := first.(*HeaderFrame)
	if !ok {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "recording does not start with a header frame"}
	}

	for {
		payload, err := dec.ReadFrame()
		if err == io.EOF {
			return header, nil
		}
		if err != nil {
			return header, err
		}
		frame, err := DecodeFrame(payload)
		if err != nil {
			return header, err
		}
		chunk, ok := frame.(*ChunkFrame)
		if !ok {
			return header, &FrameError{Kind: FrameErrorDecode, Msg: "unexpected header frame inside recording"}
		}
		if err := dst.WriteChunk(chunk.Chunk()); err != nil {
			return header, fmt.Errorf("ipc: replay chunk %d: %w", chunk.Seq, err)
		}
	}
}
