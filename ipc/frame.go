// Package ipc implements the length-prefixed msgpack framing used to
// record collated terminal output and play it back.
//
// A recording is a header frame followed by one frame per chunk. Each
// frame is a 4-byte big-endian payload length followed by the payload.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/cobuild/terminal"
)

// Frame size limits.
const (
	// MaxFrameSize is the maximum frame size (4 MiB), including length prefix.
	MaxFrameSize = 4 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size.
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// Frame type discriminants.
const (
	HeaderType = "header"
	ChunkType  = "chunk"
)

// HeaderFrame opens a recording.
type HeaderFrame struct {
	Type      string `msgpack:"type"`
	Version   string `msgpack:"version"`
	StartedAt string `msgpack:"started_at"`
	ContextID string `msgpack:"context_id,omitempty"`
	RunnerID  string `msgpack:"runner_id,omitempty"`
}

// ChunkFrame carries one terminal chunk.
type ChunkFrame struct {
	Type string             `msgpack:"type"`
	Seq  int64              `msgpack:"seq"`
	Text string             `msgpack:"text"`
	Kind terminal.ChunkKind `msgpack:"kind"`
}

// Chunk returns the terminal chunk carried by the frame.
func (f *ChunkFrame) Chunk() terminal.Chunk {
	return terminal.Chunk{Text: f.Text, Kind: f.Kind}
}

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
)

// FrameError represents a frame encoding or decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether the recording cannot be read past this error.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError reports whether err is a fatal *FrameError.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// WriteFrame marshals v with msgpack and writes it as one frame.
func WriteFrame(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return &FrameError{Kind: FrameErrorDecode, Msg: "failed to encode frame", Err: err}
	}
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}

	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	_, err = w.Write(buf)
	return err
}

// FrameDecoder decodes frames from a stream.
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder creates a new frame decoder.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: r}
}

// ReadFrame reads the raw msgpack payload of the next frame.
//
// Errors:
//   - io.EOF: stream ended cleanly
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame (fatal)
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit (fatal)
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.reader, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read length prefix", Err: err}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read payload", Err: err}
	}
	return payload, nil
}

type frameTypeProbe struct {
	Type string `msgpack:"type"`
}

// DecodeFrame decodes a payload into *HeaderFrame or *ChunkFrame.
func DecodeFrame(payload []byte) (any, error) {
	var probe frameTypeProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode frame type", Err: err}
	}

	switch probe.Type {
	case HeaderType:
		var h HeaderFrame
		if err := msgpack.Unmarshal(payload, &h); err != nil {
			return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode header", Err: err}
		}
		return &h, nil
	case ChunkType:
		var c ChunkFrame
		if err := msgpack.Unmarshal(payload, &c); err != nil {
			return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode chunk", Err: err}
		}
		if !c.Kind.Valid() {
			return nil, &FrameError{Kind: FrameErrorDecode, Msg: fmt.Sprintf("chunk %d has unknown kind %q", c.Seq, string(c.Kind))}
		}
		return &c, nil
	default:
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: fmt.Sprintf("unknown frame type %q", probe.Type)}
	}
}
