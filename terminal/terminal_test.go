package terminal

import (
	"bytes"
	"errors"
	"testing"
)

func TestCollatedTerminal_WriteLines(t *testing.T) {
	sink := NewBufferSink()
	term := NewCollatedTerminal(sink)

	if err := term.WriteStdoutLine("hello"); err != nil {
		t.Fatalf("WriteStdoutLine: %v", err)
	}
	if err := term.WriteStderrLine("oops"); err != nil {
		t.Fatalf("WriteStderrLine: %v", err)
	}
	if err := term.WriteChunk(Chunk{Text: "raw", Kind: KindStdout}); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	chunks := sink.Chunks()
	want := []Chunk{
		{Text: "hello\n", Kind: KindStdout},
		{Text: "oops\n", Kind: KindStderr},
		{Text: "raw", Kind: KindStdout},
	}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d: expected %+v, got %+v", i, want[i], chunks[i])
		}
	}
}

func TestBufferSink_SplitsByKind(t *testing.T) {
	sink := NewBufferSink()
	_ = sink.WriteChunk(Chunk{Text: "a", Kind: KindStdout})
	_ = sink.WriteChunk(Chunk{Text: "b", Kind: KindStderr})
	_ = sink.WriteChunk(Chunk{Text: "c", Kind: KindStdout})

	if got := sink.AllOutput(); got != "abc" {
		t.Errorf("AllOutput = %q, want %q", got, "abc")
	}
	if got := sink.Stdout(); got != "ac" {
		t.Errorf("Stdout = %q, want %q", got, "ac")
	}
	if got := sink.Stderr(); got != "b" {
		t.Errorf("Stderr = %q, want %q", got, "b")
	}

	sink.Reset()
	if got := sink.AllOutput(); got != "" {
		t.Errorf("expected empty output after Reset, got %q", got)
	}
}

func TestStreamSink_RoutesByKind(t *testing.T) {
	var out, errOut bytes.Buffer
	sink := NewStreamSink(&out, &errOut)

	_ = sink.WriteChunk(Chunk{Text: "to-out", Kind: KindStdout})
	_ = sink.WriteChunk(Chunk{Text: "to-err", Kind: KindStderr})

	if out.String() != "to-out" {
		t.Errorf("stdout = %q", out.String())
	}
	if errOut.String() != "to-err" {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestStreamSink_NilStderrUsesStdout(t *testing.T) {
	var out bytes.Buffer
	sink := NewStreamSink(&out, nil)

	_ = sink.WriteChunk(Chunk{Text: "1", Kind: KindStdout})
	_ = sink.WriteChunk(Chunk{Text: "2", Kind: KindStderr})

	if out.String() != "12" {
		t.Errorf("expected combined output %q, got %q", "12", out.String())
	}
}

type failingWriter struct{ calls int }

func (f *failingWriter) Write([]byte) (int, error) {
	f.calls++
	return 0, errors.New("disk gone")
}

func TestStreamSink_StickyError(t *testing.T) {
	w := &failingWriter{}
	sink := NewStreamSink(w, w)

	if err := sink.WriteChunk(Chunk{Text: "x", Kind: KindStdout}); err == nil {
		t.Fatal("expected write error")
	}
	if err := sink.WriteChunk(Chunk{Text: "y", Kind: KindStderr}); err == nil {
		t.Fatal("expected sticky error on second write")
	}
	if w.calls != 1 {
		t.Errorf("expected 1 underlying write, got %d", w.calls)
	}
	if sink.Err() == nil {
		t.Error("Err() should report the sticky error")
	}
}

func TestStreamSink_RejectsUnknownKind(t *testing.T) {
	var out bytes.Buffer
	sink := NewStreamSink(&out, &out)
	if err := sink.WriteChunk(Chunk{Text: "x", Kind: ChunkKind("Z")}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if sink.Err() != nil {
		t.Error("unknown kind should not poison the sink")
	}
}

func TestTransformSink_NormalizesNewlines(t *testing.T) {
	tests := []struct {
		name string
		kind NewlineKind
		in   string
		want string
	}{
		{"lf from crlf", NewlineLF, "a\r\nb\r\n", "a\nb\n"},
		{"lf from cr", NewlineLF, "a\rb", "a\nb"},
		{"crlf from lf", NewlineCRLF, "a\nb\n", "a\r\nb\r\n"},
		{"crlf idempotent", NewlineCRLF, "a\r\n", "a\r\n"},
		{"preserve", NewlinePreserve, "a\r\nb\r", "a\r\nb\r"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := NewBufferSink()
			tr := NewTransformSink(sink, TransformOptions{Newlines: tt.kind})
			if err := tr.WriteChunk(Chunk{Text: tt.in, Kind: KindStdout}); err != nil {
				t.Fatalf("WriteChunk: %v", err)
			}
			if got := sink.AllOutput(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTransformSink_RemovesColors(t *testing.T) {
	sink := NewBufferSink()
	tr := NewTransformSink(sink, TransformOptions{RemoveColors: true})

	_ = tr.WriteChunk(Chunk{Text: "\x1b[31mred\x1b[0m", Kind: KindStderr})

	chunks := sink.Chunks()
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "red" {
		t.Errorf("expected colors stripped, got %q", chunks[0].Text)
	}
	if chunks[0].Kind != KindStderr {
		t.Errorf("kind changed to %s", chunks[0].Kind)
	}
}

func TestTransformSink_DropsEmptyChunks(t *testing.T) {
	sink := NewBufferSink()
	tr := NewTransformSink(sink, TransformOptions{RemoveColors: true})

	_ = tr.WriteChunk(Chunk{Text: "\x1b[0m", Kind: KindStdout})

	if len(sink.Chunks()) != 0 {
		t.Errorf("expected empty chunk to be dropped, got %+v", sink.Chunks())
	}
}

func TestTransformSink_SplitChunks(t *testing.T) {
	tests := []struct {
		name   string
		opts   TransformOptions
		chunks []string
		want   string
	}{
		{"crlf split across chunks", TransformOptions{Newlines: NewlineLF}, []string{"a\r", "\nb"}, "a\nb"},
		{"crlf split kept as crlf", TransformOptions{Newlines: NewlineCRLF}, []string{"a\r", "\nb"}, "a\r\nb"},
		{"lone cr then text", TransformOptions{Newlines: NewlineLF}, []string{"a\r", "b"}, "a\nb"},
		{"escape split", TransformOptions{RemoveColors: true}, []string{"x\x1b[3", "1my"}, "xy"},
		{"escape split after introducer", TransformOptions{RemoveColors: true}, []string{"x\x1b", "[0my"}, "xy"},
		{"osc split", TransformOptions{RemoveColors: true}, []string{"\x1b]0;ti", "tle\ay"}, "y"},
		{"escape and cr", TransformOptions{Newlines: NewlineLF, RemoveColors: true}, []string{"a\r\x1b[", "m\nb"}, "a\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := NewBufferSink()
			tr := NewTransformSink(sink, tt.opts)
			for _, c := range tt.chunks {
				if err := tr.WriteChunk(Chunk{Text: c, Kind: KindStdout}); err != nil {
					t.Fatalf("WriteChunk: %v", err)
				}
			}
			if err := tr.Flush(); err != nil {
				t.Fatalf("Flush: %v", err)
			}
			if got := sink.AllOutput(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTransformSink_FlushReleasesHeldText(t *testing.T) {
	sink := NewBufferSink()
	tr := NewTransformSink(sink, TransformOptions{Newlines: NewlineLF})

	_ = tr.WriteChunk(Chunk{Text: "out\r", Kind: KindStdout})
	_ = tr.WriteChunk(Chunk{Text: "err\r", Kind: KindStderr})
	if got := sink.AllOutput(); got != "outerr" {
		t.Fatalf("before flush: %q", got)
	}

	if err := tr.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if sink.Stdout() != "out\n" || sink.Stderr() != "err\n" {
		t.Errorf("stdout %q, stderr %q", sink.Stdout(), sink.Stderr())
	}
	if err := tr.Flush(); err != nil || len(sink.Chunks()) != 4 {
		t.Errorf("second flush wrote again: %+v", sink.Chunks())
	}
}

func TestTransformSink_StreamsHeldSeparately(t *testing.T) {
	sink := NewBufferSink()
	tr := NewTransformSink(sink, TransformOptions{Newlines: NewlineLF})

	_ = tr.WriteChunk(Chunk{Text: "a\r", Kind: KindStdout})
	_ = tr.WriteChunk(Chunk{Text: "\nerr", Kind: KindStderr})
	_ = tr.WriteChunk(Chunk{Text: "\nb", Kind: KindStdout})

	if sink.Stdout() != "a\nb" {
		t.Errorf("stdout = %q", sink.Stdout())
	}
	if sink.Stderr() != "\nerr" {
		t.Errorf("stderr = %q", sink.Stderr())
	}
}

func TestTeeSink_WritesToAll(t *testing.T) {
	a, b := NewBufferSink(), NewBufferSink()
	tee := NewTeeSink(a, b)

	_ = tee.WriteChunk(Chunk{Text: "x", Kind: KindStdout})

	if a.AllOutput() != "x" || b.AllOutput() != "x" {
		t.Errorf("tee did not reach every destination: %q %q", a.AllOutput(), b.AllOutput())
	}
}

func TestTeeSink_StopsOnError(t *testing.T) {
	boom := errors.New("boom")
	after := NewBufferSink()
	tee := NewTeeSink(DestinationFunc(func(Chunk) error { return boom }), after)

	if err := tee.WriteChunk(Chunk{Text: "x", Kind: KindStdout}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if after.AllOutput() != "" {
		t.Error("destination after the failing one should not be written")
	}
}

func TestChunkKind_String(t *testing.T) {
	if KindStdout.String() != "stdout" || KindStderr.String() != "stderr" {
		t.Errorf("unexpected names: %s %s", KindStdout, KindStderr)
	}
	if ChunkKind("Z").Valid() {
		t.Error("unknown kind reported valid")
	}
}
