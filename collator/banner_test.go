package collator

import (
	"errors"
	"strings"
	"testing"

	"github.com/pithecene-io/cobuild/terminal"
)

func TestBanner_FormatPadsToWidth(t *testing.T) {
	b := NewBanner(3, true)

	line := b.Format("build-a", 1, 3)

	if !strings.HasPrefix(line, "==[ build-a ]") {
		t.Errorf("unexpected prefix: %q", line)
	}
	if !strings.HasSuffix(line, "[ 1 of 3 ]==") {
		t.Errorf("unexpected suffix: %q", line)
	}
	if len(line) != DefaultBannerWidth {
		t.Errorf("expected width %d, got %d (%q)", DefaultBannerWidth, len(line), line)
	}
}

func TestBanner_LongNameDoesNotUnderflow(t *testing.T) {
	b := NewBanner(1, true)
	name := strings.Repeat("x", 100)

	line := b.Format(name, 1, 1)

	if !strings.Contains(line, "][") {
		t.Errorf("expected zero fill for long names, got %q", line)
	}
}

func TestBanner_PrintsOnActivation(t *testing.T) {
	sink := terminal.NewBufferSink()
	banner := NewBanner(2, true)
	c := New(Options{Destination: sink, OnWriterActive: func(w *CollatedWriter) {
		if err := banner.Write(w); err != nil {
			t.Errorf("banner: %v", err)
		}
	}})

	a, _ := c.RegisterTask("A")
	b, _ := c.RegisterTask("B")

	_ = a.WriteChunk(terminal.Chunk{Text: "a\n", Kind: terminal.KindStdout})
	_ = b.WriteChunk(terminal.Chunk{Text: "b\n", Kind: terminal.KindStdout})
	_ = a.Close()
	_ = b.Close()

	out := sink.AllOutput()
	first := strings.Index(out, "[ 1 of 2 ]==")
	second := strings.Index(out, "[ 2 of 2 ]==")
	if first < 0 || second < 0 {
		t.Fatalf("missing banners in %q", out)
	}
	if !(first < strings.Index(out, "a\n") && strings.Index(out, "a\n") < second) {
		t.Errorf("banners out of place: %q", out)
	}
	if banner.Activated() != 2 {
		t.Errorf("Activated = %d", banner.Activated())
	}
}

func TestBanner_WriteReturnsDestinationError(t *testing.T) {
	boom := errors.New("boom")
	var bannerErr error
	banner := NewBanner(1, true)
	dest := terminal.DestinationFunc(func(ch terminal.Chunk) error {
		if strings.Contains(ch.Text, "==[") {
			return boom
		}
		return nil
	})
	c := New(Options{Destination: dest, OnWriterActive: func(w *CollatedWriter) {
		bannerErr = banner.Write(w)
	}})

	a, _ := c.RegisterTask("A")
	if err := a.WriteChunk(terminal.Chunk{Text: "a\n", Kind: terminal.KindStdout}); err != nil {
		t.Fatalf("task write: %v", err)
	}
	if !errors.Is(bannerErr, boom) {
		t.Errorf("banner error = %v, want boom", bannerErr)
	}
}
