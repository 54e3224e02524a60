package collator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// DefaultBannerWidth is the width banners are padded to.
const DefaultBannerWidth = 79

var (
	bannerFrameStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	bannerNameStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#22D3EE"))
	bannerCountStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))
)

// Banner prints a header each time a writer becomes active:
//
//	==[ build-a ]=======================================[ 1 of 3 ]==
//
// Call Banner.Write from Options.OnWriterActive.
type Banner struct {
	width   int
	noColor bool

	mu        sync.Mutex
	total     int
	activated int
}

// NewBanner returns a banner expecting total tasks.
func NewBanner(total int, noColor bool) *Banner {
	return &Banner{width: DefaultBannerWidth, noColor: noColor, total: total}
}

// Activated returns how many writers have become active so far.
func (b *Banner) Activated() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activated
}

// Write prints the banner for w straight to the destination.
func (b *Banner) Write(w *CollatedWriter) error {
	b.mu.Lock()
	b.activated++
	line := b.format(w.TaskName(), b.activated, b.total)
	b.mu.Unlock()

	if err := w.collator.Terminal().WriteStdoutLine("\n" + line); err != nil {
		return fmt.Errorf("banner for %q: %w", w.TaskName(), err)
	}
	return nil
}

// Format returns the banner text for one activation.
func (b *Banner) Format(taskName string, n, total int) string {
	return b.format(taskName, n, total)
}

func (b *Banner) format(taskName string, n, total int) string {
	count := fmt.Sprintf("%d of %d", n, total)

	// "==[ " + name + " " and " " + count + " ]=="
	leftLen := 4 + len(taskName) + 1
	rightLen := 1 + len(count) + 4
	fill := max(b.width-(leftLen+rightLen+2), 0)

	left := b.paint(bannerFrameStyle, "==[") + " " + b.paint(bannerNameStyle, taskName) + " "
	middle := b.paint(bannerFrameStyle, "]"+strings.Repeat("=", fill)+"[")
	right := " " + b.paint(bannerCountStyle, count) + " " + b.paint(bannerFrameStyle, "]==")
	return left + middle + right
}

func (b *Banner) paint(style lipgloss.Style, s string) string {
	if b.noColor {
		return s
	}
	return style.Render(s)
}
