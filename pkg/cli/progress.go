package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Progress renders a single-line progress bar for a known number of items.
type Progress struct {
	mu      sync.Mutex
	label   string
	total   int64
	current int64
	failed  int64
	started time.Time
	writer  io.Writer
}

// NewProgress creates a progress bar that writes to w. If w is nil, it
// defaults to os.Stderr.
func NewProgress(w io.Writer, label string, total int64) *Progress {
	if w == nil {
		w = os.Stderr
	}
	p := &Progress{
		label:   label,
		total:   total,
		started: time.Now(),
		writer:  w,
	}
	p.render()
	return p
}

// Done records one finished item.
func (p *Progress) Done(failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current++
	if failed {
		p.failed++
	}
	p.render()
}

// Finish ends the progress line.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.writer)
}

// Counts returns finished and failed items.
func (p *Progress) Counts() (done, failed int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.failed
}

func (p *Progress) render() {
	if p.total <= 0 {
		return
	}

	const barWidth = 30
	current := min(p.current, p.total)
	filled := int(barWidth * current / p.total)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	rate := 0.0
	if elapsed := time.Since(p.started).Seconds(); elapsed > 0 {
		rate = float64(p.current) / elapsed
	}

	fmt.Fprintf(p.writer, "\r%s: [%s] %d/%d failed=%d %.1f/s",
		p.label, bar, current, p.total, p.failed, rate)
}
