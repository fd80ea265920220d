package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const barWidth = 30

// Progress renders a single-line progress bar for a known number of
// operations, counting successes and failures.
type Progress struct {
	mu      sync.Mutex
	w       io.Writer
	total   int
	ok      int
	failed  int
	started time.Time
}

// NewProgress starts a progress bar for total operations.
func NewProgress(w io.Writer, total int) *Progress {
	p := &Progress{w: w, total: total, started: time.Now()}
	p.mu.Lock()
	p.render()
	p.mu.Unlock()
	return p
}

// Add records one finished operation.
func (p *Progress) Add(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ok {
		p.ok++
	} else {
		p.failed++
	}
	p.render()
}

// Counts returns the successes and failures recorded so far.
func (p *Progress) Counts() (ok, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ok, p.failed
}

// Finish ends the progress line.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.render()
	fmt.Fprintln(p.w)
}

func (p *Progress) render() {
	if p.total <= 0 {
		return
	}
	done := p.ok + p.failed
	filled := barWidth * done / p.total
	if filled > barWidth {
		filled = barWidth
	}

	rate := 0.0
	if elapsed := time.Since(p.started).Seconds(); elapsed > 0 {
		rate = float64(done) / elapsed
	}
	fmt.Fprintf(p.w, "\r[%s%s] %d/%d ok=%d failed=%d %.1f/s",
		strings.Repeat("#", filled), strings.Repeat(".", barWidth-filled),
		done, p.total, p.ok, p.failed, rate)
}
