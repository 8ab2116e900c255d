package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressReporter reports progress for long-running operations.
type ProgressReporter interface {
	Start(total int64)
	Update(current int64)
	Finish()
}

// SimpleProgress renders a single-line progress bar.
type SimpleProgress struct {
	mu      sync.Mutex
	total   int64
	current int64
	started time.Time
	writer  io.Writer
	unit    string
}

// NewProgressReporter creates a progress reporter that writes to w and
// labels its rate with unit, e.g. "checks". A nil w writes to stderr.
func NewProgressReporter(w io.Writer, unit string) *SimpleProgress {
	if w == nil {
		w = os.Stderr
	}
	return &SimpleProgress{writer: w, unit: unit}
}

// Start initializes the progress reporter with the total number of items.
func (p *SimpleProgress) Start(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.current = 0
	p.started = time.Now()
	p.render()
}

// Update records current items done.
func (p *SimpleProgress) Update(current int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	p.render()
}

// Finish marks the progress as complete and ends the line.
func (p *SimpleProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = p.total
	p.render()
	fmt.Fprintln(p.writer)
}

func (p *SimpleProgress) render() {
	if p.total == 0 {
		return
	}

	const barWidth = 40
	percent := float64(p.current) / float64(p.total) * 100
	filled := int(float64(barWidth) * percent / 100)
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled)

	rate := 0.0
	if elapsed := time.Since(p.started).Seconds(); elapsed > 0 {
		rate = float64(p.current) / elapsed
	}
	fmt.Fprintf(p.writer, "\r[%s] %5.1f%% (%d/%d) %.0f %s/s",
		bar, percent, p.current, p.total, rate, p.unit)
}
