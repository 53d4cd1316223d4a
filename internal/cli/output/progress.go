package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Progress draws a single-line step counter, e.g. for exerciser runs.
type Progress struct {
	mu      sync.Mutex
	w       io.Writer
	title   string
	total   int
	current int
	width   int
	start   time.Time
	note    string
}

// NewProgress creates a progress line for total steps.
func NewProgress(w io.Writer, title string, total int) *Progress {
	return &Progress{
		w:     w,
		title: title,
		total: total,
		width: 30,
		start: time.Now(),
	}
}

// Step advances by one and shows note after the bar.
func (p *Progress) Step(note string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current++
	p.note = note
	p.render()
}

// Current returns the number of completed steps.
func (p *Progress) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Finish ends the line.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.note = "done"
	p.render()
	fmt.Fprintln(p.w)
}

func (p *Progress) render() {
	elapsed := time.Since(p.start).Round(time.Second)
	if p.total <= 0 {
		fmt.Fprintf(p.w, "\r\033[K%s %d %s (%s)", p.title, p.current, p.note, elapsed)
		return
	}

	frac := float64(p.current) / float64(p.total)
	if frac > 1 {
		frac = 1
	}
	filled := int(float64(p.width) * frac)
	bar := strings.Repeat("#", filled) + strings.Repeat(".", p.width-filled)
	fmt.Fprintf(p.w, "\r\033[K%s [%s] %d/%d %s (%s)", p.title, bar, p.current, p.total, p.note, elapsed)
}
