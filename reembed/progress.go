package reembed

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker reports how many chunks have been reembedded. It is safe
// for use by concurrent workers.
type ProgressTracker struct {
	mu             sync.Mutex
	writer         io.Writer
	total          int
	chunks         int
	documents      int
	reportInterval int
	lastReported   int
	startTime      time.Time
	started        bool
}

// NewProgressTracker creates a tracker for total chunks that writes a status
// line every reportInterval chunks.
func NewProgressTracker(writer io.Writer, total, reportInterval int) *ProgressTracker {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressTracker{
		writer:         writer,
		total:          total,
		reportInterval: reportInterval,
	}
}

// Start resets the counters and starts the clock.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.started = true
	p.chunks = 0
	p.documents = 0
	p.lastReported = 0
}

// DocumentDone records one finished document with the given number of chunks.
func (p *ProgressTracker) DocumentDone(chunks int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	p.documents++
	p.chunks = min(p.chunks+chunks, p.total)
	if p.chunks-p.lastReported >= p.reportInterval {
		p.report()
		p.lastReported = p.chunks
	}
}

// Finish prints the final status line.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	p.report()
	fmt.Fprintln(p.writer)
}

// Chunks returns the number of chunks reported so far.
func (p *ProgressTracker) Chunks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chunks
}

// Documents returns the number of documents reported so far.
func (p *ProgressTracker) Documents() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.documents
}

// Elapsed returns the time since Start.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0
	}
	return time.Since(p.startTime)
}

// report must be called with the lock held.
func (p *ProgressTracker) report() {
	rate := float64(p.chunks) / time.Since(p.startTime).Seconds()

	percentage := 0.0
	if p.total > 0 {
		percentage = float64(p.chunks) / float64(p.total) * 100.0
	}

	fmt.Fprintf(p.writer, "\rReembedded %d/%d chunks (%.1f%%) in %d documents - %.1f chunks/s",
		p.chunks, p.total, percentage, p.documents, rate)
}
