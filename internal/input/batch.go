package input

import (
	"sync"
	"time"
)

const (
	// DefaultBatchSize is the event count that forces a flush.
	DefaultBatchSize = 16
	// DefaultFlushInterval bounds how long a partial batch may wait.
	DefaultFlushInterval = time.Millisecond
)

// BatchStats accumulates batcher counters for status reporting.
type BatchStats struct {
	BatchesFlushed uint64  `json:"batches_flushed"`
	EventsQueued   uint64  `json:"events_queued"`
	AvgBatchSize   float64 `json:"avg_batch_size"`
}

// Batcher coalesces events so a burst of pointer motion becomes one device
// write sequence instead of many. Full batches flush immediately; partial
// batches flush when Tick sees them older than the interval.
type Batcher struct {
	mu       sync.Mutex
	maxSize  int
	interval time.Duration

	keyboard []KeyboardEvent
	mouse    []MouseEvent
	started  time.Time

	pending []Request
	stats   BatchStats
}

// NewBatcher creates a batcher; zero values select the defaults.
func NewBatcher(maxSize int, interval time.Duration) *Batcher {
	if maxSize <= 0 {
		maxSize = DefaultBatchSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Batcher{
		maxSize:  maxSize,
		interval: interval,
	}
}

// Push queues every event in the request, flushing as batches fill.
func (b *Batcher) Push(req *Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size() == 0 {
		b.started = time.Now()
	}
	for _, kb := range req.Keyboard {
		b.keyboard = append(b.keyboard, kb)
		b.stats.EventsQueued++
		b.flushIfFull()
	}
	for _, m := range req.Mouse {
		// Consecutive relative moves merge into one delta.
		if m.Action == MouseMove && len(b.mouse) > 0 {
			last := &b.mouse[len(b.mouse)-1]
			if last.Action == MouseMove {
				last.X += m.X
				last.Y += m.Y
				b.stats.EventsQueued++
				continue
			}
		}
		b.mouse = append(b.mouse, m)
		b.stats.EventsQueued++
		b.flushIfFull()
	}
}

func (b *Batcher) size() int {
	return len(b.keyboard) + len(b.mouse)
}

func (b *Batcher) flushIfFull() {
	if b.size() >= b.maxSize {
		b.flushLocked()
	}
}

func (b *Batcher) flushLocked() {
	if b.size() == 0 {
		return
	}
	b.pending = append(b.pending, Request{
		Keyboard: b.keyboard,
		Mouse:    b.mouse,
	})
	b.stats.BatchesFlushed++
	b.stats.AvgBatchSize = float64(b.stats.EventsQueued) / float64(b.stats.BatchesFlushed)
	b.keyboard = nil
	b.mouse = nil
	b.started = time.Time{}
}

// Tick flushes a partial batch that has waited past the flush interval.
// Call it from a timer loop.
func (b *Batcher) Tick(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size() == 0 {
		return
	}
	if now.Sub(b.started) >= b.interval {
		b.flushLocked()
	}
}

// Flush forces the current partial batch out.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Pop returns the next flushed batch, or nil when none is ready.
func (b *Batcher) Pop() *Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	req := b.pending[0]
	b.pending = b.pending[1:]
	return &req
}

// Stats returns a copy of the counters.
func (b *Batcher) Stats() BatchStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
