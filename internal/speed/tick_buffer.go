package speed

import (
	"sync"
	"time"
)

// TickBuffer holds notification timestamps in arrival order.
// Record runs on BLE callback goroutines while the estimator evicts and counts,
// so every method takes the lock.
type TickBuffer struct {
	mu     sync.Mutex
	ticks  []time.Time
	window time.Duration
}

// NewTickBuffer creates a buffer that retains ticks no older than window.
func NewTickBuffer(window time.Duration) *TickBuffer {
	if window <= 0 {
		panic("TickBuffer: window must be > 0")
	}
	return &TickBuffer{window: window}
}

// Window returns the retention window.
func (b *TickBuffer) Window() time.Duration {
	return b.window
}

// Record appends a tick. Ticks are expected in non-decreasing time order.
func (b *TickBuffer) Record(t time.Time) {
	b.mu.Lock()
	b.ticks = append(b.ticks, t)
	b.mu.Unlock()
}

// EvictOlderThan drops leading ticks strictly before cutoff.
func (b *TickBuffer) EvictOlderThan(cutoff time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictLocked(cutoff)
}

// Count returns the number of retained ticks.
func (b *TickBuffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ticks)
}

// EvictAndCount evicts ticks older than the window relative to now and returns
// what is left, as one atomic step.
func (b *TickBuffer) EvictAndCount(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictLocked(now.Add(-b.window))
	return len(b.ticks)
}

// Reset drops every tick.
func (b *TickBuffer) Reset() {
	b.mu.Lock()
	b.ticks = nil
	b.mu.Unlock()
}

func (b *TickBuffer) evictLocked(cutoff time.Time) {
	n := 0
	for n < len(b.ticks) && b.ticks[n].Before(cutoff) {
		n++
	}
	if n == 0 {
		return
	}
	// Copy down so the backing array does not grow without bound over a long ride.
	remaining := copy(b.ticks, b.ticks[n:])
	clear(b.ticks[remaining:])
	b.ticks = b.ticks[:remaining]
}
