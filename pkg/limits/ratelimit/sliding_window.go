package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow is an exact sliding-window log for a single key.
//
// Unlike a token bucket it keeps one timestamp per admitted request, so a
// burst at the end of one window cannot combine with a burst at the start
// of the next. It is the in-process counterpart of the store-side ordered
// set kept by the Redis implementation.
//
// # Thread Safety
//
// SlidingWindow is safe for concurrent use. Allow prunes, counts, and
// records under one lock, so two callers never both take the last slot.
type SlidingWindow struct {
	mu      sync.Mutex
	entries []time.Time

	// window is the longest window the log has been checked against.
	window time.Duration
}

// NewSlidingWindow creates an empty window log.
func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{}
}

// Allow drops entries at or before now-window, and if fewer than limit
// remain, records now and returns true with limit-count-1 remaining.
func (sw *SlidingWindow) Allow(now time.Time, window time.Duration, limit int64) (bool, int64) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.window = max(sw.window, window)
	sw.pruneLocked(now.Add(-window))

	count := int64(len(sw.entries))
	if count >= limit {
		return false, 0
	}
	sw.entries = append(sw.entries, now)
	return true, limit - count - 1
}

// Count returns the number of entries newer than now-window.
func (sw *SlidingWindow) Count(now time.Time, window time.Duration) int64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.pruneLocked(now.Add(-window))
	return int64(len(sw.entries))
}

// Empty reports whether the log holds no entries newer than cutoff.
func (sw *SlidingWindow) Empty(cutoff time.Time) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.pruneLocked(cutoff)
	return len(sw.entries) == 0
}

// Idle reports whether the log holds no entries inside the longer of maxAge
// and the longest window it has been checked against. An idle log can be
// dropped without changing any later decision.
func (sw *SlidingWindow) Idle(now time.Time, maxAge time.Duration) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.pruneLocked(now.Add(-max(maxAge, sw.window)))
	return len(sw.entries) == 0
}

func (sw *SlidingWindow) pruneLocked(cutoff time.Time) {
	i := 0
	for i < len(sw.entries) && !sw.entries[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(sw.entries, sw.entries[i:])
	clear(sw.entries[n:])
	sw.entries = sw.entries[:n]
}
