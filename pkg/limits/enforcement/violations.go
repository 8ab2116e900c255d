package enforcement

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/turnstile/pkg/limits/ratelimit"
)

// ViolationCounter counts rate limit violations per identifier within a
// rolling window that restarts on every increment.
type ViolationCounter interface {
	Increment(ctx context.Context, id string) (int64, error)
}

const violationShards = 16

type violation struct {
	count     int64
	expiresAt time.Time
}

// MemoryViolations is an in-process ViolationCounter.
type MemoryViolations struct {
	window time.Duration
	clock  ratelimit.Clock
	shards [violationShards]struct {
		mu      sync.Mutex
		entries map[string]*violation
	}
}

// NewMemoryViolations creates a MemoryViolations whose counts expire window
// after the last increment. Zero window defaults to one hour.
func NewMemoryViolations(window time.Duration, clock ratelimit.Clock) *MemoryViolations {
	if window <= 0 {
		window = time.Hour
	}
	if clock == nil {
		clock = ratelimit.SystemClock()
	}
	m := &MemoryViolations{window: window, clock: clock}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]*violation)
	}
	return m
}

// Increment adds one violation for id and returns the new count.
func (m *MemoryViolations) Increment(_ context.Context, id string) (int64, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	s := &m.shards[h.Sum32()%violationShards]

	now := m.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.entries[id]
	if !ok || !now.Before(v.expiresAt) {
		v = &violation{}
		s.entries[id] = v
	}
	v.count++
	v.expiresAt = now.Add(m.window)
	return v.count, nil
}

// Purge drops expired counters and returns how many were removed.
func (m *MemoryViolations) Purge() int {
	now := m.clock.Now()
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for id, v := range s.entries {
			if !now.Before(v.expiresAt) {
				delete(s.entries, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of stored counters.
func (m *MemoryViolations) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// ViolationStore is a shared store able to count violations.
type ViolationStore interface {
	IncrementViolations(ctx context.Context, id string, window time.Duration) (int64, error)
}

// SharedViolations counts violations in a ViolationStore so every instance
// sees the same totals. When the store fails the in-process fallback counts
// instead.
type SharedViolations struct {
	store    ViolationStore
	window   time.Duration
	fallback *MemoryViolations
	logger   *slog.Logger
}

// NewSharedViolations creates a SharedViolations.
func NewSharedViolations(store ViolationStore, fallback *MemoryViolations, logger *slog.Logger) *SharedViolations {
	if logger == nil {
		logger = slog.Default().With("component", "enforcement")
	}
	return &SharedViolations{
		store:    store,
		window:   fallback.window,
		fallback: fallback,
		logger:   logger,
	}
}

// Increment adds one violation for id in the shared store.
func (s *SharedViolations) Increment(ctx context.Context, id string) (int64, error) {
	n, err := s.store.IncrementViolations(ctx, id, s.window)
	if err == nil {
		return n, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	s.logger.Warn("violation counter unavailable, counting locally", "id", id, "error", err)
	return s.fallback.Increment(ctx, id)
}
