package ratelimit

import (
	"math"
	"sync"
	"time"
)

// bandwidth is one interval-refilled token budget of a bucket.
//
// Every whole period since lastRefill adds limit tokens, clamped to capacity.
// A new bandwidth starts with limit tokens, not capacity, so the burst is
// only available after the caller has been idle for a period.
type bandwidth struct {
	limit      int64
	period     time.Duration
	capacity   int64
	tokens     int64
	lastRefill time.Time
}

func newBandwidth(limit int64, period time.Duration, burst int64, now time.Time) *bandwidth {
	if !bandwidthEnabled(limit, period) {
		return nil
	}
	return &bandwidth{
		limit:      limit,
		period:     period,
		capacity:   addSaturating(limit, burst),
		tokens:     limit,
		lastRefill: now,
	}
}

func (b *bandwidth) refill(now time.Time) {
	if !now.After(b.lastRefill) {
		return
	}
	intervals := int64(now.Sub(b.lastRefill) / b.period)
	if intervals == 0 {
		return
	}
	if needed := (b.capacity - b.tokens + b.limit - 1) / b.limit; intervals >= needed {
		b.tokens = b.capacity
	} else {
		b.tokens += intervals * b.limit
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(intervals) * b.period)
}

// waitFor returns how long until n tokens are available. Requests larger
// than the capacity can never succeed and report one full period.
func (b *bandwidth) waitFor(n int64, now time.Time) time.Duration {
	if b.tokens >= n {
		return 0
	}
	if n > b.capacity {
		return b.period
	}
	deficit := n - b.tokens
	intervals := (deficit + b.limit - 1) / b.limit
	wait := b.lastRefill.Add(time.Duration(intervals) * b.period).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// reconfigure adopts new limits. The tokens already spent against the old
// limit stay spent: the count moves by the change in limit, so a shrink
// after an adjustment expires leaves exactly what the smaller limit allows.
// The result is clamped to [0, capacity].
func (b *bandwidth) reconfigure(limit int64, period time.Duration, burst int64) {
	b.tokens = shiftTokens(b.tokens, b.limit, limit)
	b.limit = limit
	b.period = period
	b.capacity = addSaturating(limit, burst)
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// TokenBucket is an in-process dual-bandwidth token bucket.
//
// A consume succeeds only when both bandwidths hold enough tokens, and then
// debits both. All methods are safe for concurrent use; a single mutex
// guards the bucket so "try consume" and "read remaining" are atomic.
type TokenBucket struct {
	mu     sync.Mutex
	clock  Clock
	config Config
	long   *bandwidth
	short  *bandwidth
}

// NewTokenBucket creates a bucket for cfg. A nil clock means SystemClock.
func NewTokenBucket(cfg Config, clock Clock) *TokenBucket {
	if clock == nil {
		clock = SystemClock()
	}
	now := clock.Now()
	return &TokenBucket{
		clock:  clock,
		config: cfg,
		long:   newBandwidth(cfg.LongTermLimit, cfg.LongTermPeriod, cfg.Burst, now),
		short:  newBandwidth(cfg.ShortTermLimit, cfg.ShortTermPeriod, cfg.Burst, now),
	}
}

// TryConsume attempts to take n tokens from both bandwidths.
func (tb *TokenBucket) TryConsume(n int64) Consumption {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if n < 0 {
		n = 0
	}
	now := tb.clock.Now()
	bands := tb.bandsLocked()
	if len(bands) == 0 {
		return Consumption{Consumed: true, Remaining: math.MaxInt64}
	}

	consumed := true
	var wait time.Duration
	for _, b := range bands {
		b.refill(now)
		if b.tokens < n {
			consumed = false
			if w := b.waitFor(n, now); w > wait {
				wait = w
			}
		}
	}
	if consumed {
		for _, b := range bands {
			b.tokens -= n
		}
	}

	return Consumption{Consumed: consumed, Remaining: minTokens(bands), RetryAfter: wait}
}

// Available returns the tokens available right now without consuming any.
func (tb *TokenBucket) Available() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.clock.Now()
	bands := tb.bandsLocked()
	if len(bands) == 0 {
		return math.MaxInt64
	}
	for _, b := range bands {
		b.refill(now)
	}
	return minTokens(bands)
}

// Config returns the limits the bucket currently enforces.
func (tb *TokenBucket) Config() Config {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.config
}

// Reconfigure replaces the bucket limits. Each bandwidth keeps what has been
// spent against it: tokens move by the difference between the new and the
// old limit, clamped to the new capacity and floored at zero. Bandwidths
// that become enabled start with their limit.
func (tb *TokenBucket) Reconfigure(cfg Config) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if cfg == tb.config {
		return
	}
	now := tb.clock.Now()
	tb.long = reconfigureBandwidth(tb.long, cfg.LongTermLimit, cfg.LongTermPeriod, cfg.Burst, now)
	tb.short = reconfigureBandwidth(tb.short, cfg.ShortTermLimit, cfg.ShortTermPeriod, cfg.Burst, now)
	tb.config = cfg
}

func (tb *TokenBucket) bandsLocked() []*bandwidth {
	bands := make([]*bandwidth, 0, 2)
	if tb.long != nil {
		bands = append(bands, tb.long)
	}
	if tb.short != nil {
		bands = append(bands, tb.short)
	}
	return bands
}

func reconfigureBandwidth(b *bandwidth, limit int64, period time.Duration, burst int64, now time.Time) *bandwidth {
	if !bandwidthEnabled(limit, period) {
		return nil
	}
	if b == nil {
		return newBandwidth(limit, period, burst, now)
	}
	b.refill(now)
	b.reconfigure(limit, period, burst)
	return b
}

func minTokens(bands []*bandwidth) int64 {
	remaining := int64(math.MaxInt64)
	for _, b := range bands {
		if b.tokens < remaining {
			remaining = b.tokens
		}
	}
	return remaining
}

func shiftTokens(tokens, oldLimit, newLimit int64) int64 {
	if newLimit >= oldLimit {
		return addSaturating(tokens, newLimit-oldLimit)
	}
	if shrink := oldLimit - newLimit; tokens > shrink {
		return tokens - shrink
	}
	return 0
}

func addSaturating(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
