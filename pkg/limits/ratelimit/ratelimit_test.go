package ratelimit

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// ============================================================================
// Token Bucket Tests
// ============================================================================

func TestTokenBucket_StartsWithLimitTokens(t *testing.T) {
	clock := NewManualClock(epoch)
	bucket := NewTokenBucket(Config{LongTermLimit: 10, LongTermPeriod: time.Hour, Burst: 5}, clock)

	if got := bucket.Available(); got != 10 {
		t.Errorf("Expected 10 initial tokens, got %d", got)
	}
}

func TestTokenBucket_Conservation(t *testing.T) {
	tests := []struct {
		name  string
		limit int64
		burst int64
		per   time.Duration
	}{
		{"no burst", 10, 0, time.Hour},
		{"with burst", 10, 5, time.Hour},
		{"short period", 3, 2, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewManualClock(epoch)
			bucket := NewTokenBucket(Config{LongTermLimit: tt.limit, LongTermPeriod: tt.per, Burst: tt.burst}, clock)

			// One idle period fills the bucket to limit+burst.
			clock.Advance(tt.per)

			for i := int64(0); i < tt.limit+tt.burst; i++ {
				if next := bucket.TryConsume(1); !next.Consumed {
					t.Fatalf("Expected consumption %d to succeed", i+1)
				}
			}

			next := bucket.TryConsume(1)
			if next.Consumed {
				t.Fatal("Expected consumption beyond limit+burst to be denied")
			}
			if next.RetryAfter <= 0 {
				t.Errorf("Expected positive retry after, got %v", next.RetryAfter)
			}
			if next.RetryAfterSeconds() <= 0 {
				t.Errorf("Expected positive retry seconds, got %d", next.RetryAfterSeconds())
			}
		})
	}
}

func TestTokenBucket_IntervalRefill(t *testing.T) {
	clock := NewManualClock(epoch)
	bucket := NewTokenBucket(Config{LongTermLimit: 5, LongTermPeriod: time.Minute}, clock)

	for i := 0; i < 5; i++ {
		bucket.TryConsume(1)
	}

	// Partial periods add nothing.
	clock.Advance(59 * time.Second)
	if bucket.TryConsume(1).Consumed {
		t.Fatal("Expected no refill before a whole period elapsed")
	}

	clock.Advance(time.Second)
	if got := bucket.Available(); got != 5 {
		t.Errorf("Expected 5 tokens after one period, got %d", got)
	}
}

func TestTokenBucket_ShortTermBandwidthLimitsBursts(t *testing.T) {
	clock := NewManualClock(epoch)
	bucket := NewTokenBucket(Config{
		LongTermLimit:   10,
		LongTermPeriod:  time.Hour,
		ShortTermLimit:  3,
		ShortTermPeriod: time.Minute,
		Burst:           5,
	}, clock)

	for i := 0; i < 3; i++ {
		if !bucket.TryConsume(1).Consumed {
			t.Fatalf("Expected request %d within short-term limit to pass", i+1)
		}
	}

	next := bucket.TryConsume(1)
	if next.Consumed {
		t.Fatal("Expected short-term bandwidth to deny the 4th request")
	}
	if next.RetryAfter != time.Minute {
		t.Errorf("Expected retry after 1m, got %v", next.RetryAfter)
	}
	if next.Remaining != 0 {
		t.Errorf("Expected 0 remaining, got %d", next.Remaining)
	}

	// A denied consume must not debit the long-term bandwidth.
	clock.Advance(time.Minute)
	if got := bucket.Available(); got != 3 {
		t.Errorf("Expected 3 available after short refill, got %d", got)
	}
}

func TestTokenBucket_RetryAfter(t *testing.T) {
	clock := NewManualClock(epoch)
	bucket := NewTokenBucket(Config{LongTermLimit: 2, LongTermPeriod: time.Minute}, clock)

	bucket.TryConsume(2)
	clock.Advance(20 * time.Second)

	next := bucket.TryConsume(1)
	if next.Consumed {
		t.Fatal("Expected empty bucket to deny")
	}
	if next.RetryAfter != 40*time.Second {
		t.Errorf("Expected 40s retry, got %v", next.RetryAfter)
	}
	if next.RetryAfterSeconds() != 40 {
		t.Errorf("Expected 40 retry seconds, got %d", next.RetryAfterSeconds())
	}
}

func TestTokenBucket_CostAboveCapacity(t *testing.T) {
	clock := NewManualClock(epoch)
	bucket := NewTokenBucket(Config{LongTermLimit: 10, LongTermPeriod: time.Hour, Burst: 5}, clock)

	next := bucket.TryConsume(20)
	if next.Consumed {
		t.Fatal("Expected cost above capacity to be denied")
	}
	if next.RetryAfter != time.Hour {
		t.Errorf("Expected one full period retry, got %v", next.RetryAfter)
	}
	if got := bucket.Available(); got != 10 {
		t.Errorf("Expected tokens untouched, got %d", got)
	}
}

func TestTokenBucket_Unlimited(t *testing.T) {
	bucket := NewTokenBucket(Config{}, NewManualClock(epoch))

	next := bucket.TryConsume(1000)
	if !next.Consumed {
		t.Error("Expected unlimited bucket to admit")
	}
	if next.Remaining != math.MaxInt64 {
		t.Errorf("Expected MaxInt64 remaining, got %d", next.Remaining)
	}
}

func TestTokenBucket_Reconfigure(t *testing.T) {
	hourly := func(limit int64) Config {
		return Config{LongTermLimit: limit, LongTermPeriod: time.Hour}
	}

	tests := []struct {
		name     string
		from, to Config
		consume  int64
		want     int64
	}{
		{"shrink unused bucket", hourly(20), hourly(10), 0, 10},
		{"shrink keeps spent tokens spent", hourly(20), hourly(10), 5, 5},
		{"shrink below spent floors at zero", hourly(20), hourly(10), 15, 0},
		{"grow adds the difference", hourly(10), hourly(20), 4, 16},
		{"same limit keeps tokens", hourly(10), hourly(10), 4, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket := NewTokenBucket(tt.from, NewManualClock(epoch))
			for i := int64(0); i < tt.consume; i++ {
				bucket.TryConsume(1)
			}
			bucket.Reconfigure(tt.to)
			if got := bucket.Available(); got != tt.want {
				t.Errorf("Expected %d tokens, got %d", tt.want, got)
			}
		})
	}
}

func TestTokenBucket_ReconfigureEnablesBandwidth(t *testing.T) {
	bucket := NewTokenBucket(Config{LongTermLimit: 10, LongTermPeriod: time.Hour}, NewManualClock(epoch))

	bucket.Reconfigure(Config{LongTermLimit: 10, LongTermPeriod: time.Hour, ShortTermLimit: 2, ShortTermPeriod: time.Minute})
	if got := bucket.Available(); got != 2 {
		t.Errorf("Expected new short-term bandwidth to start at 2, got %d", got)
	}
}

func TestTokenBucket_ExpiredDoublingLeavesBaseBudget(t *testing.T) {
	clock := NewManualClock(epoch)
	base := Config{LongTermLimit: 10, LongTermPeriod: time.Hour, ShortTermLimit: 3, ShortTermPeriod: time.Minute, Burst: 5}
	doubled := Config{LongTermLimit: 20, LongTermPeriod: time.Hour, ShortTermLimit: 6, ShortTermPeriod: time.Minute, Burst: 10}

	adjusted := NewTokenBucket(doubled, clock)
	plain := NewTokenBucket(base, clock)

	count := func(b *TokenBucket) int {
		n := 0
		for b.TryConsume(1).Consumed {
			n++
		}
		return n
	}

	adjustedTotal := count(adjusted)
	plainTotal := count(plain)
	clock.Advance(time.Second)
	adjusted.Reconfigure(base)

	for i := 0; i < 59; i++ {
		clock.Advance(time.Minute)
		adjustedTotal += count(adjusted)
		plainTotal += count(plain)
	}

	if adjustedTotal != plainTotal {
		t.Errorf("Expected expired doubling to leave the base hourly budget %d, got %d", plainTotal, adjustedTotal)
	}
	if plainTotal != 10 {
		t.Errorf("Expected 10 admissions within the hour, got %d", plainTotal)
	}
}

func TestTokenBucket_Concurrency(t *testing.T) {
	const capacity = 50
	const callers = 200

	bucket := NewTokenBucket(Config{LongTermLimit: capacity, LongTermPeriod: time.Hour}, NewManualClock(epoch))

	var admitted, denied atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if bucket.TryConsume(1).Consumed {
				admitted.Add(1)
			} else {
				denied.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if admitted.Load() != capacity {
		t.Errorf("Expected exactly %d admissions, got %d", capacity, admitted.Load())
	}
	if denied.Load() != callers-capacity {
		t.Errorf("Expected %d denials, got %d", callers-capacity, denied.Load())
	}
}

// ============================================================================
// Config Tests
// ============================================================================

func TestConfig_ScaleAndDivide(t *testing.T) {
	base := Config{LongTermLimit: 10, LongTermPeriod: time.Hour, ShortTermLimit: 3, ShortTermPeriod: time.Minute, Burst: 5}

	half := base.Divide(2)
	if half.LongTermLimit != 5 || half.ShortTermLimit != 1 || half.Burst != 2 {
		t.Errorf("Expected 5/1/2 after halving, got %s", half)
	}
	if half.LongTermPeriod != time.Hour {
		t.Errorf("Expected period preserved, got %v", half.LongTermPeriod)
	}

	scaled := base.Scale(2.5)
	if scaled.LongTermLimit != 25 || scaled.ShortTermLimit != 7 || scaled.Burst != 12 {
		t.Errorf("Expected 25/7/12 after scaling, got %s", scaled)
	}

	quarter := base.Divide(4)
	if quarter.ShortTermLimit != 1 || quarter.Burst != 1 {
		t.Errorf("Expected positive short limit kept at 1, got %s", quarter)
	}
	if shrunk := base.Scale(0.1); shrunk.LongTermLimit != 1 || shrunk.ShortTermLimit != 1 || shrunk.Burst != 0 {
		t.Errorf("Expected limits floored at 1 and burst 0, got %s", shrunk)
	}
	if off := (Config{}).Scale(3); !off.Unlimited() {
		t.Errorf("Expected disabled bandwidths to stay disabled, got %s", off)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := (Config{LongTermLimit: -1}).Validate(); err == nil {
		t.Error("Expected negative limit to fail validation")
	}
	if err := (Config{LongTermLimit: 1, LongTermPeriod: time.Second}).Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestCeilSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int64
	}{
		{0, 1},
		{time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{time.Hour, 3600},
	}
	for _, tt := range tests {
		if got := CeilSeconds(tt.in); got != tt.want {
			t.Errorf("CeilSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// ============================================================================
// Sliding Window Tests
// ============================================================================

func TestSlidingWindow_Allow(t *testing.T) {
	sw := NewSlidingWindow()
	now := epoch

	for i := int64(0); i < 3; i++ {
		ok, remaining := sw.Allow(now, time.Minute, 3)
		if !ok {
			t.Fatalf("Expected request %d to be allowed", i+1)
		}
		if remaining != 3-i-1 {
			t.Errorf("Expected %d remaining, got %d", 3-i-1, remaining)
		}
	}

	if ok, _ := sw.Allow(now, time.Minute, 3); ok {
		t.Error("Expected 4th request in window to be denied")
	}

	// Entries leave the window exactly at now+window.
	if ok, _ := sw.Allow(now.Add(time.Minute), time.Minute, 3); !ok {
		t.Error("Expected request after the window to be allowed")
	}
}

func TestSlidingWindow_NoBoundaryBurst(t *testing.T) {
	sw := NewSlidingWindow()

	sw.Allow(epoch.Add(50*time.Second), time.Minute, 2)
	sw.Allow(epoch.Add(55*time.Second), time.Minute, 2)

	if ok, _ := sw.Allow(epoch.Add(65*time.Second), time.Minute, 2); ok {
		t.Error("Expected sliding window to reject a burst spanning a minute boundary")
	}
}

func TestSlidingWindow_Empty(t *testing.T) {
	sw := NewSlidingWindow()
	sw.Allow(epoch, time.Minute, 5)

	if sw.Empty(epoch.Add(-time.Second)) {
		t.Error("Expected window to hold a recent entry")
	}
	if !sw.Empty(epoch) {
		t.Error("Expected window to be empty once the cutoff passes the entry")
	}
}

func TestSlidingWindow_Idle(t *testing.T) {
	tests := []struct {
		name   string
		window time.Duration
		after  time.Duration
		maxAge time.Duration
		want   bool
	}{
		{"short window past max age", time.Minute, 11 * time.Minute, 10 * time.Minute, true},
		{"short window within max age", time.Minute, 5 * time.Minute, 10 * time.Minute, false},
		{"long window past max age", time.Hour, 11 * time.Minute, 10 * time.Minute, false},
		{"long window past its length", time.Hour, 61 * time.Minute, 10 * time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sw := NewSlidingWindow()
			sw.Allow(epoch, tt.window, 1)
			if got := sw.Idle(epoch.Add(tt.after), tt.maxAge); got != tt.want {
				t.Errorf("Expected idle %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSlidingWindow_Concurrency(t *testing.T) {
	sw := NewSlidingWindow()
	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := sw.Allow(epoch, time.Minute, 10); ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 10 {
		t.Errorf("Expected exactly 10 admissions, got %d", admitted.Load())
	}
}
