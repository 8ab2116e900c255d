package storage

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"mercator-hq/turnstile/pkg/limits/ratelimit"
)

const lockStripes = 64

// LocalStore keeps buckets in process memory.
//
// Buckets live in a size-bounded LRU with a time-to-live measured from
// creation: a bucket older than the TTL is discarded and the next request
// recreates it with fresh initial tokens. This is the default store and the
// fallback target when the shared store is unavailable.
//
// # Thread Safety
//
// Bucket creation is serialized per lock stripe, never globally, so two
// requests for an unseen key cannot create two buckets and double-admit.
type LocalStore struct {
	buckets *expirable.LRU[string, *ratelimit.TokenBucket]
	windows sync.Map // string -> *ratelimit.SlidingWindow
	stripes [lockStripes]sync.Mutex
	clock   ratelimit.Clock
}

// LocalStoreConfig configures a LocalStore.
type LocalStoreConfig struct {
	// MaxEntries bounds the number of buckets kept in memory.
	// Default: 100,000
	MaxEntries int

	// TTL is how long a bucket lives after creation. Zero disables expiry.
	// Default: 60 seconds
	TTL time.Duration

	// Clock drives bucket refills. Default: ratelimit.SystemClock()
	Clock ratelimit.Clock
}

// NewLocalStore creates a LocalStore, filling zero config values with defaults.
func NewLocalStore(cfg LocalStoreConfig) *LocalStore {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100000
	}
	if cfg.TTL < 0 {
		cfg.TTL = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.SystemClock()
	}

	return &LocalStore{
		buckets: expirable.NewLRU[string, *ratelimit.TokenBucket](cfg.MaxEntries, nil, cfg.TTL),
		clock:   cfg.Clock,
	}
}

// Bucket returns the local bucket for key, creating it on first use.
// An existing bucket adopts cfg when it differs from the limits it was
// created with, so expired adjustments stop applying immediately.
func (s *LocalStore) Bucket(key string, cfg ratelimit.Config) Bucket {
	return localBucket{tb: s.resolve(key, cfg)}
}

func (s *LocalStore) resolve(key string, cfg ratelimit.Config) *ratelimit.TokenBucket {
	if tb, ok := s.buckets.Get(key); ok {
		tb.Reconfigure(cfg)
		return tb
	}

	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	if tb, ok := s.buckets.Get(key); ok {
		tb.Reconfigure(cfg)
		return tb
	}
	tb := ratelimit.NewTokenBucket(cfg, s.clock)
	s.buckets.Add(key, tb)
	return tb
}

// SlidingWindow checks the in-process window log for key.
func (s *LocalStore) SlidingWindow(_ context.Context, key string, window time.Duration, max int64) (WindowResult, error) {
	v, _ := s.windows.LoadOrStore(key, ratelimit.NewSlidingWindow())
	allowed, remaining := v.(*ratelimit.SlidingWindow).Allow(s.clock.Now(), window, max)
	return WindowResult{Allowed: allowed, Remaining: remaining}, nil
}

// Delete removes buckets and windows for keys.
func (s *LocalStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s.buckets.Remove(key)
		s.windows.Delete(key)
	}
	return nil
}

// Len returns the number of live buckets.
func (s *LocalStore) Len() int {
	return s.buckets.Len()
}

// Name returns "local".
func (s *LocalStore) Name() string {
	return "local"
}

// Cleanup drops sliding windows that are idle for maxAge and returns how
// many were removed. A window with entries still inside its own window
// length is kept however old they are. Expired buckets are evicted by the
// LRU.
func (s *LocalStore) Cleanup(maxAge time.Duration) int {
	now := s.clock.Now()
	removed := 0
	s.windows.Range(func(k, v any) bool {
		if v.(*ratelimit.SlidingWindow).Idle(now, maxAge) {
			s.windows.Delete(k)
			removed++
		}
		return true
	})
	return removed
}

func (s *LocalStore) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.stripes[h.Sum32()%lockStripes]
}

type localBucket struct {
	tb *ratelimit.TokenBucket
}

func (b localBucket) TryConsume(_ context.Context, tokens int64) (ratelimit.Consumption, error) {
	return b.tb.TryConsume(tokens), nil
}
