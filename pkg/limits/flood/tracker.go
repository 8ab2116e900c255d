package flood

import (
	"hash/fnv"
	"sync"
	"time"

	"mercator-hq/turnstile/pkg/limits/ratelimit"
)

const shardCount = 32

// Config configures a Tracker.
type Config struct {
	// Threshold is the number of requests per window a key may make.
	// The request that takes the count above it is reported as a flood.
	// Default: 1000
	Threshold int64

	// Window is the trailing interval requests are counted over.
	// Default: 60 seconds
	Window time.Duration

	// Clock supplies timestamps. Default: ratelimit.SystemClock()
	Clock ratelimit.Clock
}

// Tracker counts recent requests per key and reports when a key floods.
//
// Keys are spread over a fixed number of shards; each key owns its own
// timestamp log with its own lock, so unrelated keys never serialize on
// one another. A key's log is capped at Threshold+1 entries, which is all
// the tracker needs to know the threshold was crossed.
type Tracker struct {
	threshold int64
	window    time.Duration
	clock     ratelimit.Clock
	shards    [shardCount]shard
}

type shard struct {
	mu   sync.RWMutex
	logs map[string]*ratelimit.SlidingWindow
}

// NewTracker creates a Tracker, filling zero config values with defaults.
func NewTracker(cfg Config) *Tracker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1000
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.SystemClock()
	}

	t := &Tracker{
		threshold: cfg.Threshold,
		window:    cfg.Window,
		clock:     cfg.Clock,
	}
	for i := range t.shards {
		t.shards[i].logs = make(map[string]*ratelimit.SlidingWindow)
	}
	return t
}

// Record appends a request for key and reports whether the key has now
// made more than Threshold requests within the window.
func (t *Tracker) Record(key string) (exceeded bool) {
	s := t.shard(key)

	s.mu.RLock()
	log, ok := s.logs[key]
	if ok {
		exceeded = t.recordLocked(log)
		s.mu.RUnlock()
		return exceeded
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok = s.logs[key]
	if !ok {
		log = ratelimit.NewSlidingWindow()
		s.logs[key] = log
	}
	return t.recordLocked(log)
}

// recordLocked runs with the shard lock held in either mode so that a
// concurrent Cleanup cannot drop the log mid-record.
func (t *Tracker) recordLocked(log *ratelimit.SlidingWindow) bool {
	allowed, remaining := log.Allow(t.clock.Now(), t.window, t.threshold+1)
	return !allowed || remaining == 0
}

// Count returns the number of requests recorded for key within the window.
func (t *Tracker) Count(key string) int64 {
	s := t.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.logs[key]
	if !ok {
		return 0
	}
	return log.Count(t.clock.Now(), t.window)
}

// Cleanup drops timestamps older than the longer of maxAge and the window,
// and removes keys left empty. It returns the number of keys removed.
func (t *Tracker) Cleanup(maxAge time.Duration) int {
	cutoff := t.clock.Now().Add(-max(maxAge, t.window))
	removed := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for key, log := range s.logs {
			if log.Empty(cutoff) {
				delete(s.logs, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		n += len(s.logs)
		s.mu.RUnlock()
	}
	return n
}

// Threshold returns the configured threshold.
func (t *Tracker) Threshold() int64 {
	return t.threshold
}

func (t *Tracker) shard(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &t.shards[h.Sum32()%shardCount]
}
