package storage

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"mercator-hq/turnstile/pkg/limits/ratelimit"
)

var (
	//go:embed scripts/token_bucket.lua
	tokenBucketSource string

	//go:embed scripts/sliding_window.lua
	slidingWindowSource string

	tokenBucketScript   = redis.NewScript(tokenBucketSource)
	slidingWindowScript = redis.NewScript(slidingWindowSource)
)

// QuotaTTL is how long mirrored quota snapshots live in Redis.
const QuotaTTL = 31 * 24 * time.Hour

// RedisStore keeps buckets and sliding windows in Redis so every instance
// sees the same budget.
//
// Each consume is a single Lua script evaluation (EVALSHA with EVAL
// fallback), which makes refill and debit one atomic step on the server. The
// current time is passed in by the caller rather than read from the server
// clock.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	clock  ratelimit.Clock

	// seen approximates the number of distinct buckets this instance has
	// touched, for statistics.
	seen *expirable.LRU[string, struct{}]
}

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	// Prefix is prepended to every key.
	// Default: "turnstile:"
	Prefix string

	// Clock supplies "now" to the scripts. Default: ratelimit.SystemClock()
	Clock ratelimit.Clock

	// TrackedKeys bounds the statistics key set.
	// Default: 100,000
	TrackedKeys int
}

// NewRedisStore creates a RedisStore on client. The client is not pinged;
// an unreachable server surfaces as ErrUnavailable on first use.
func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "turnstile:"
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.SystemClock()
	}
	if cfg.TrackedKeys <= 0 {
		cfg.TrackedKeys = 100000
	}

	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		clock:  cfg.Clock,
		seen:   expirable.NewLRU[string, struct{}](cfg.TrackedKeys, nil, time.Hour),
	}
}

// Ping checks connectivity to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Bucket returns a handle on the Redis bucket for key.
func (s *RedisStore) Bucket(key string, cfg ratelimit.Config) Bucket {
	return &redisBucket{store: s, key: key, cfg: cfg}
}

// SlidingWindow runs the sorted-set window script for key.
func (s *RedisStore) SlidingWindow(ctx context.Context, key string, window time.Duration, max int64) (WindowResult, error) {
	now := s.clock.Now().UnixMilli()
	ttlSeconds := int64(window/time.Second) * 2
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	values, err := slidingWindowScript.Run(ctx, s.client, []string{s.prefix + key},
		now-window.Milliseconds(),
		now,
		max,
		uuid.NewString(),
		ttlSeconds,
	).Int64Slice()
	if err != nil {
		return WindowResult{}, fmt.Errorf("%w: sliding window %s: %w", ErrUnavailable, key, err)
	}
	if len(values) != 2 {
		return WindowResult{}, fmt.Errorf("%w: sliding window returned %d values", ErrInvalidResponse, len(values))
	}

	return WindowResult{Allowed: values[0] == 1, Remaining: values[1]}, nil
}

// Delete removes the bucket keys from Redis.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = s.prefix + key
		s.seen.Remove(key)
	}
	if err := s.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("%w: delete: %w", ErrUnavailable, err)
	}
	return nil
}

// Len returns the number of distinct buckets touched in the last hour.
func (s *RedisStore) Len() int {
	return s.seen.Len()
}

// Name returns "redis".
func (s *RedisStore) Name() string {
	return "redis"
}

// IncrementViolations bumps the violation counter for id and pushes its
// expiry window forward. It returns the new count.
func (s *RedisStore) IncrementViolations(ctx context.Context, id string, window time.Duration) (int64, error) {
	key := s.prefix + "violations:" + id

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: increment violations: %w", ErrUnavailable, err)
	}
	return incr.Val(), nil
}

// SaveQuota mirrors a quota snapshot into a hash that expires after QuotaTTL.
func (s *RedisStore) SaveQuota(ctx context.Context, key string, fields map[string]any) error {
	hkey := s.prefix + "quota:" + key

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hkey, fields)
		pipe.Expire(ctx, hkey, QuotaTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: save quota: %w", ErrUnavailable, err)
	}
	return nil
}

// MirrorBlock copies a block into Redis for operators and external tooling.
// Registries do not read it back.
func (s *RedisStore) MirrorBlock(ctx context.Context, key, reason string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+"blocked:"+key, reason, ttl).Err(); err != nil {
		return fmt.Errorf("%w: mirror block: %w", ErrUnavailable, err)
	}
	return nil
}

// RemoveBlock deletes a mirrored block.
func (s *RedisStore) RemoveBlock(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+"blocked:"+key).Err(); err != nil {
		return fmt.Errorf("%w: remove block: %w", ErrUnavailable, err)
	}
	return nil
}

type redisBucket struct {
	store *RedisStore
	key   string
	cfg   ratelimit.Config
}

func (b *redisBucket) TryConsume(ctx context.Context, tokens int64) (ratelimit.Consumption, error) {
	s := b.store
	s.seen.Add(b.key, struct{}{})

	values, err := tokenBucketScript.Run(ctx, s.client, []string{s.prefix + b.key},
		s.clock.Now().UnixMilli(),
		tokens,
		b.cfg.LongTermLimit,
		b.cfg.LongTermPeriod.Milliseconds(),
		b.cfg.ShortTermLimit,
		b.cfg.ShortTermPeriod.Milliseconds(),
		b.cfg.Burst,
		bucketTTL(b.cfg).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return ratelimit.Consumption{}, fmt.Errorf("%w: token bucket %s: %w", ErrUnavailable, b.key, err)
	}
	if len(values) != 3 {
		return ratelimit.Consumption{}, fmt.Errorf("%w: token bucket returned %d values", ErrInvalidResponse, len(values))
	}

	remaining := values[1]
	if remaining < 0 {
		remaining = math.MaxInt64
	}
	return ratelimit.Consumption{
		Consumed:   values[0] == 1,
		Remaining:  remaining,
		RetryAfter: time.Duration(values[2]) * time.Millisecond,
	}, nil
}

// bucketTTL keeps an idle bucket for two of its longest periods.
func bucketTTL(cfg ratelimit.Config) time.Duration {
	ttl := cfg.LongTermPeriod
	if cfg.ShortTermPeriod > ttl {
		ttl = cfg.ShortTermPeriod
	}
	ttl *= 2
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}
