package storage

import (
	"context"
	"errors"
	"time"

	"mercator-hq/turnstile/pkg/limits/ratelimit"
)

// Bucket is a token bucket bound to one key.
// Implementations must be safe for concurrent use; TryConsume is atomic with
// respect to every other consumer of the same key.
type Bucket interface {
	// TryConsume takes tokens from the bucket if both bandwidths allow it.
	TryConsume(ctx context.Context, tokens int64) (ratelimit.Consumption, error)
}

// Store resolves buckets and sliding windows by key.
// There are exactly two implementations: LocalStore and RedisStore.
// FailoverStore composes them behind the same interface.
type Store interface {
	// Bucket returns the bucket for key, enforcing cfg. Resolution is lazy;
	// no I/O happens until the bucket is consumed from.
	Bucket(key string, cfg ratelimit.Config) Bucket

	// SlidingWindow atomically prunes entries older than window, counts the
	// rest, and records a new entry when the count is below max.
	SlidingWindow(ctx context.Context, key string, window time.Duration, max int64) (WindowResult, error)

	// Delete removes bucket state for the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Len returns the number of buckets the store currently tracks.
	Len() int

	// Name identifies the store in logs, metrics and statistics.
	Name() string
}

// WindowResult is the outcome of a sliding-window check.
type WindowResult struct {
	// Allowed is true when the request was recorded in the window.
	Allowed bool

	// Remaining is max-count-1 on success and 0 on denial.
	Remaining int64
}

// Guard decides whether a distributed call may proceed and records its
// outcome. The circuit breaker implements it.
type Guard interface {
	// Execute runs fn when the guard admits the call. It returns a
	// rejection error without running fn otherwise.
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

var (
	// ErrUnavailable wraps every failure to reach the shared store.
	ErrUnavailable = errors.New("store unavailable")

	// ErrInvalidResponse is returned when a script reply cannot be decoded.
	ErrInvalidResponse = errors.New("invalid script response")
)

// BucketKey builds the key of the bucket for identifier in dimension for
// operation, e.g. "ratelimit:user:u-42:payment.transfer".
func BucketKey(dimension, identifier, operation string) string {
	return "ratelimit:" + dimension + ":" + identifier + ":" + operation
}

// WindowKey builds the key of a sliding window.
func WindowKey(key string) string {
	return "sliding:" + key
}
