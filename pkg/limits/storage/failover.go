package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mercator-hq/turnstile/pkg/limits/ratelimit"
)

// Fallback reasons reported to FailoverConfig.OnFallback.
const (
	FallbackRejected   = "rejected"
	FallbackStoreError = "store_error"
)

// FailoverStore routes bucket resolution to a shared store while its guard
// admits calls, and to a LocalStore otherwise.
//
// When the guard rejects a call, or the shared store fails or times out, the
// consume is served by the local bucket for the same key. In that degraded
// mode each instance enforces its own copy of the limit, so a caller hitting
// N instances can be admitted up to N times the configured budget. Every
// fallback is reported through OnFallback.
type FailoverStore struct {
	local      *LocalStore
	remote     Store
	guard      Guard
	logger     *slog.Logger
	onFallback func(reason string)
}

// FailoverConfig configures a FailoverStore.
type FailoverConfig struct {
	// Local serves every call the remote store does not. Required.
	Local *LocalStore

	// Remote is the shared store. Nil runs the store in local-only mode.
	Remote Store

	// Guard admits remote calls. Nil admits every call.
	Guard Guard

	// Logger receives fallback warnings. Default: slog.Default()
	Logger *slog.Logger

	// OnFallback is called with a Fallback* reason for every call served
	// locally while a remote store is configured.
	OnFallback func(reason string)
}

// NewFailoverStore creates a FailoverStore.
func NewFailoverStore(cfg FailoverConfig) *FailoverStore {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "storage.failover")
	}
	if cfg.OnFallback == nil {
		cfg.OnFallback = func(string) {}
	}
	return &FailoverStore{
		local:      cfg.Local,
		remote:     cfg.Remote,
		guard:      cfg.Guard,
		logger:     cfg.Logger,
		onFallback: cfg.OnFallback,
	}
}

// Bucket returns a bucket that prefers the remote store.
func (f *FailoverStore) Bucket(key string, cfg ratelimit.Config) Bucket {
	return &failoverBucket{store: f, key: key, cfg: cfg}
}

// SlidingWindow runs the window check remotely when the guard admits it and
// locally when it does not. A remote failure is returned to the caller
// rather than retried locally.
func (f *FailoverStore) SlidingWindow(ctx context.Context, key string, window time.Duration, max int64) (WindowResult, error) {
	if f.remote == nil {
		return f.local.SlidingWindow(ctx, key, window, max)
	}

	var result WindowResult
	err := f.execute(ctx, func(ctx context.Context) error {
		r, err := f.remote.SlidingWindow(ctx, key, window, max)
		result = r
		return err
	})
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, ErrUnavailable) || ctx.Err() != nil:
		return WindowResult{}, err
	default:
		f.onFallback(FallbackRejected)
		return f.local.SlidingWindow(ctx, key, window, max)
	}
}

// Delete removes keys from both stores. The local delete always happens.
func (f *FailoverStore) Delete(ctx context.Context, keys ...string) error {
	localErr := f.local.Delete(ctx, keys...)
	if f.remote == nil {
		return localErr
	}
	return errors.Join(localErr, f.remote.Delete(ctx, keys...))
}

// Len returns the local bucket count.
func (f *FailoverStore) Len() int {
	return f.local.Len()
}

// Name returns "failover".
func (f *FailoverStore) Name() string {
	return "failover"
}

// Local returns the local store.
func (f *FailoverStore) Local() *LocalStore {
	return f.local
}

// Remote returns the shared store, or nil in local-only mode.
func (f *FailoverStore) Remote() Store {
	return f.remote
}

// Distributed reports whether a shared store is configured.
func (f *FailoverStore) Distributed() bool {
	return f.remote != nil
}

func (f *FailoverStore) execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if f.guard == nil {
		return fn(ctx)
	}
	return f.guard.Execute(ctx, fn)
}

type failoverBucket struct {
	store *FailoverStore
	key   string
	cfg   ratelimit.Config
}

func (b *failoverBucket) TryConsume(ctx context.Context, tokens int64) (ratelimit.Consumption, error) {
	f := b.store
	if f.remote == nil {
		return f.local.Bucket(b.key, b.cfg).TryConsume(ctx, tokens)
	}

	var used ratelimit.Consumption
	err := f.execute(ctx, func(ctx context.Context) error {
		p, err := f.remote.Bucket(b.key, b.cfg).TryConsume(ctx, tokens)
		used = p
		return err
	})
	if err == nil {
		return used, nil
	}
	if ctx.Err() != nil {
		return ratelimit.Consumption{}, ctx.Err()
	}

	if errors.Is(err, ErrUnavailable) {
		f.logger.Warn("shared store failed, serving bucket locally", "key", b.key, "error", err)
		f.onFallback(FallbackStoreError)
	} else {
		f.onFallback(FallbackRejected)
	}
	return f.local.Bucket(b.key, b.cfg).TryConsume(ctx, tokens)
}
