package limits

import (
	"context"
	"fmt"
	"time"

	"mercator-hq/turnstile/pkg/limits/quota"
	"mercator-hq/turnstile/pkg/limits/storage"
	"mercator-hq/turnstile/pkg/limits/tiers"
)

// CheckSlidingWindow admits at most maxRequests calls for key within the
// trailing windowMinutes. Unlike the bucket checks it has no burst: every
// admitted call occupies a slot until it ages out of the window.
func (e *Engine) CheckSlidingWindow(ctx context.Context, key string, windowMinutes, maxRequests int) AdmissionResult {
	start := time.Now()
	defer func() { e.metrics.ObserveDuration("sliding_window", time.Since(start).Seconds()) }()

	switch {
	case key == "":
		return e.invalid(key, validationError(key, "sliding window key is required"))
	case windowMinutes <= 0:
		return e.invalid(key, validationError(key, "window must be at least one minute, got %d", windowMinutes))
	case maxRequests <= 0:
		return e.invalid(key, validationError(key, "max requests must be positive, got %d", maxRequests))
	}

	window := time.Duration(windowMinutes) * time.Minute
	limit := int64(maxRequests)

	res, err := e.store.SlidingWindow(ctx, storage.WindowKey(key), window, limit)
	if err != nil {
		e.metrics.RecordSlidingWindow(outcomeError)
		return e.failOpen(ctx, key, DimensionSlidingWindow, limit, err)
	}
	if !res.Allowed {
		e.metrics.RecordSlidingWindow(outcomeDenied)
		e.metrics.RecordCheck(DimensionSlidingWindow, outcomeDenied)
		return e.denied(key, DimensionSlidingWindow, limit, windowRetrySeconds, "sliding window limit exceeded")
	}

	e.metrics.RecordSlidingWindow(outcomeAllowed)
	return e.allowed(key, res.Remaining, limit, "")
}

// CheckCostBased consumes cost tokens from the caller's cost bucket for
// operation, sized by the basic tier.
func (e *Engine) CheckCostBased(ctx context.Context, id Identity, operation string, cost int64) AdmissionResult {
	if err := ValidateOperation(operation); err != nil {
		return e.invalid(operation, err)
	}
	subject := id.subject()
	if subject == "" {
		return e.invalid(operation, validationError(operation, "identity requires a user id or an address"))
	}
	if cost <= 0 {
		return e.invalid(operation, validationError(operation, "cost must be positive, got %d", cost))
	}

	cfg := e.resolve(ctx, operation, tiers.Basic)
	key := storage.BucketKey(string(DimensionCost), subject, operation)

	used, err := e.store.Bucket(key, cfg).TryConsume(ctx, cost)
	if err != nil {
		return e.failOpen(ctx, operation, DimensionCost, cfg.LongTermLimit, err)
	}
	if !used.Consumed {
		e.metrics.RecordCheck(DimensionCost, outcomeDenied)
		e.logger.WarnContext(ctx, "cost-based limit exceeded", "subject", subject, "operation", operation, "cost", cost)
		return e.denied(operation, DimensionCost, cfg.LongTermLimit, used.RetryAfterSeconds(),
			fmt.Sprintf("operation cost (%d tokens) exceeds available rate limit", cost))
	}

	e.metrics.RecordCheck(DimensionCost, outcomeAllowed)
	return e.allowed(operation, used.Remaining, cfg.LongTermLimit, "")
}

// CheckProgressive checks userID against a bucket whose limits grow with
// trust: the basic-tier config scaled by 1 + 0.2 per trust level, with
// trust clamped to 0..10.
func (e *Engine) CheckProgressive(ctx context.Context, userID, operation string, trustLevel int) AdmissionResult {
	if err := ValidateOperation(operation); err != nil {
		return e.invalid(operation, err)
	}
	if userID == "" {
		return e.invalid(operation, validationError(operation, "progressive limits require a user id"))
	}

	trust := min(max(trustLevel, 0), 10)
	cfg := e.resolve(ctx, operation, tiers.Basic).Scale(1 + 0.2*float64(trust))
	key := storage.BucketKey(string(DimensionProgressive), userID, operation)

	used, err := e.store.Bucket(key, cfg).TryConsume(ctx, 1)
	if err != nil {
		return e.failOpen(ctx, operation, DimensionProgressive, cfg.LongTermLimit, err)
	}
	if !used.Consumed {
		e.metrics.RecordCheck(DimensionProgressive, outcomeDenied)
		return e.denied(operation, DimensionProgressive, cfg.LongTermLimit, used.RetryAfterSeconds(),
			fmt.Sprintf("rate limit exceeded for %s", DimensionProgressive))
	}

	e.metrics.RecordCheck(DimensionProgressive, outcomeAllowed)
	return e.allowed(operation, used.Remaining, cfg.LongTermLimit, "")
}

// CheckQuota checks the daily then the monthly quota of a client's API key
// and counts the request when both have room. An unknown tier is measured
// against the basic tier.
func (e *Engine) CheckQuota(ctx context.Context, clientID, apiKey string, tier tiers.Tier) quota.Status {
	status := e.quotas.Check(quota.Key(clientID, apiKey), tier)
	if !status.Allowed {
		window := "daily"
		if status.Reason == quota.ReasonMonthlyExceeded {
			window = "monthly"
		}
		e.metrics.RecordQuotaExceeded(window)
		e.logger.InfoContext(ctx, "api quota exhausted", "client", clientID, "window", window)
	}
	return status
}
