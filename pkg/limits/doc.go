// Package limits decides whether a caller may perform an API operation.
//
// # Overview
//
// The Engine admits or denies each request by checking it against several
// independent budgets:
//
//   - user and client address buckets, sized by the operation table and the
//     caller's tier
//   - an endpoint bucket shared by every caller of the operation
//   - a tenant bucket when the caller belongs to one
//   - a system-wide ceiling per operation
//
// Before the buckets, whitelisted callers are admitted unconditionally and
// blocked callers are refused. Callers that flood the service are blocked
// automatically, as are users that keep hitting their limits.
//
// # Architecture
//
// The package is organized into sub-packages:
//
//   - ratelimit: dual-bandwidth token buckets and sliding-window logs
//   - storage: local, Redis and failover bucket stores
//   - breaker: the circuit breaker guarding Redis
//   - enforcement: blocks, the whitelist and violation counters
//   - flood: per-tenant and per-address request rate tracking
//   - tiers: subscription tiers and temporary limit adjustments
//   - quota: daily and monthly API quotas
//
// # Usage
//
//	engine, err := limits.NewEngine(limits.DefaultConfig(),
//	    limits.WithRegisterer(prometheus.DefaultRegisterer))
//	if err != nil {
//	    return err
//	}
//	defer engine.Close()
//	if err := engine.Start(ctx); err != nil {
//	    return err
//	}
//
//	result := engine.CheckAdmission(ctx, limits.Identity{
//	    UserID:  "u-42",
//	    Address: "203.0.113.7",
//	}, "payment.transfer", tiers.Premium)
//	if !result.Allowed {
//	    return fmt.Errorf("denied by %s, retry in %s", result.Dimension, result.RetryAfter())
//	}
//
// # Degraded Mode
//
// In distributed mode buckets live in Redis. When Redis fails, the breaker
// opens and each instance enforces limits from its own local buckets until
// Redis recovers. A bucket check that cannot complete at all admits the
// request with Remaining 0 and a non-nil Err.
//
// # Security Events
//
// Flood detections, escalated violations and manual blocks are published
// asynchronously to an AlertSink. LogSink writes them through slog,
// NATSSink publishes them to <subject>.<event type> with the trace context
// in the message headers, and MultiSink fans out to several sinks.
// NewEngine wraps the configured sink in a ThrottledSink.
//
// # Thread Safety
//
// Engine methods are safe for concurrent use.
package limits
