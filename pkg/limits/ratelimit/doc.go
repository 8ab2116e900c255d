// Package ratelimit provides the in-process rate limiting primitives used by
// the admission engine.
//
// # Overview
//
// Two algorithms are implemented:
//
//   - TokenBucket: a dual-bandwidth token bucket. A long-term bandwidth bounds
//     steady-state throughput (e.g. 10 per hour) and a short-term bandwidth
//     bounds bursts (e.g. 3 per minute). Both share a burst allowance. A
//     request is admitted only when both bandwidths have tokens.
//   - SlidingWindow: an exact log of admission timestamps, for callers that
//     need smoothing rather than token semantics.
//
// # Refill
//
// Bandwidths refill intervally: limit tokens are added at every whole
// period boundary, clamped to limit+burst. A new bucket starts with limit
// tokens, so the burst allowance accrues only after a full idle period.
//
//	bucket := ratelimit.NewTokenBucket(ratelimit.Config{
//	    LongTermLimit:   10,
//	    LongTermPeriod:  time.Hour,
//	    ShortTermLimit:  3,
//	    ShortTermPeriod: time.Minute,
//	    Burst:           5,
//	}, nil)
//
//	if used := bucket.TryConsume(1); !used.Consumed {
//	    retry := used.RetryAfterSeconds()
//	}
//
// # Time
//
// All primitives read time through a Clock so tests can drive them with a
// ManualClock instead of sleeping.
package ratelimit
