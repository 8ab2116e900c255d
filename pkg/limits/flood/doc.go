// Package flood detects request floods per tenant or client address.
//
// A Tracker keeps a trailing-window log of request timestamps per key. The
// admission engine records every request that reaches the flood step and
// blocks the key when Record reports the threshold was crossed.
//
//	tracker := flood.NewTracker(flood.Config{Threshold: 1000, Window: time.Minute})
//	if tracker.Record("203.0.113.7") {
//	    // block the address
//	}
//
// Cleanup is meant to be run periodically to bound memory; Record and Count
// prune on read, so a late sweep never changes a decision.
package flood
