// Package breaker implements the availability guard in front of the shared
// bucket store.
//
// A Breaker watches the outcomes of calls made through Execute. When the
// failure rate over the most recent calls crosses the threshold it opens,
// and callers are expected to serve requests from local state instead. After
// a cooldown it lets a few trial calls through; enough consecutive successes
// close it again.
//
//	cb := breaker.New(breaker.Config{
//	    FailureRateThreshold: 0.5,
//	    WaitDuration:         30 * time.Second,
//	    CallTimeout:          250 * time.Millisecond,
//	})
//
//	err := cb.Execute(ctx, func(ctx context.Context) error {
//	    return client.Ping(ctx).Err()
//	})
//	if errors.Is(err, breaker.ErrOpen) {
//	    // use the fallback
//	}
package breaker
