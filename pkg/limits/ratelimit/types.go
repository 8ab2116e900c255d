package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Config contains the dual-bandwidth limits of a token bucket.
//
// The long-term bandwidth bounds steady-state throughput and the short-term
// bandwidth bounds bursts. Burst is added to the capacity of both.
// A bandwidth with a zero limit or zero period is disabled.
type Config struct {
	// LongTermLimit is the number of tokens added per LongTermPeriod.
	LongTermLimit int64

	// LongTermPeriod is the long-term refill interval.
	LongTermPeriod time.Duration

	// ShortTermLimit is the number of tokens added per ShortTermPeriod.
	ShortTermLimit int64

	// ShortTermPeriod is the short-term refill interval.
	ShortTermPeriod time.Duration

	// Burst is the number of tokens either bandwidth may hold above its limit.
	Burst int64
}

// ErrInvalidConfig is returned by Validate for negative limits or periods.
var ErrInvalidConfig = errors.New("invalid rate limit config")

// Validate reports whether all values are non-negative.
func (c Config) Validate() error {
	switch {
	case c.LongTermLimit < 0:
		return fmt.Errorf("%w: long term limit %d is negative", ErrInvalidConfig, c.LongTermLimit)
	case c.ShortTermLimit < 0:
		return fmt.Errorf("%w: short term limit %d is negative", ErrInvalidConfig, c.ShortTermLimit)
	case c.Burst < 0:
		return fmt.Errorf("%w: burst %d is negative", ErrInvalidConfig, c.Burst)
	case c.LongTermPeriod < 0 || c.ShortTermPeriod < 0:
		return fmt.Errorf("%w: periods must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Scale multiplies both limits and the burst by factor, truncating toward zero.
// Periods are unchanged. A positive limit never scales below 1, since a
// zero limit would disable the bandwidth instead of tightening it.
func (c Config) Scale(factor float64) Config {
	return Config{
		LongTermLimit:   keepPositive(c.LongTermLimit, scaleInt(c.LongTermLimit, factor)),
		LongTermPeriod:  c.LongTermPeriod,
		ShortTermLimit:  keepPositive(c.ShortTermLimit, scaleInt(c.ShortTermLimit, factor)),
		ShortTermPeriod: c.ShortTermPeriod,
		Burst:           scaleInt(c.Burst, factor),
	}
}

// Divide divides both limits and the burst by d using integer division.
// As with Scale, a positive limit never drops below 1.
func (c Config) Divide(d int64) Config {
	if d <= 1 {
		return c
	}
	return Config{
		LongTermLimit:   keepPositive(c.LongTermLimit, c.LongTermLimit/d),
		LongTermPeriod:  c.LongTermPeriod,
		ShortTermLimit:  keepPositive(c.ShortTermLimit, c.ShortTermLimit/d),
		ShortTermPeriod: c.ShortTermPeriod,
		Burst:           c.Burst / d,
	}
}

// Unlimited reports whether both bandwidths are disabled.
func (c Config) Unlimited() bool {
	return !bandwidthEnabled(c.LongTermLimit, c.LongTermPeriod) &&
		!bandwidthEnabled(c.ShortTermLimit, c.ShortTermPeriod)
}

// String renders the config as "10/1h0m0s+3/1m0s burst 5".
func (c Config) String() string {
	return fmt.Sprintf("%d/%s+%d/%s burst %d",
		c.LongTermLimit, c.LongTermPeriod, c.ShortTermLimit, c.ShortTermPeriod, c.Burst)
}

// Consumption is the outcome of a consume attempt.
type Consumption struct {
	// Consumed is true when the tokens were taken.
	Consumed bool

	// Remaining is the smallest token count across enabled bandwidths after
	// the attempt. It is math.MaxInt64 for an unlimited bucket.
	Remaining int64

	// RetryAfter is how long until the requested tokens become available.
	// Zero when Consumed is true.
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds with a floor of one
// second for denied attempts.
func (p Consumption) RetryAfterSeconds() int64 {
	if p.Consumed {
		return 0
	}
	return CeilSeconds(p.RetryAfter)
}

// CeilSeconds rounds d up to whole seconds, never returning less than 1.
func CeilSeconds(d time.Duration) int64 {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func bandwidthEnabled(limit int64, period time.Duration) bool {
	return limit > 0 && period > 0
}

func keepPositive(orig, v int64) int64 {
	if orig > 0 && v < 1 {
		return 1
	}
	return v
}

func scaleInt(v int64, factor float64) int64 {
	if factor == 1 {
		return v
	}
	scaled := float64(v) * factor
	if scaled >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(scaled)
}
