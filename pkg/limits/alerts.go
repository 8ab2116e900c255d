package limits

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Security event types.
const (
	EventFloodDetected       = "flood_detected"
	EventExcessiveViolations = "excessive_violations"
	EventManualBlock         = "manual_block"
)

// SecurityEvent describes an abuse signal worth alerting on.
type SecurityEvent struct {
	Type       string            `json:"type"`
	Identifier string            `json:"identifier"`
	Reason     string            `json:"reason"`
	Duration   time.Duration     `json:"duration"`
	Timestamp  time.Time         `json:"timestamp"`
	Details    map[string]string `json:"details,omitempty"`
}

// AlertSink delivers security events to an alerting channel.
type AlertSink interface {
	Publish(ctx context.Context, event SecurityEvent) error
}

// LogSink writes security events as structured warnings.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default().With("component", "security")
	}
	return &LogSink{logger: logger}
}

// Publish logs the event.
func (s *LogSink) Publish(ctx context.Context, event SecurityEvent) error {
	attrs := []any{
		"event", event.Type,
		"identifier", event.Identifier,
		"reason", event.Reason,
		"duration", event.Duration,
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}
	s.logger.WarnContext(ctx, "security event", attrs...)
	return nil
}

// ThrottledSink bounds how many events of each type reach the next sink.
// Events over the limit are dropped and counted.
type ThrottledSink struct {
	next  AlertSink
	every rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	dropped  map[string]int64
}

// NewThrottledSink lets through at most burst events of one type at once
// and one more every interval after that.
func NewThrottledSink(next AlertSink, interval time.Duration, burst int) *ThrottledSink {
	if interval <= 0 {
		interval = time.Second
	}
	if burst <= 0 {
		burst = 10
	}
	return &ThrottledSink{
		next:     next,
		every:    rate.Every(interval),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
		dropped:  make(map[string]int64),
	}
}

// Publish forwards the event if its type is under the limit.
func (s *ThrottledSink) Publish(ctx context.Context, event SecurityEvent) error {
	at := event.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	s.mu.Lock()
	lim, ok := s.limiters[event.Type]
	if !ok {
		lim = rate.NewLimiter(s.every, s.burst)
		s.limiters[event.Type] = lim
	}
	allowed := lim.AllowN(at, 1)
	if !allowed {
		s.dropped[event.Type]++
	}
	s.mu.Unlock()

	if !allowed {
		return nil
	}
	return s.next.Publish(ctx, event)
}

// Dropped returns how many events of eventType were suppressed.
func (s *ThrottledSink) Dropped(eventType string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped[eventType]
}

// MultiSink fans events out to every sink. All sinks are tried; their
// errors are joined.
type MultiSink []AlertSink

// Publish delivers event to each sink in order.
func (m MultiSink) Publish(ctx context.Context, event SecurityEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
