package limits

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
)

type fakePublisher struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakePublisher) PublishMsg(msg *nats.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

// ===== NATS Sink Tests =====

func TestNATSSink_Publish(t *testing.T) {
	pub := &fakePublisher{}
	sink := &NATSSink{conn: pub, prefix: "turnstile.security"}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	event := SecurityEvent{
		Type:       EventFloodDetected,
		Identifier: "203.0.113.7",
		Reason:     "flood",
		Duration:   time.Hour,
		Timestamp:  testStart,
	}
	if err := sink.Publish(ctx, event); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(pub.msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(pub.msgs))
	}
	msg := pub.msgs[0]
	if msg.Subject != "turnstile.security.flood_detected" {
		t.Errorf("Expected subject turnstile.security.flood_detected, got %q", msg.Subject)
	}

	var got SecurityEvent
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if got.Identifier != event.Identifier || got.Duration != time.Hour {
		t.Errorf("Expected payload %+v, got %+v", event, got)
	}

	if tp := http.Header(msg.Header).Get("traceparent"); tp == "" {
		t.Error("Expected traceparent header")
	}
}

func TestNATSSink_PublishError(t *testing.T) {
	sink := &NATSSink{conn: &fakePublisher{err: nats.ErrConnectionClosed}, prefix: "alerts"}

	err := sink.Publish(context.Background(), SecurityEvent{Type: EventManualBlock})
	if !errors.Is(err, nats.ErrConnectionClosed) {
		t.Errorf("Expected wrapped ErrConnectionClosed, got %v", err)
	}
}

func TestMultiSink(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}
	sink := MultiSink{first, failingSink{}, second}

	err := sink.Publish(context.Background(), SecurityEvent{Type: EventManualBlock})
	if err == nil {
		t.Error("Expected the failing sink's error")
	}
	if len(first.types()) != 1 || len(second.types()) != 1 {
		t.Errorf("Expected every sink to be tried, got %v and %v", first.types(), second.types())
	}
}
