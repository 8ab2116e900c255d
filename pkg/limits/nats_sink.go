package limits

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/propagation"
)

// msgPublisher is the part of *nats.Conn the sink uses.
type msgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NATSSink publishes security events as JSON on "<prefix>.<type>". The
// caller's trace context travels in the message headers.
type NATSSink struct {
	conn   msgPublisher
	prefix string
}

// NewNATSSink creates a sink on an established connection. The caller
// owns conn and drains it on shutdown.
func NewNATSSink(conn *nats.Conn, subjectPrefix string) *NATSSink {
	return &NATSSink{conn: conn, prefix: subjectPrefix}
}

// Subject returns the subject events of eventType are published on.
func (s *NATSSink) Subject(eventType string) string {
	return s.prefix + "." + eventType
}

// Publish sends the event. Delivery is fire-and-forget: a nil error means
// the message was buffered by the client.
func (s *NATSSink) Publish(ctx context.Context, event SecurityEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode security event: %w", err)
	}

	hdr := nats.Header{}
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(hdr))

	msg := &nats.Msg{Subject: s.Subject(event.Type), Data: data, Header: hdr}
	if err := s.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Subject, err)
	}
	return nil
}
