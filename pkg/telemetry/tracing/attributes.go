package tracing

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys in the turnstile namespace. The admission engine
// records the decision itself; these describe the caller.
const (
	AttrRequestID     = "turnstile.request_id"
	AttrUser          = "turnstile.user"
	AttrTenant        = "turnstile.tenant"
	AttrClientAddress = "turnstile.client_address"
)

// HTTPAttributes returns the request attributes recorded on server spans.
func HTTPAttributes(r *http.Request) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("http.method", r.Method),
		attribute.String("http.route", r.URL.Path),
		attribute.String("http.user_agent", r.UserAgent()),
	}
}

// Caller identifies who an admission request is for.
type Caller struct {
	RequestID     string
	User          string
	Tenant        string
	ClientAddress string
}

// SetCaller records the caller on span. Empty fields are omitted.
func SetCaller(span trace.Span, c Caller) {
	attrs := make([]attribute.KeyValue, 0, 4)
	for _, kv := range []struct{ key, value string }{
		{AttrRequestID, c.RequestID},
		{AttrUser, c.User},
		{AttrTenant, c.Tenant},
		{AttrClientAddress, c.ClientAddress},
	} {
		if kv.value != "" {
			attrs = append(attrs, attribute.String(kv.key, kv.value))
		}
	}
	span.SetAttributes(attrs...)
}
