package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Extract returns ctx carrying the W3C trace context found in headers.
func Extract(ctx context.Context, headers http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(headers))
}

// Inject writes the trace context of ctx into headers.
func Inject(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

// Middleware starts a server span for every request, continuing any trace
// the caller propagated, and exposes its trace id as X-Trace-ID.
func (t *Tracer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := Extract(r.Context(), r.Header)
		ctx, span := t.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(HTTPAttributes(r)...),
		)
		defer span.End()

		if id := TraceID(ctx); id != "" {
			w.Header().Set("X-Trace-ID", id)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
