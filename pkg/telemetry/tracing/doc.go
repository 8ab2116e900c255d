// Package tracing provides OpenTelemetry tracing for the admission server.
//
// Spans are exported over OTLP/gRPC. Incoming W3C trace context is
// honoured, so an admission check appears inside the caller's trace.
// When tracing is disabled the tracer is a noop.
package tracing
