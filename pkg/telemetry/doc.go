// Package telemetry wires the observability stack of the admission server.
//
// # Components
//
//   - logging: slog logger that carries request fields from the context
//   - metrics: Prometheus registry, HTTP request metrics and exposition
//   - tracing: OpenTelemetry tracing exported over OTLP/gRPC
//   - health: liveness, readiness and version endpoints
//
// # Usage
//
//	tel, err := telemetry.New(&cfg.Telemetry, telemetry.BuildInfo{Version: version})
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	engine, err := limits.NewEngine(engineCfg,
//	    limits.WithLogger(tel.Logger),
//	    limits.WithRegisterer(tel.Metrics.Registry()))
package telemetry
