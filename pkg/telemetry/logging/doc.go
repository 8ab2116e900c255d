// Package logging builds the process logger on log/slog.
//
// The handler copies request fields (request id, user, tenant, client
// address, operation) from the context into every record, so components
// that log with a context need no request-specific logger:
//
//	logger, err := logging.New(cfg.Telemetry.Logging, nil)
//	ctx = logging.WithRequestID(ctx, "req-123")
//	logger.InfoContext(ctx, "admission denied", "dimension", "user")
//
// Values of sensitive keys such as password and admin_token are replaced
// with [REDACTED].
package logging
