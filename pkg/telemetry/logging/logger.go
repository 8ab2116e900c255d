package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"mercator-hq/turnstile/pkg/config"
)

// Redacted replaces the value of sensitive attributes.
const Redacted = "[REDACTED]"

// sensitiveKeys are attribute keys whose values never reach the output.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"admin_token":   true,
	"token":         true,
	"authorization": true,
}

// New creates the process logger from cfg. Output goes to w, or stdout
// when w is nil. Request fields stored with the context helpers are added
// to every record logged with a context.
func New(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	if w == nil {
		w = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: redactAttr,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json", "":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format: unknown log format: %s", cfg.Format)
	}

	return slog.New(&ContextHandler{next: handler}), nil
}

// ParseLevel parses a log level string into slog.Level.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] && a.Value.String() != "" {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// ContextHandler adds request fields carried by the context to each record.
type ContextHandler struct {
	next slog.Handler
}

// Enabled reports whether the wrapped handler handles level.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle adds context fields and forwards the record.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		r.AddAttrs(contextAttrs(ctx)...)
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs returns a handler with attrs preset.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{next: h.next.WithAttrs(attrs)}
}

// WithGroup returns a handler that nests later attributes under name.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{next: h.next.WithGroup(name)}
}
