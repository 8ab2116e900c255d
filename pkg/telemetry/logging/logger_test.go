package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"mercator-hq/turnstile/pkg/config"
)

// ===== Logger Tests =====

func TestNew_Formats(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		want    string
		wantErr bool
	}{
		{name: "json", format: "json", want: `"msg":"hello"`},
		{name: "text", format: "text", want: "msg=hello"},
		{name: "default", format: "", want: `"msg":"hello"`},
		{name: "unknown", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(config.LoggingConfig{Level: "info", Format: tt.format}, &buf)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			logger.Info("hello")
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("Expected output containing %q, got %q", tt.want, buf.String())
			}
		})
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("quiet")
	logger.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Error("Expected info record to be filtered")
	}
	if !strings.Contains(out, "loud") {
		t.Error("Expected warn record to be written")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNew_RedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("connecting", "password", "hunter2", "admin_token", "abc", "addr", "redis:6379")

	out := buf.String()
	if strings.Contains(out, "hunter2") || strings.Contains(out, "abc\"") {
		t.Errorf("Expected secrets to be redacted, got %q", out)
	}
	if !strings.Contains(out, "redis:6379") {
		t.Errorf("Expected non-sensitive field to be kept, got %q", out)
	}
}

// ===== Context Tests =====

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithUser(ctx, "u-42")
	ctx = WithTenant(ctx, "acme")
	ctx = WithClientAddress(ctx, "203.0.113.7")
	ctx = WithOperation(ctx, "payment.transfer")

	logger.With("component", "test").InfoContext(ctx, "admitted")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("failed to decode log record: %v", err)
	}

	want := map[string]string{
		"request_id":     "req-1",
		"user":           "u-42",
		"tenant":         "acme",
		"client_address": "203.0.113.7",
		"operation":      "payment.transfer",
		"component":      "test",
	}
	for k, v := range want {
		if record[k] != v {
			t.Errorf("Expected %s=%q, got %v", k, v, record[k])
		}
	}
}

func TestContextGetters_Empty(t *testing.T) {
	ctx := context.Background()
	if GetRequestID(ctx) != "" || GetUser(ctx) != "" || GetTenant(ctx) != "" ||
		GetClientAddress(ctx) != "" || GetOperation(ctx) != "" {
		t.Error("Expected empty values from bare context")
	}
	if len(contextAttrs(ctx)) != 0 {
		t.Error("Expected no attributes from bare context")
	}
}
