package cli

import (
	"errors"
	"fmt"
	"testing"

	"mercator-hq/turnstile/pkg/config"
)

func TestConfigError(t *testing.T) {
	tests := []struct {
		name string
		err  *ConfigError
		want string
	}{
		{
			name: "with field",
			err:  NewConfigError("server.listen_address", "missing required field"),
			want: "config error in server.listen_address: missing required field",
		},
		{
			name: "without field",
			err:  NewConfigError("", "file not found"),
			want: "config error: file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapConfigError(t *testing.T) {
	cause := errors.New("permission denied")
	err := WrapConfigError("failed to load config", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is() should find the cause through ConfigError.Unwrap()")
	}
	if want := "config error: failed to load config: permission denied"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestCommandError(t *testing.T) {
	underlyingErr := errors.New("underlying error")
	err := NewCommandError("run", underlyingErr)

	if want := "command run failed: underlying error"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, underlyingErr) {
		t.Error("errors.Is() should work with CommandError.Unwrap()")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"config error", NewConfigError("x", "bad"), ExitConfig},
		{"validation error", config.ValidationError{Errors: []config.FieldError{{Field: "a", Message: "b"}}}, ExitConfig},
		{"wrapped validation error", NewCommandError("run", fmt.Errorf("load: %w", config.ValidationError{})), ExitConfig},
		{"command error", NewCommandError("run", errors.New("boom")), ExitFailure},
		{"plain error", errors.New("boom"), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
