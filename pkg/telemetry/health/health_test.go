package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// ===== Checker Tests =====

func TestCheckReadiness(t *testing.T) {
	failing := func(context.Context) error { return errors.New("connection refused") }
	passing := func(context.Context) error { return nil }

	tests := []struct {
		name     string
		register func(c *Checker)
		want     string
	}{
		{
			name:     "no checks",
			register: func(c *Checker) {},
			want:     StatusReady,
		},
		{
			name: "all passing",
			register: func(c *Checker) {
				c.RegisterCheck("scheduler", passing)
				c.RegisterOptionalCheck("redis", passing)
			},
			want: StatusReady,
		},
		{
			name: "optional failing",
			register: func(c *Checker) {
				c.RegisterCheck("scheduler", passing)
				c.RegisterOptionalCheck("redis", failing)
			},
			want: StatusDegraded,
		},
		{
			name: "critical failing",
			register: func(c *Checker) {
				c.RegisterCheck("scheduler", failing)
				c.RegisterOptionalCheck("redis", failing)
			},
			want: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			tt.register(c)

			status := c.CheckReadiness(context.Background())
			if status.Status != tt.want {
				t.Errorf("Expected status %q, got %q", tt.want, status.Status)
			}
		})
	}
}

func TestCheckReadiness_Timeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.RegisterCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	status := c.CheckReadiness(context.Background())
	result := status.Checks["slow"]
	if result.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %q", result.Status)
	}
	if result.Message != ErrCheckTimeout.Error() {
		t.Errorf("Expected timeout message, got %q", result.Message)
	}
}

func TestRegisterAndUnregister(t *testing.T) {
	c := New(0)
	c.RegisterCheck("b", func(context.Context) error { return nil })
	c.RegisterOptionalCheck("a", func(context.Context) error { return nil })

	names := c.ListChecks()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Expected [a b], got %v", names)
	}

	c.UnregisterCheck("a")
	if len(c.ListChecks()) != 1 {
		t.Errorf("Expected 1 check after unregister, got %v", c.ListChecks())
	}
}

// ===== Endpoint Tests =====

func TestReadinessHandler_StatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		critical bool
		wantCode int
	}{
		{"optional failure", false, http.StatusOK},
		{"critical failure", true, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			check := func(context.Context) error { return errors.New("down") }
			if tt.critical {
				c.RegisterCheck("redis", check)
			} else {
				c.RegisterOptionalCheck("redis", check)
			}

			rec := httptest.NewRecorder()
			c.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, rec.Code)
			}
			var body HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Checks["redis"].Message != "down" {
				t.Errorf("Expected message %q, got %q", "down", body.Checks["redis"].Message)
			}
		})
	}
}

func TestLivenessHandler(t *testing.T) {
	c := New(time.Second)

	rec := httptest.NewRecorder()
	c.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health/live", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/health/live", nil))
	if rec.Body.Len() != 0 {
		t.Errorf("Expected empty HEAD body, got %q", rec.Body.String())
	}
}

func TestVersionHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	VersionHandler("1.2.3", "abc123", "2026-03-02").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if info.Version != "1.2.3" || info.Commit != "abc123" {
		t.Errorf("Unexpected version info %+v", info)
	}
	if info.GoVersion == "" {
		t.Error("Expected go version")
	}
}

func TestRateLimitedHandler(t *testing.T) {
	calls := 0
	handler := RateLimitedHandler(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}, 2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("Expected first two requests to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("Expected third request to be limited, got %d", codes[2])
	}
	if calls != 2 {
		t.Errorf("Expected 2 handler calls, got %d", calls)
	}
}
