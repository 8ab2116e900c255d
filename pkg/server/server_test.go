package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/turnstile/pkg/config"
	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/limits/enforcement"
	"mercator-hq/turnstile/pkg/limits/ratelimit"
	"mercator-hq/turnstile/pkg/limits/tiers"
	"mercator-hq/turnstile/pkg/telemetry"
)

const testOperation = "test.op"

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *limits.Engine) {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}

	tel, err := telemetry.New(&cfg.Telemetry,
		telemetry.BuildInfo{Version: "1.2.3", Commit: "abc123", BuildTime: "2026-03-02T09:00:00Z"},
		telemetry.WithLogWriter(io.Discard))
	if err != nil {
		t.Fatalf("telemetry.New failed: %v", err)
	}

	lcfg := limits.DefaultConfig()
	lcfg.LocalCache.TTL = time.Hour
	lcfg.Operations = map[string]ratelimit.Config{
		testOperation: {LongTermLimit: 4, LongTermPeriod: time.Hour},
	}
	engine, err := limits.NewEngine(lcfg,
		limits.WithClock(ratelimit.NewManualClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))),
		limits.WithRegisterer(tel.Metrics.Registry()),
		limits.WithLogger(tel.Logger),
	)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	return New(cfg, engine, tel), engine
}

func do(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	r.Host = "localhost"
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

// ===== Admission API Tests =====

func TestCheckEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()
	body := `{"user_id":"u-1","operation":"test.op"}`

	// The address bucket holds half of the user bucket, so it denies first.
	for i := 0; i < 2; i++ {
		rec := do(h, "POST", "/v1/admission/check", body, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d: %s", i+1, rec.Code, rec.Body.String())
		}
		if rec.Header().Get(limits.HeaderPolicy) != testOperation {
			t.Errorf("Expected policy header %q, got %q", testOperation, rec.Header().Get(limits.HeaderPolicy))
		}
	}

	rec := do(h, "POST", "/v1/admission/check", body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	result := decode[limits.AdmissionResult](t, rec)
	if result.Allowed {
		t.Error("Expected denial")
	}
	if result.Dimension != limits.DimensionAddress {
		t.Errorf("Expected dimension address, got %q", result.Dimension)
	}
	if rec.Header().Get(limits.HeaderRetryAfter) == "" {
		t.Error("Expected Retry-After header on denial")
	}
	if got := rec.Header().Get(limits.HeaderRemaining); got != "0" {
		t.Errorf("Expected remaining 0, got %q", got)
	}
}

func TestCheckEndpointExplicitAddress(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	// A different explicit address per request leaves the user bucket as
	// the binding limit.
	for i := 0; i < 4; i++ {
		body := fmt.Sprintf(`{"user_id":"u-2","operation":"test.op","address":"203.0.113.%d"}`, i+1)
		if rec := do(h, "POST", "/v1/admission/check", body, nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := do(h, "POST", "/v1/admission/check", `{"user_id":"u-2","operation":"test.op","address":"203.0.113.9"}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	if result := decode[limits.AdmissionResult](t, rec); result.Dimension != limits.DimensionUser {
		t.Errorf("Expected dimension user, got %q", result.Dimension)
	}
}

func TestCheckEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) { c.Server.MaxBodyBytes = 64 })
	h := srv.Handler()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid operation", `{"user_id":"u-1","operation":"Bad Op"}`, http.StatusBadRequest},
		{"missing operation", `{"user_id":"u-1"}`, http.StatusBadRequest},
		{"unknown tier", `{"user_id":"u-1","operation":"test.op","tier":"platinum"}`, http.StatusBadRequest},
		{"malformed json", `{"user_id":`, http.StatusBadRequest},
		{"unknown field", `{"user":"u-1","operation":"test.op"}`, http.StatusBadRequest},
		{"body too large", `{"user_id":"` + strings.Repeat("x", 100) + `","operation":"test.op"}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, "POST", "/v1/admission/check", tt.body, nil)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	if rec := do(h, "POST", "/v1/admission/check", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty body, got %d", rec.Code)
	}
	if rec := do(h, "GET", "/v1/admission/check", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", rec.Code)
	}
}

func TestSlidingWindowEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()
	body := `{"key":"export:u-1","window_minutes":1,"max_requests":2}`

	for i := 0; i < 2; i++ {
		if rec := do(h, "POST", "/v1/admission/sliding-window", body, nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := do(h, "POST", "/v1/admission/sliding-window", body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	if result := decode[limits.AdmissionResult](t, rec); result.Dimension != limits.DimensionSlidingWindow {
		t.Errorf("Expected dimension sliding_window, got %q", result.Dimension)
	}

	if rec := do(h, "POST", "/v1/admission/sliding-window", `{"key":"k","window_minutes":0,"max_requests":2}`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for zero window, got %d", rec.Code)
	}
}

func TestCostEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()
	body := `{"user_id":"u-1","operation":"test.op","cost":3}`

	rec := do(h, "POST", "/v1/admission/cost", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if result := decode[limits.AdmissionResult](t, rec); result.Remaining != 1 {
		t.Errorf("Expected remaining 1, got %d", result.Remaining)
	}

	rec = do(h, "POST", "/v1/admission/cost", body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	if result := decode[limits.AdmissionResult](t, rec); result.Dimension != limits.DimensionCost {
		t.Errorf("Expected dimension cost, got %q", result.Dimension)
	}

	if rec := do(h, "POST", "/v1/admission/cost", `{"user_id":"u-1","operation":"test.op","cost":0}`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for zero cost, got %d", rec.Code)
	}
}

func TestProgressiveEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	tests := []struct {
		name    string
		user    string
		trust   string
		allowed int
	}{
		{"untrusted", "u-new", "0", 4},
		{"trusted", "u-old", "5", 8},
		{"trust clamped", "u-vet", "99", 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"user_id":"` + tt.user + `","operation":"test.op","trust_level":` + tt.trust + `}`
			allowed := 0
			for i := 0; i < 20; i++ {
				if rec := do(h, "POST", "/v1/admission/progressive", body, nil); rec.Code == http.StatusOK {
					allowed++
				}
			}
			if allowed != tt.allowed {
				t.Errorf("Expected %d admissions, got %d", tt.allowed, allowed)
			}
		})
	}
}

func TestQuotaEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	rec := do(h, "POST", "/v1/quota/check", `{"client_id":"c-1","api_key":"k-1","tier":"free"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var status struct {
		Allowed        bool  `json:"allowed"`
		DailyRemaining int64 `json:"daily_remaining"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !status.Allowed {
		t.Error("Expected quota check to pass")
	}
	if status.DailyRemaining != 999 {
		t.Errorf("Expected 999 daily requests left, got %d", status.DailyRemaining)
	}

	for _, body := range []string{`{"api_key":"k-1"}`, `{"client_id":"c-1"}`} {
		if rec := do(h, "POST", "/v1/quota/check", body, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for %s, got %d", body, rec.Code)
		}
	}
}

// ===== Admin API Tests =====

func TestAdminAuthentication(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) { c.Server.AdminToken = "s3cret" })
	h := srv.Handler()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic s3cret", http.StatusUnauthorized},
		{"valid token", "Bearer s3cret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			rec := do(h, "GET", "/v1/admin/statistics", "", headers)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
		})
	}

	// Admission endpoints never require the admin token.
	if rec := do(h, "POST", "/v1/admission/check", `{"user_id":"u-1","operation":"test.op"}`, nil); rec.Code != http.StatusOK {
		t.Errorf("Expected admission to stay open, got %d", rec.Code)
	}
}

func TestAdminWhitelist(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()
	check := `{"user_id":"u-vip","operation":"test.op"}`

	if rec := do(h, "POST", "/v1/admin/whitelist", `{"kind":"user","value":"u-vip"}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	for i := 0; i < 10; i++ {
		rec := do(h, "POST", "/v1/admission/check", check, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("whitelisted request %d: expected 200, got %d", i+1, rec.Code)
		}
		if result := decode[limits.AdmissionResult](t, rec); result.Remaining != limits.Unlimited {
			t.Fatalf("Expected unlimited remaining, got %d", result.Remaining)
		}
	}

	if rec := do(h, "DELETE", "/v1/admin/whitelist/user/u-vip", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	// Whitelisted requests consumed nothing, so the address bucket still
	// admits two before denying.
	codes := []int{}
	for i := 0; i < 3; i++ {
		codes = append(codes, do(h, "POST", "/v1/admission/check", check, nil).Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("Expected third request after removal to be denied, got %v", codes)
	}

	if rec := do(h, "POST", "/v1/admin/whitelist", `{"kind":"team","value":"x"}`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown kind, got %d", rec.Code)
	}
	if rec := do(h, "POST", "/v1/admin/whitelist", `{"kind":"ip","value":""}`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty value, got %d", rec.Code)
	}
	if rec := do(h, "DELETE", "/v1/admin/whitelist/team/x", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown kind on removal, got %d", rec.Code)
	}
}

func TestAdminBlocks(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	rec := do(h, "POST", "/v1/admin/blocks", `{"identifier":"u-bad","duration":"1h","reason":"fraud"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	entity := decode[enforcement.BlockedEntity](t, rec)
	if entity.Reason != enforcement.ReasonFraud {
		t.Errorf("Expected reason fraud, got %q", entity.Reason)
	}

	rec = do(h, "POST", "/v1/admission/check", `{"user_id":"u-bad","operation":"test.op"}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429 for blocked user, got %d", rec.Code)
	}
	if result := decode[limits.AdmissionResult](t, rec); result.Dimension != limits.DimensionBlocked {
		t.Errorf("Expected dimension blocked, got %q", result.Dimension)
	}

	list := decode[struct {
		Blocks []enforcement.BlockedEntity `json:"blocks"`
	}](t, do(h, "GET", "/v1/admin/blocks", "", nil))
	if len(list.Blocks) != 1 || list.Blocks[0].Identifier != "u-bad" {
		t.Errorf("Expected one block for u-bad, got %+v", list.Blocks)
	}

	for i, want := range []bool{true, false} {
		got := decode[map[string]bool](t, do(h, "DELETE", "/v1/admin/blocks/u-bad", "", nil))
		if got["unblocked"] != want {
			t.Errorf("unblock %d: expected %v, got %v", i+1, want, got["unblocked"])
		}
	}

	if rec := do(h, "POST", "/v1/admission/check", `{"user_id":"u-bad","operation":"test.op"}`, nil); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 after unblock, got %d", rec.Code)
	}

	tests := []struct {
		name string
		body string
	}{
		{"bad duration", `{"identifier":"u-x","duration":"soon"}`},
		{"zero duration", `{"identifier":"u-x","duration":"0s"}`},
		{"missing identifier", `{"duration":"1h"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(h, "POST", "/v1/admin/blocks", tt.body, nil); rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestAdminTenantBlocks(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	rec := do(h, "POST", "/v1/admin/blocks", `{"identifier":"acme","tenant":true,"duration":"1h"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if entity := decode[enforcement.BlockedEntity](t, rec); entity.Key != "tenant:acme" {
		t.Errorf("Expected key tenant:acme, got %q", entity.Key)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"user of blocked tenant", `{"user_id":"u-1","tenant":"acme","address":"198.51.100.1","operation":"test.op"}`, http.StatusTooManyRequests},
		{"user named like the tenant", `{"user_id":"acme","address":"198.51.100.2","operation":"test.op"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(h, "POST", "/v1/admission/check", tt.body, nil); rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
		})
	}

	if got := decode[map[string]bool](t, do(h, "DELETE", "/v1/admin/blocks/tenant/acme", "", nil)); !got["unblocked"] {
		t.Error("Expected tenant unblock to lift the block")
	}
	body := `{"user_id":"u-2","tenant":"acme","address":"198.51.100.3","operation":"test.op"}`
	if rec := do(h, "POST", "/v1/admission/check", body, nil); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 after tenant unblock, got %d", rec.Code)
	}
}

func TestAdminAdjustmentAndReset(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	rec := do(h, "POST", "/v1/admin/adjustments", `{"user_id":"u-1","operation":"test.op","multiplier":2,"duration":"30m"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if adj := decode[tiers.Adjustment](t, rec); adj.Multiplier != 2 {
		t.Errorf("Expected multiplier 2, got %v", adj.Multiplier)
	}

	// The doubled user bucket admits eight calls; distinct addresses keep
	// the address dimension out of the way.
	admitted := 0
	for i := 0; i < 12; i++ {
		body := fmt.Sprintf(`{"user_id":"u-1","operation":"test.op","address":"198.51.100.%d"}`, i+1)
		if rec := do(h, "POST", "/v1/admission/check", body, nil); rec.Code == http.StatusOK {
			admitted++
		}
	}
	if admitted != 8 {
		t.Errorf("Expected 8 admissions under the adjustment, got %d", admitted)
	}

	body := `{"user_id":"u-1","operation":"test.op","trust_level":0}`
	for i := 0; i < 4; i++ {
		do(h, "POST", "/v1/admission/progressive", body, nil)
	}
	if rec := do(h, "POST", "/v1/admission/progressive", body, nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429 before reset, got %d", rec.Code)
	}
	if rec := do(h, "POST", "/v1/admin/reset", `{"user_id":"u-1","operation":"test.op"}`, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}
	if rec := do(h, "POST", "/v1/admission/progressive", body, nil); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 after reset, got %d", rec.Code)
	}

	tests := []struct {
		name string
		path string
		body string
	}{
		{"adjustment without user", "/v1/admin/adjustments", `{"operation":"test.op","multiplier":2,"duration":"1m"}`},
		{"adjustment bad multiplier", "/v1/admin/adjustments", `{"user_id":"u-1","operation":"test.op","multiplier":-1,"duration":"1m"}`},
		{"adjustment bad duration", "/v1/admin/adjustments", `{"user_id":"u-1","operation":"test.op","multiplier":2,"duration":"x"}`},
		{"reset bad operation", "/v1/admin/reset", `{"user_id":"u-1","operation":"NOPE"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(h, "POST", tt.path, tt.body, nil); rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestAdminStatisticsAndOperations(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	do(h, "POST", "/v1/admin/blocks", `{"identifier":"203.0.113.66","duration":"10m"}`, nil)

	stats := decode[limits.Statistics](t, do(h, "GET", "/v1/admin/statistics", "", nil))
	if stats.Mode != "local" {
		t.Errorf("Expected local mode, got %q", stats.Mode)
	}
	if stats.BlockedEntities != 1 {
		t.Errorf("Expected 1 blocked entity, got %d", stats.BlockedEntities)
	}

	ops := decode[struct {
		Operations []OperationView `json:"operations"`
	}](t, do(h, "GET", "/v1/admin/operations", "", nil))
	var found *OperationView
	for i := range ops.Operations {
		if ops.Operations[i].Name == testOperation {
			found = &ops.Operations[i]
		}
	}
	if found == nil {
		t.Fatalf("Expected %s in operation table", testOperation)
	}
	if found.LongTermLimit != 4 || found.LongTermPeriod != "1h0m0s" {
		t.Errorf("Unexpected view %+v", *found)
	}
	if found.ShortTermPeriod != "" {
		t.Errorf("Expected no short term period, got %q", found.ShortTermPeriod)
	}
}

// ===== Telemetry Endpoint Tests =====

func TestTelemetryEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	do(h, "POST", "/v1/admission/check", `{"user_id":"u-1","operation":"test.op"}`, nil)

	for _, path := range []string{"/health/live", "/health/ready", "/version", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			if rec := do(h, "GET", path, "", nil); rec.Code != http.StatusOK {
				t.Errorf("Expected 200, got %d", rec.Code)
			}
		})
	}

	version := decode[map[string]string](t, do(h, "GET", "/version", "", nil))
	if version["version"] != "1.2.3" || version["commit"] != "abc123" {
		t.Errorf("Unexpected version body %v", version)
	}

	reg := srv.tel.Metrics.Registry()
	if n, err := testutil.GatherAndCount(reg, "turnstile_http_requests_total"); err != nil || n == 0 {
		t.Errorf("Expected HTTP request series, got %d (err %v)", n, err)
	}
	if n, err := testutil.GatherAndCount(reg, "turnstile_admission_checks_total"); err != nil || n == 0 {
		t.Errorf("Expected admission check series on the shared registry, got %d (err %v)", n, err)
	}
}

func TestMetricsEndpointDisabled(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) { c.Telemetry.Metrics.Enabled = false })
	if rec := do(srv.Handler(), "GET", "/metrics", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

// ===== Middleware Tests =====

func TestRequestIDMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	rec := do(h, "GET", "/health/live", "", map[string]string{RequestIDHeader: "req-abc"})
	if got := rec.Header().Get(RequestIDHeader); got != "req-abc" {
		t.Errorf("Expected echoed request id, got %q", got)
	}

	rec = do(h, "GET", "/health/live", "", nil)
	if _, err := uuid.Parse(rec.Header().Get(RequestIDHeader)); err != nil {
		t.Errorf("Expected generated UUID, got %q", rec.Header().Get(RequestIDHeader))
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := RecoveryMiddleware(srv.logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := do(h, "GET", "/", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	if resp := decode[ErrorResponse](t, rec); resp.Error.Type != ErrorTypeServerError {
		t.Errorf("Expected server_error, got %q", resp.Error.Type)
	}
}

type fakeAdmitter struct {
	result limits.AdmissionResult
	id     limits.Identity
	op     string
	tier   tiers.Tier
}

func (f *fakeAdmitter) CheckAdmission(_ context.Context, id limits.Identity, op string, tier tiers.Tier) limits.AdmissionResult {
	f.id, f.op, f.tier = id, op, tier
	return f.result
}

func TestAdmissionMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		result     limits.AdmissionResult
		wantStatus int
		wantNext   bool
	}{
		{
			name:       "allowed",
			result:     limits.AdmissionResult{Allowed: true, Metadata: map[string]string{limits.HeaderRemaining: "7"}},
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name: "denied",
			result: limits.AdmissionResult{
				Dimension:         limits.DimensionUser,
				RetryAfterSeconds: 30,
				Metadata:          map[string]string{limits.HeaderRemaining: "0", limits.HeaderRetryAfter: "30"},
			},
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "invalid",
			result:     limits.AdmissionResult{Message: "operation is required", Err: limits.ErrValidation},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admitter := &fakeAdmitter{result: tt.result}
			called := false
			h := Admission(admitter, AdmissionOptions{
				Operation:         FixedOperation("payment.transfer"),
				TrustProxyHeaders: true,
			})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			rec := do(h, "POST", "/transfers", "", map[string]string{
				HeaderUserID:      "u-9",
				HeaderTier:        "premium",
				"X-Forwarded-For": "203.0.113.5",
				HeaderTenantID:    "acme",
			})

			if rec.Code != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if called != tt.wantNext {
				t.Errorf("Expected next called = %v, got %v", tt.wantNext, called)
			}
			if got := rec.Header().Get(limits.HeaderRemaining); got != tt.result.Metadata[limits.HeaderRemaining] {
				t.Errorf("Expected remaining header %q, got %q", tt.result.Metadata[limits.HeaderRemaining], got)
			}
			want := limits.Identity{UserID: "u-9", Address: "203.0.113.5", Tenant: "acme"}
			if admitter.id != want {
				t.Errorf("Expected identity %+v, got %+v", want, admitter.id)
			}
			if admitter.op != "payment.transfer" || admitter.tier != "premium" {
				t.Errorf("Expected payment.transfer/premium, got %s/%s", admitter.op, admitter.tier)
			}
		})
	}
}

func TestAdmissionMiddlewareDefaultOperation(t *testing.T) {
	admitter := &fakeAdmitter{result: limits.AdmissionResult{Allowed: true}}
	h := Admission(admitter, AdmissionOptions{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	do(h, "GET", "/anything", "", nil)
	if admitter.op != limits.FallbackOperation {
		t.Errorf("Expected %s, got %s", limits.FallbackOperation, admitter.op)
	}
}

func TestAdmissionMiddlewareTierResolver(t *testing.T) {
	admitter := &fakeAdmitter{result: limits.AdmissionResult{Allowed: true}}
	h := Admission(admitter, AdmissionOptions{
		Tier: func(r *http.Request) tiers.Tier {
			if r.Header.Get("Authorization") == "Bearer enterprise-key" {
				return tiers.Enterprise
			}
			return tiers.Basic
		},
	})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	do(h, "GET", "/anything", "", map[string]string{HeaderTier: "enterprise"})
	if admitter.tier != tiers.Basic {
		t.Errorf("Expected client tier header ignored, got %s", admitter.tier)
	}

	do(h, "GET", "/anything", "", map[string]string{"Authorization": "Bearer enterprise-key"})
	if admitter.tier != tiers.Enterprise {
		t.Errorf("Expected %s, got %s", tiers.Enterprise, admitter.tier)
	}
}

// ===== Lifecycle Tests =====

func TestServerStartShutdown(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) {
		c.Server.ListenAddress = "127.0.0.1:0"
		c.Server.ShutdownTimeout = 2 * time.Second
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if srv.Addr() == "" {
		t.Fatal("server did not start listening")
	}
	if !srv.IsRunning() {
		t.Error("Expected server to report running")
	}
	if err := srv.Start(ctx); err == nil {
		t.Error("Expected error starting a running server")
	}

	resp, err := http.Get("http://" + srv.Addr() + "/health/live")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	if srv.IsRunning() {
		t.Error("Expected server to report stopped")
	}
}

func TestServerStartListenError(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) { c.Server.ListenAddress = "256.0.0.1:99999" })
	if err := srv.Start(context.Background()); err == nil {
		t.Error("Expected listen error")
	}
	if srv.IsRunning() {
		t.Error("Expected server not running after listen failure")
	}
}
