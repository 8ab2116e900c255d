package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"mercator-hq/turnstile/pkg/config"
	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/limits/enforcement"
	"mercator-hq/turnstile/pkg/limits/quota"
	"mercator-hq/turnstile/pkg/limits/ratelimit"
	"mercator-hq/turnstile/pkg/limits/tiers"
	"mercator-hq/turnstile/pkg/telemetry"
	"mercator-hq/turnstile/pkg/telemetry/health"
)

// probeRequestsPerSecond caps each health endpoint.
const probeRequestsPerSecond = 50

// Engine is the admission engine behind the HTTP API. *limits.Engine
// implements it.
type Engine interface {
	Admitter
	CheckSlidingWindow(ctx context.Context, key string, windowMinutes, maxRequests int) limits.AdmissionResult
	CheckCostBased(ctx context.Context, id limits.Identity, operation string, cost int64) limits.AdmissionResult
	CheckProgressive(ctx context.Context, userID, operation string, trustLevel int) limits.AdmissionResult
	CheckQuota(ctx context.Context, clientID, apiKey string, tier tiers.Tier) quota.Status

	AddToWhitelist(kind enforcement.Kind, value string) error
	RemoveFromWhitelist(kind enforcement.Kind, value string) error
	Block(ctx context.Context, identifier string, d time.Duration, reason enforcement.Reason) (enforcement.BlockedEntity, error)
	Unblock(ctx context.Context, identifier string) bool
	BlockTenant(ctx context.Context, tenant string, d time.Duration, reason enforcement.Reason) (enforcement.BlockedEntity, error)
	UnblockTenant(ctx context.Context, tenant string) bool
	BlockedEntities() []enforcement.BlockedEntity
	ApplyAdjustment(userID, operation string, multiplier float64, d time.Duration) (tiers.Adjustment, error)
	ResetLimit(ctx context.Context, userID, operation string) error
	Operations() map[string]ratelimit.Config
	Statistics() limits.Statistics
}

// Server serves the admission API, the admin API and the telemetry
// endpoints.
type Server struct {
	cfg        *config.Config
	engine     Engine
	tel        *telemetry.Telemetry
	logger     *slog.Logger
	httpServer *http.Server

	mu        sync.RWMutex
	isRunning bool
	addr      string
	shutdown  sync.Once
}

// New creates a server. The server reads cfg.Server for the listener and
// cfg.Telemetry for the metrics and health paths.
func New(cfg *config.Config, engine Engine, tel *telemetry.Telemetry) *Server {
	return &Server{
		cfg:    cfg,
		engine: engine,
		tel:    tel,
		logger: tel.Logger.With("component", "server"),
	}
}

// Start listens on the configured address and serves until ctx is
// cancelled or the listener fails. Cancelling ctx shuts the server down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	srv := s.cfg.Server
	s.httpServer = &http.Server{
		Addr:           srv.ListenAddress,
		Handler:        s.Handler(),
		ReadTimeout:    srv.ReadTimeout,
		WriteTimeout:   srv.WriteTimeout,
		IdleTimeout:    srv.IdleTimeout,
		MaxHeaderBytes: srv.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	ln, err := net.Listen("tcp", srv.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", srv.ListenAddress, err)
	}
	s.isRunning = true
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
}

// Shutdown stops accepting connections and waits up to the configured
// shutdown timeout for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdown.Do(func() {
		s.mu.RLock()
		running := s.isRunning
		s.mu.RUnlock()
		if !running {
			return
		}

		timeout := s.cfg.Server.ShutdownTimeout
		s.logger.Info("initiating graceful shutdown", "timeout", timeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		s.logger.Info("server stopped")
	})

	return shutdownErr
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	api := []struct {
		pattern, route string
		handler        http.HandlerFunc
	}{
		{"POST /v1/admission/check", "admission_check", s.handleCheck},
		{"POST /v1/admission/sliding-window", "admission_sliding_window", s.handleSlidingWindow},
		{"POST /v1/admission/cost", "admission_cost", s.handleCost},
		{"POST /v1/admission/progressive", "admission_progressive", s.handleProgressive},
		{"POST /v1/quota/check", "quota_check", s.handleQuota},
	}
	for _, rt := range api {
		mux.Handle(rt.pattern, s.tel.Metrics.Middleware(rt.route, rt.handler))
	}

	admin := []struct {
		pattern, route string
		handler        http.HandlerFunc
	}{
		{"POST /v1/admin/whitelist", "admin_whitelist_add", s.handleWhitelistAdd},
		{"DELETE /v1/admin/whitelist/{kind}/{value}", "admin_whitelist_remove", s.handleWhitelistRemove},
		{"POST /v1/admin/blocks", "admin_block", s.handleBlock},
		{"GET /v1/admin/blocks", "admin_blocks", s.handleListBlocks},
		{"DELETE /v1/admin/blocks/{identifier}", "admin_unblock", s.handleUnblock},
		{"DELETE /v1/admin/blocks/tenant/{tenant}", "admin_unblock_tenant", s.handleUnblockTenant},
		{"POST /v1/admin/adjustments", "admin_adjustment", s.handleAdjustment},
		{"POST /v1/admin/reset", "admin_reset", s.handleReset},
		{"GET /v1/admin/statistics", "admin_statistics", s.handleStatistics},
		{"GET /v1/admin/operations", "admin_operations", s.handleOperations},
	}
	for _, rt := range admin {
		mux.Handle(rt.pattern, s.tel.Metrics.Middleware(rt.route, s.requireAdmin(rt.handler)))
	}

	tcfg := s.cfg.Telemetry
	if tcfg.Metrics.Enabled {
		mux.Handle("GET "+tcfg.Metrics.Path, s.tel.Metrics.Handler())
	}
	mux.Handle(tcfg.Health.LivenessPath,
		health.RateLimitedHandler(s.tel.Health.LivenessHandler(), probeRequestsPerSecond))
	mux.Handle(tcfg.Health.ReadinessPath,
		health.RateLimitedHandler(s.tel.Health.ReadinessHandler(), probeRequestsPerSecond))
	mux.Handle(tcfg.Health.VersionPath,
		health.VersionHandler(s.tel.Build.Version, s.tel.Build.Commit, s.tel.Build.BuildTime))

	// Innermost first; recovery ends up outermost.
	var handler http.Handler = mux
	handler = MaxBodyMiddleware(s.cfg.Server.MaxBodyBytes)(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	handler = s.tel.Tracer.Middleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(s.logger)(handler)
	return handler
}
