package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/turnstile/pkg/limits/breaker"
	"mercator-hq/turnstile/pkg/limits/enforcement"
	"mercator-hq/turnstile/pkg/limits/flood"
	"mercator-hq/turnstile/pkg/limits/quota"
	"mercator-hq/turnstile/pkg/limits/ratelimit"
	"mercator-hq/turnstile/pkg/limits/storage"
	"mercator-hq/turnstile/pkg/limits/tiers"
)

const (
	blockedRetrySeconds = 3600
	globalRetrySeconds  = 60
	windowRetrySeconds  = 60
)

// Engine makes admission decisions.
//
// One Engine is shared by every request goroutine. It holds no lock across
// unrelated keys: buckets, flood logs, blocks and quotas are each locked
// per key or per shard.
type Engine struct {
	cfg     Config
	clock   ratelimit.Clock
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *Metrics

	operations  *OperationTable
	tiers       *tiers.Registry
	adjustments *tiers.Adjustments
	whitelist   *enforcement.Whitelist
	blocks      *enforcement.Registry
	flood       *flood.Tracker
	violations  enforcement.ViolationCounter
	localViol   *enforcement.MemoryViolations
	quotas      *quota.Tracker

	local   *storage.LocalStore
	remote  *storage.RedisStore
	breaker *breaker.Breaker
	store   *storage.FailoverStore
	shared  *guardedRedis

	redisClient redis.UniversalClient
	ownsClient  bool

	alerts    AlertSink
	alertWG   sync.WaitGroup
	scheduler *Scheduler

	closeOnce sync.Once
}

// Option customizes an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	clock      ratelimit.Clock
	client     redis.UniversalClient
	registerer prometheus.Registerer
	logger     *slog.Logger
	tracer     trace.Tracer
	alerts     AlertSink
}

// WithClock sets the time source. Tests use a ratelimit.ManualClock.
func WithClock(c ratelimit.Clock) Option {
	return func(o *engineOptions) { o.clock = c }
}

// WithRedisClient supplies the Redis client used in distributed mode. The
// engine does not close a supplied client.
func WithRedisClient(c redis.UniversalClient) Option {
	return func(o *engineOptions) { o.client = c }
}

// WithRegisterer registers engine metrics with r instead of the default
// registerer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *engineOptions) { o.registerer = r }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithTracer sets the tracer admission spans are recorded with.
func WithTracer(t trace.Tracer) Option {
	return func(o *engineOptions) { o.tracer = t }
}

// WithAlertSink sets where security events are delivered. The sink is
// wrapped in a ThrottledSink.
func WithAlertSink(s AlertSink) Option {
	return func(o *engineOptions) { o.alerts = s }
}

// NewEngine builds an Engine. In distributed mode it connects to Redis
// (or uses the client from WithRedisClient) but does not fail when Redis is
// unreachable: the breaker opens and buckets are served locally.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	o := engineOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = ratelimit.SystemClock()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("mercator-hq/turnstile/pkg/limits")
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid limits configuration: %w", err)
	}

	logger := o.logger.With("component", "limits")
	operations, err := NewOperationTable(cfg.Operations)
	if err != nil {
		return nil, fmt.Errorf("invalid operation table: %w", err)
	}
	tierRegistry, err := tiers.NewRegistry(cfg.Tiers)
	if err != nil {
		return nil, fmt.Errorf("invalid tier table: %w", err)
	}

	e := &Engine{
		cfg:         cfg,
		clock:       o.clock,
		logger:      logger,
		tracer:      o.tracer,
		metrics:     NewMetrics(o.registerer),
		operations:  operations,
		tiers:       tierRegistry,
		adjustments: tiers.NewAdjustments(o.clock),
		whitelist:   enforcement.NewWhitelist(),
		flood: flood.NewTracker(flood.Config{
			Threshold: cfg.Flood.Threshold,
			Window:    cfg.Flood.Window,
			Clock:     o.clock,
		}),
		localViol: enforcement.NewMemoryViolations(cfg.Violations.Window, o.clock),
		quotas:    quota.NewTracker(tierRegistry, o.clock),
		local: storage.NewLocalStore(storage.LocalStoreConfig{
			MaxEntries: cfg.LocalCache.MaxEntries,
			TTL:        cfg.LocalCache.TTL,
			Clock:      o.clock,
		}),
	}
	e.violations = e.localViol

	if err := e.seedWhitelist(cfg.Whitelist); err != nil {
		return nil, err
	}

	if cfg.Distributed {
		e.redisClient = o.client
		if e.redisClient == nil {
			if len(cfg.Redis.Addrs) == 0 {
				return nil, fmt.Errorf("%w: distributed mode requires redis addresses", ErrConfigurationMissing)
			}
			e.redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
				Addrs:       cfg.Redis.Addrs,
				Password:    cfg.Redis.Password,
				DB:          cfg.Redis.DB,
				PoolSize:    cfg.Redis.PoolSize,
				DialTimeout: cfg.Redis.DialTimeout,
			})
			e.ownsClient = true
		}

		e.remote = storage.NewRedisStore(e.redisClient, storage.RedisStoreConfig{
			Prefix: cfg.Redis.KeyPrefix,
			Clock:  o.clock,
		})

		bcfg := cfg.Breaker
		bcfg.Now = o.clock.Now
		bcfg.Logger = logger
		bcfg.OnStateChange = func(_, to breaker.State) {
			e.metrics.SetBreakerState(to)
		}
		e.breaker = breaker.New(bcfg)
		e.shared = &guardedRedis{guard: e.breaker, store: e.remote}
		e.violations = enforcement.NewSharedViolations(e.shared, e.localViol, logger)
	}

	e.store = storage.NewFailoverStore(storage.FailoverConfig{
		Local:      e.local,
		Remote:     e.remoteStore(),
		Guard:      e.guard(),
		Logger:     logger,
		OnFallback: e.metrics.RecordFallback,
	})

	var mirror enforcement.Mirror
	if e.shared != nil {
		mirror = e.shared
	}
	e.blocks = enforcement.NewRegistry(enforcement.RegistryConfig{
		Clock:  o.clock,
		Mirror: mirror,
		Logger: logger,
	})

	sink := o.alerts
	if sink == nil {
		sink = NewLogSink(logger)
	}
	e.alerts = NewThrottledSink(sink, cfg.Alerts.Interval, cfg.Alerts.Burst)

	e.scheduler = newScheduler(e, cfg.Sweeps, logger)

	mode := "local"
	if cfg.Distributed {
		mode = "distributed"
	}
	logger.Info("admission engine created",
		"mode", mode,
		"operations", operations.Len(),
		"flood_threshold", cfg.Flood.Threshold,
		"quota_tracking", cfg.QuotaTracking,
	)
	return e, nil
}

func (e *Engine) remoteStore() storage.Store {
	if e.remote == nil {
		return nil
	}
	return e.remote
}

func (e *Engine) guard() storage.Guard {
	if e.breaker == nil {
		return nil
	}
	return e.breaker
}

// Start schedules the background sweeps. They stop when ctx is cancelled
// or Close is called.
func (e *Engine) Start(ctx context.Context) error {
	if e.remote != nil {
		pctx, cancel := context.WithTimeout(ctx, e.cfg.Redis.DialTimeout)
		defer cancel()
		if err := e.remote.Ping(pctx); err != nil {
			e.logger.Warn("redis unreachable at startup, buckets will be served locally until it recovers", "error", err)
		}
	}
	return e.scheduler.Start(ctx)
}

// Close stops the sweeps, waits for pending security events and releases
// the Redis client if the engine created it.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.scheduler.Stop()
		e.alertWG.Wait()
		if e.ownsClient {
			err = e.redisClient.Close()
		}
	})
	return err
}

// CheckAdmission decides whether identity may perform operation.
//
// The checks run in order: whitelist, block registry, flood tracker, the
// user, address, endpoint and tenant buckets, then the global ceiling. The
// first denial ends the check. Store errors in bucket checks admit the
// request with Remaining 0; the whitelist, block and flood steps never do.
func (e *Engine) CheckAdmission(ctx context.Context, id Identity, operation string, tier tiers.Tier) AdmissionResult {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "limits.CheckAdmission", trace.WithAttributes(
		attribute.String("turnstile.operation", operation),
		attribute.String("turnstile.tier", string(tier)),
	))
	defer span.End()

	result := e.checkAdmission(ctx, id, operation, tier)

	span.SetAttributes(
		attribute.Bool("turnstile.allowed", result.Allowed),
		attribute.String("turnstile.dimension", string(result.Dimension)),
		attribute.Int64("turnstile.remaining", result.Remaining),
	)
	if result.Err != nil {
		span.RecordError(result.Err)
		if !errors.Is(result.Err, ErrValidation) {
			span.SetStatus(codes.Error, result.Err.Error())
		}
	}
	e.metrics.ObserveDuration("admission", time.Since(start).Seconds())
	return result
}

type dimensionCheck struct {
	dim        Dimension
	identifier string
	cfg        ratelimit.Config
}

func (e *Engine) checkAdmission(ctx context.Context, id Identity, op string, tierName tiers.Tier) AdmissionResult {
	if err := ValidateOperation(op); err != nil {
		return e.invalid(op, err)
	}
	if id.UserID == "" && id.Address == "" {
		return e.invalid(op, validationError(op, "identity requires a user id or an address"))
	}
	tier, err := e.tiers.Parse(string(tierName))
	if err != nil {
		return e.invalid(op, &AdmissionError{Kind: ErrValidation, Op: op, Err: err})
	}

	if e.whitelist.Allows(id.UserID, id.Address) {
		e.metrics.RecordCheck("", outcomeBypassed)
		return e.allowed(op, Unlimited, Unlimited, "")
	}

	if entity, ok := e.blockFor(id); ok {
		e.metrics.RecordCheck(DimensionBlocked, outcomeDenied)
		e.logger.DebugContext(ctx, "request from blocked entity", "key", entity.Key, "reason", string(entity.Reason))
		return e.denied(op, DimensionBlocked, 0, blockedRetrySeconds, "access temporarily blocked")
	}

	// Tenants and addresses are tracked under separate key spaces so a
	// tenant named like an address never shares a window with it.
	floodKey := "ip:" + id.Address
	if id.Tenant != "" {
		floodKey = "tenant:" + id.Tenant
	}
	if (id.Tenant != "" || id.Address != "") && e.flood.Record(floodKey) {
		e.metrics.RecordFlood()
		e.metrics.RecordCheck(DimensionFlood, outcomeDenied)
		d := e.cfg.Flood.BlockDuration
		var entity enforcement.BlockedEntity
		if id.Tenant != "" {
			entity = e.blocks.BlockTenant(ctx, id.Tenant, d, enforcement.ReasonFlood)
		} else {
			entity = e.blocks.Block(ctx, id.Address, d, enforcement.ReasonFlood)
		}
		e.blocked(ctx, entity, EventFloodDetected, map[string]string{
			"threshold": fmt.Sprint(e.cfg.Flood.Threshold),
			"window":    e.cfg.Flood.Window.String(),
		})
		return e.denied(op, DimensionFlood, 0, blockedRetrySeconds, "flood detected, access temporarily blocked")
	}

	base := e.resolve(ctx, op, tier)
	cfg := base
	if adj, ok := e.adjustments.Lookup(id.UserID, op); ok {
		cfg = adj.Apply(base)
	}

	// Adjustments are per caller; the endpoint bucket is shared by every
	// caller of the operation and stays on the unadjusted config.
	checks := make([]dimensionCheck, 0, 4)
	if id.UserID != "" {
		checks = append(checks, dimensionCheck{DimensionUser, id.UserID, cfg})
	}
	if id.Address != "" {
		checks = append(checks, dimensionCheck{DimensionAddress, id.Address, cfg.Divide(2)})
	}
	checks = append(checks, dimensionCheck{DimensionEndpoint, "global", base.Scale(100)})
	if id.Tenant != "" {
		checks = append(checks, dimensionCheck{DimensionTenant, id.Tenant, cfg.Scale(10)})
	}

	remaining := Unlimited
	for _, c := range checks {
		key := storage.BucketKey(c.dim.keyName(), c.identifier, op)
		used, err := e.store.Bucket(key, c.cfg).TryConsume(ctx, 1)
		if err != nil {
			return e.failOpen(ctx, op, c.dim, cfg.LongTermLimit, err)
		}
		if !used.Consumed {
			e.metrics.RecordCheck(c.dim, outcomeDenied)
			if c.dim == DimensionUser || c.dim == DimensionAddress {
				e.recordViolation(ctx, id.subject())
			}
			return e.denied(op, c.dim, c.cfg.LongTermLimit, used.RetryAfterSeconds(),
				fmt.Sprintf("rate limit exceeded for %s", c.dim))
		}
		remaining = min(remaining, used.Remaining)
	}

	global := e.globalConfig(op)
	used, err := e.store.Bucket(storage.BucketKey(string(DimensionGlobal), "system", op), global).TryConsume(ctx, 1)
	if err != nil {
		return e.failOpen(ctx, op, DimensionGlobal, cfg.LongTermLimit, err)
	}
	if !used.Consumed {
		e.metrics.RecordCheck(DimensionGlobal, outcomeDenied)
		e.logger.WarnContext(ctx, "global capacity reached", "operation", op)
		return e.denied(op, DimensionGlobal, global.LongTermLimit, globalRetrySeconds, "system capacity limit reached")
	}

	if e.cfg.QuotaTracking && id.UserID != "" {
		e.quotas.Increment(quota.UserKey(id.UserID), tier)
	}

	e.metrics.RecordCheck("", outcomeAllowed)
	return e.allowed(op, remaining, cfg.LongTermLimit, "")
}

// resolve builds the config for an operation and tier: the operation entry
// scaled by the tier multiplier. Adjustments are applied by the caller.
func (e *Engine) resolve(ctx context.Context, op string, tier tiers.Tier) ratelimit.Config {
	base, found := e.operations.Resolve(op)
	if !found {
		e.logger.DebugContext(ctx, "no limits for operation, using fallback",
			"operation", op, "fallback", FallbackOperation, "error", ErrConfigurationMissing)
	}

	tierCfg, err := e.tiers.Get(tier)
	if err != nil {
		tierCfg, _ = e.tiers.Get(tiers.Basic)
	}
	return base.Scale(tierCfg.Multiplier)
}

func (e *Engine) globalConfig(op string) ratelimit.Config {
	if cfg, ok := e.cfg.GlobalOverrides[op]; ok {
		return cfg
	}
	return e.cfg.Global
}

func (e *Engine) recordViolation(ctx context.Context, subject string) {
	e.metrics.RecordViolation()

	count, err := e.violations.Increment(ctx, subject)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to count violation", "subject", subject, "error", err)
		return
	}
	if count > e.cfg.Violations.Threshold {
		entity := e.blocks.Block(ctx, subject, e.cfg.Violations.BlockDuration, enforcement.ReasonExcessiveViolations)
		e.blocked(ctx, entity, EventExcessiveViolations, map[string]string{"violations": fmt.Sprint(count)})
	}
}

// blockFor returns the first active block on the caller's user, address
// or tenant.
func (e *Engine) blockFor(id Identity) (enforcement.BlockedEntity, bool) {
	if entity, ok := e.blocks.IsBlocked(id.UserID); ok {
		return entity, true
	}
	if entity, ok := e.blocks.IsBlocked(id.Address); ok {
		return entity, true
	}
	return e.blocks.IsTenantBlocked(id.Tenant)
}

// blocked records a block issued by the engine and publishes the matching
// security event.
func (e *Engine) blocked(ctx context.Context, entity enforcement.BlockedEntity, event string, details map[string]string) {
	e.metrics.RecordBlock(string(entity.Reason))
	e.publish(ctx, SecurityEvent{
		Type:       event,
		Identifier: entity.Identifier,
		Reason:     string(entity.Reason),
		Duration:   entity.ExpiresAt.Sub(entity.CreatedAt),
		Timestamp:  entity.CreatedAt,
		Details:    details,
	})
}

// publish delivers event without holding up the request that raised it.
func (e *Engine) publish(ctx context.Context, event SecurityEvent) {
	e.alertWG.Add(1)
	go func() {
		defer e.alertWG.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Alerts.Timeout)
		defer cancel()

		err := e.alerts.Publish(pctx, event)
		if err != nil {
			e.logger.Error("failed to publish security event", "event", event.Type, "identifier", event.Identifier, "error", err)
		}
		e.metrics.RecordSecurityEvent(event.Type, err == nil)
	}()
}

func (e *Engine) allowed(policy string, remaining, limit int64, message string) AdmissionResult {
	return AdmissionResult{
		Allowed:   true,
		Remaining: remaining,
		Limit:     limit,
		Message:   message,
		Metadata:  buildMetadata(policy, true, remaining, limit, 0, e.clock.Now()),
	}
}

func (e *Engine) denied(policy string, dim Dimension, limit, retryAfter int64, message string) AdmissionResult {
	return AdmissionResult{
		Allowed:           false,
		Limit:             limit,
		RetryAfterSeconds: retryAfter,
		Message:           message,
		Dimension:         dim,
		Metadata:          buildMetadata(policy, false, 0, limit, retryAfter, e.clock.Now()),
	}
}

func (e *Engine) invalid(op string, err error) AdmissionResult {
	e.metrics.RecordCheck("", outcomeInvalid)
	return AdmissionResult{
		Allowed: false,
		Message: err.Error(),
		Err:     err,
	}
}

// failOpen admits a request whose bucket check could not complete.
func (e *Engine) failOpen(ctx context.Context, op string, dim Dimension, limit int64, cause error) AdmissionResult {
	kind := ErrInternal
	if errors.Is(cause, storage.ErrUnavailable) || errors.Is(cause, context.DeadlineExceeded) {
		kind = ErrStoreUnavailable
	}
	err := &AdmissionError{Kind: kind, Op: op, Err: cause}

	e.metrics.RecordCheck(dim, outcomeError)
	e.logger.ErrorContext(ctx, "admission check failed, admitting without enforcement",
		"operation", op, "dimension", string(dim), "error", cause)

	r := e.allowed(op, 0, limit, "admitted without enforcement: limit check unavailable")
	r.Err = err
	return r
}

// Scheduler returns the sweep scheduler.
func (e *Engine) Scheduler() *Scheduler {
	return e.scheduler
}
