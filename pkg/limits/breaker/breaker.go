package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	// StateClosed sends every call to the protected dependency.
	StateClosed State = iota

	// StateOpen rejects every call until the wait duration has passed.
	StateOpen

	// StateHalfOpen admits a bounded number of trial calls.
	StateHalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	// ErrOpen is returned by Execute while the breaker is open.
	ErrOpen = errors.New("circuit breaker is open")

	// ErrTrialLimit is returned in half-open state when every trial slot is taken.
	ErrTrialLimit = errors.New("circuit breaker trial limit reached")
)

// Config configures a Breaker. Zero values take the defaults noted on each field.
type Config struct {
	// Name identifies the breaker in logs.
	// Default: "redis"
	Name string

	// FailureRateThreshold opens the breaker when the failure rate over the
	// sliding window reaches it (0.0-1.0).
	// Default: 0.5
	FailureRateThreshold float64

	// SlidingWindowSize is the number of most recent calls considered.
	// Default: 100
	SlidingWindowSize int

	// MinimumCalls is the number of recorded calls needed before the
	// failure rate is evaluated.
	// Default: 10
	MinimumCalls int

	// WaitDuration is how long the breaker stays open before trials start.
	// Default: 30 seconds
	WaitDuration time.Duration

	// HalfOpenMaxCalls bounds concurrent trial calls in half-open state.
	// Default: 10
	HalfOpenMaxCalls int

	// SuccessThreshold is the number of consecutive trial successes that
	// close the breaker.
	// Default: 3
	SuccessThreshold int

	// CallTimeout bounds each call made through Execute. Zero disables it.
	// Default: 250 milliseconds
	CallTimeout time.Duration

	// Now overrides the time source. Default: time.Now
	Now func() time.Time

	// OnStateChange is called after transitions, outside the lock. Calls are
	// serialized, and a transition overtaken by a later one is not
	// reported, so the last call always carries the current state.
	OnStateChange func(from, to State)

	// Logger receives transition logs. Default: slog.Default()
	Logger *slog.Logger
}

// Breaker is a failure-rate circuit breaker over a count-based sliding window.
//
// Closed → Open when at least MinimumCalls outcomes are recorded and the
// failure rate among the last SlidingWindowSize calls reaches the threshold.
// Open → HalfOpen once WaitDuration has elapsed, checked lazily on the next
// call or State read. HalfOpen → Closed after SuccessThreshold consecutive
// trial successes; any trial failure returns to Open.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	openedAt time.Time

	// ring holds the last SlidingWindowSize outcomes, true meaning failure.
	ring     []bool
	next     int
	recorded int
	failures int

	trialsInFlight int
	trialSuccesses int

	// seq numbers transitions under mu; notified is the last one reported
	// to OnStateChange, under notifyMu.
	seq      uint64
	notifyMu sync.Mutex
	notified uint64
}

// New creates a closed Breaker.
func New(cfg Config) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "redis"
	}
	if cfg.FailureRateThreshold <= 0 || cfg.FailureRateThreshold > 1 {
		cfg.FailureRateThreshold = 0.5
	}
	if cfg.SlidingWindowSize <= 0 {
		cfg.SlidingWindowSize = 100
	}
	if cfg.MinimumCalls <= 0 {
		cfg.MinimumCalls = 10
	}
	if cfg.MinimumCalls > cfg.SlidingWindowSize {
		cfg.MinimumCalls = cfg.SlidingWindowSize
	}
	if cfg.WaitDuration <= 0 {
		cfg.WaitDuration = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 10
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 3
	}
	if cfg.CallTimeout < 0 {
		cfg.CallTimeout = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "breaker")
	}

	return &Breaker{
		cfg:  cfg,
		ring: make([]bool, cfg.SlidingWindowSize),
	}
}

// Execute runs fn if the breaker admits the call, bounded by CallTimeout,
// and records the outcome. It returns ErrOpen or ErrTrialLimit without
// calling fn when the call is not admitted.
//
// Cancellation of the caller's ctx is not counted as a failure. A timeout
// imposed by CallTimeout is.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	trial, err := b.acquire()
	if err != nil {
		return err
	}

	callCtx := ctx
	if b.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}

	err = fn(callCtx)
	if err != nil && ctx.Err() != nil {
		b.release(trial)
		return err
	}
	b.record(trial, err != nil)
	return err
}

// State returns the current state, moving Open to HalfOpen if the wait
// duration has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	from, to, changed := b.advanceLocked()
	state := b.state
	seq := b.seq
	b.mu.Unlock()

	if changed {
		b.notify(from, to, seq)
	}
	return state
}

// FailureRate returns the failure rate over the recorded window.
func (b *Breaker) FailureRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.recorded == 0 {
		return 0
	}
	return float64(b.failures) / float64(b.recorded)
}

// Reset forces the breaker closed and clears its window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.closeLocked()
	if from != StateClosed {
		b.seq++
	}
	seq := b.seq
	b.mu.Unlock()

	if from != StateClosed {
		b.notify(from, StateClosed, seq)
	}
}

func (b *Breaker) acquire() (bool, error) {
	b.mu.Lock()
	from, to, changed := b.advanceLocked()

	var trial bool
	var err error
	switch b.state {
	case StateOpen:
		err = ErrOpen
	case StateHalfOpen:
		if b.trialsInFlight >= b.cfg.HalfOpenMaxCalls {
			err = ErrTrialLimit
		} else {
			b.trialsInFlight++
			trial = true
		}
	}
	seq := b.seq
	b.mu.Unlock()

	if changed {
		b.notify(from, to, seq)
	}
	return trial, err
}

func (b *Breaker) release(trial bool) {
	if !trial {
		return
	}
	b.mu.Lock()
	if b.trialsInFlight > 0 {
		b.trialsInFlight--
	}
	b.mu.Unlock()
}

func (b *Breaker) record(trial, failed bool) {
	b.mu.Lock()
	from := b.state

	if trial {
		if b.trialsInFlight > 0 {
			b.trialsInFlight--
		}
		// Outcomes of trials that straddled a transition are ignored.
		if b.state == StateHalfOpen {
			if failed {
				b.openLocked()
			} else {
				b.trialSuccesses++
				if b.trialSuccesses >= b.cfg.SuccessThreshold {
					b.closeLocked()
				}
			}
		}
	} else if b.state == StateClosed {
		b.pushLocked(failed)
		if b.recorded >= b.cfg.MinimumCalls &&
			float64(b.failures)/float64(b.recorded) >= b.cfg.FailureRateThreshold {
			b.openLocked()
		}
	}
	to := b.state
	if from != to {
		b.seq++
	}
	seq := b.seq
	b.mu.Unlock()

	if from != to {
		b.notify(from, to, seq)
	}
}

func (b *Breaker) advanceLocked() (State, State, bool) {
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.WaitDuration {
		b.state = StateHalfOpen
		b.trialsInFlight = 0
		b.trialSuccesses = 0
		b.seq++
		return StateOpen, StateHalfOpen, true
	}
	return b.state, b.state, false
}

func (b *Breaker) pushLocked(failed bool) {
	if b.recorded == len(b.ring) {
		if b.ring[b.next] {
			b.failures--
		}
	} else {
		b.recorded++
	}
	b.ring[b.next] = failed
	if failed {
		b.failures++
	}
	b.next = (b.next + 1) % len(b.ring)
}

func (b *Breaker) openLocked() {
	b.state = StateOpen
	b.openedAt = b.cfg.Now()
	b.trialSuccesses = 0
}

func (b *Breaker) closeLocked() {
	b.state = StateClosed
	b.trialsInFlight = 0
	b.trialSuccesses = 0
	b.next = 0
	b.recorded = 0
	b.failures = 0
	clear(b.ring)
}

func (b *Breaker) notify(from, to State, seq uint64) {
	switch to {
	case StateOpen:
		b.cfg.Logger.Warn("circuit breaker opened, serving from local store",
			"breaker", b.cfg.Name, "from", from.String(), "wait", b.cfg.WaitDuration)
	case StateHalfOpen:
		b.cfg.Logger.Info("circuit breaker half-open, sending trial calls",
			"breaker", b.cfg.Name, "max_trials", b.cfg.HalfOpenMaxCalls)
	case StateClosed:
		b.cfg.Logger.Info("circuit breaker closed, shared store restored", "breaker", b.cfg.Name)
	}
	if b.cfg.OnStateChange == nil {
		return
	}

	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	if seq <= b.notified {
		return
	}
	b.notified = seq
	b.cfg.OnStateChange(from, to)
}
