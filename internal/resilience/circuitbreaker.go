// Package resilience keeps provider outages from stalling live sessions.
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// fails fast once a backend keeps erroring; [FallbackGroup] chains several
// providers of one kind behind per-member breakers so a dead primary is
// bypassed instead of retried on every turn.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// refuses calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a breaker's operating mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through to decide
	// between closing and re-opening.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Defaults applied by [NewCircuitBreaker] for zero config fields.
const (
	defaultMaxFailures  = 5
	defaultResetTimeout = 30 * time.Second
	defaultHalfOpenMax  = 3
)

// CircuitBreakerConfig tunes one breaker.
type CircuitBreakerConfig struct {
	// Name labels the breaker in log lines, usually the provider name.
	Name string

	// MaxFailures is the failure streak that trips the breaker open.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration

	// HalfOpenMax bounds the probe calls in half-open; that many successes
	// close the breaker again.
	HalfOpenMax int
}

// CircuitBreaker fails fast after a streak of errors so callers stop paying
// full timeouts for a backend that is known to be down.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu         sync.Mutex
	state      State
	failStreak int
	lastFail   time.Time
	probes     int
	probeFails int
}

// NewCircuitBreaker builds a breaker, substituting defaults for zero config
// fields.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = defaultHalfOpenMax
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		state:        StateClosed,
	}
}

// Execute runs fn unless the breaker is refusing calls. Open returns
// [ErrCircuitOpen] immediately; half-open admits up to HalfOpenMax probes.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()
	cb.observe(probe, err)
	return err
}

// admit decides whether a call may proceed, applying the open-to-half-open
// transition when the reset timeout has passed. probe reports whether the
// call counts against the half-open budget.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFail) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeFails = 0
		slog.Info("circuit breaker probing backend", "name", cb.name)

	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			// Probe budget spent; the pending probes decide the outcome.
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probes++
		return true, nil
	}
	return false, nil
}

// observe folds one call outcome into the breaker state.
func (cb *CircuitBreaker) observe(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if !probe {
			cb.failStreak = 0
			return
		}
		if cb.probes-cb.probeFails >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.failStreak = 0
			cb.probes = 0
			cb.probeFails = 0
			slog.Info("circuit breaker closed, backend recovered", "name", cb.name)
		}
		return
	}

	cb.lastFail = time.Now()
	if probe {
		// One bad probe re-opens immediately.
		cb.probeFails++
		cb.state = StateOpen
		cb.failStreak = cb.maxFailures
		slog.Warn("circuit breaker re-opened, probe failed", "name", cb.name)
		return
	}

	cb.failStreak++
	if cb.failStreak >= cb.maxFailures {
		cb.state = StateOpen
		slog.Warn("circuit breaker opened",
			"name", cb.name, "failure_streak", cb.failStreak)
	}
}

// State reports the breaker's mode. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the stored transition happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFail) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failStreak = 0
	cb.probes = 0
	cb.probeFails = 0
	slog.Info("circuit breaker manually reset", "name", cb.name)
}
