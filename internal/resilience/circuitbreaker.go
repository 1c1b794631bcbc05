// Package resilience provides the failure containment primitives for the
// denoise connection.
//
// [CircuitBreaker] is a classic three-state breaker (closed, open,
// half-open) that keeps a session from re-dialing a dead endpoint at every
// flushed window: after enough consecutive failures the dial path fails fast
// until the reset timeout, then a few probes decide whether to close again.
// [Chain] composes a primary denoise provider with ordered fallback
// endpoints, each behind its own breaker, and is itself a
// [denoise.Provider].
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is the fail-fast result of [CircuitBreaker.Execute]: the
// breaker is open and its reset timeout has not yet elapsed, so the wrapped
// call was never made.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state; calls pass through.
	StateClosed State = iota

	// StateOpen means the breaker tripped on a failure streak. Calls are
	// rejected immediately with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen admits a bounded number of probe calls after the reset
	// timeout. Enough successes close the breaker; one failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in log messages, typically the endpoint URL
	// whose dials it guards.
	Name string

	// MaxFailures is the length of the failure streak that trips a closed
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long a tripped breaker rejects calls before
	// probing again. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax bounds the probe calls admitted while half-open; the same
	// number of successes closes the breaker. Default: 3.
	HalfOpenMax int
}

// CircuitBreaker implements the three-state circuit breaker pattern.
// It is safe for concurrent use from multiple goroutines.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu         sync.Mutex
	state      State
	failStreak int
	lastFailAt time.Time
	probes     int
	probeWins  int
}

// NewCircuitBreaker creates a breaker in the closed state. Zero config
// fields fall back to the defaults documented on [CircuitBreakerConfig].
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute runs fn if the breaker admits the call and folds its outcome back
// into the breaker state. While open it returns [ErrCircuitOpen] without
// calling fn; while half-open only the probe budget gets through.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may proceed right now and reports whether it
// counts against the half-open probe budget.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFailAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeWins = 0
		slog.Info("circuit breaker half-open, probing", "name", cb.cfg.Name)
	}

	if cb.state != StateHalfOpen {
		return false, nil
	}
	if cb.probes >= cb.cfg.HalfOpenMax {
		// Budget spent; stay open until the in-flight probes settle.
		return false, ErrCircuitOpen
	}
	cb.probes++
	return true, nil
}

// settle records the result of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if !probe {
			cb.failStreak = 0
			return
		}
		cb.probeWins++
		if cb.probeWins >= cb.cfg.HalfOpenMax {
			cb.state = StateClosed
			cb.failStreak = 0
			slog.Info("circuit breaker closed after successful probes",
				"name", cb.cfg.Name)
		}
		return
	}

	cb.lastFailAt = time.Now()
	if probe {
		// One bad probe is enough; back to open for a full reset timeout.
		cb.state = StateOpen
		cb.failStreak = cb.cfg.MaxFailures
		slog.Warn("circuit breaker re-opened by failed probe",
			"name", cb.cfg.Name)
		return
	}
	cb.failStreak++
	if cb.failStreak >= cb.cfg.MaxFailures {
		cb.state = StateOpen
		slog.Warn("circuit breaker opened",
			"name", cb.cfg.Name,
			"failure_streak", cb.failStreak)
	}
}

// State returns the breaker's operating mode. An open breaker whose reset
// timeout has elapsed reports [StateHalfOpen]; the stored state catches up
// on the next [Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed] and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failStreak = 0
	cb.probes = 0
	cb.probeWins = 0
	slog.Info("circuit breaker reset", "name", cb.cfg.Name)
}
