// Package resilience guards calls to remote inference backends.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops hammering a backend after repeated failures. [FallbackGroup] orders
// several instances of one provider type behind per-entry breakers, and
// [LandmarkFallback] applies that to landmark detectors so a scan keeps
// receiving landmarks when its primary model server goes away.
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
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout has
	// passed since the last failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax trial calls through. Enough
	// successes close the breaker; any failure opens it again.
	StateHalfOpen
)

// String returns the lower-case name of the state.
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

// Breaker defaults.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 3
)

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take the
// package defaults.
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and health reports.
	Name string `yaml:"-"`

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker waits before admitting trial calls.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// HalfOpenMax is the trial budget of the half-open state.
	HalfOpenMax int `yaml:"half_open_max"`

	// OnStateChange, when set, is called after every transition with the
	// breaker's lock released.
	OnStateChange func(name string, from, to State) `yaml:"-"`

	// Now overrides the clock. Nil uses time.Now.
	Now func() time.Time `yaml:"-"`
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = DefaultHalfOpenMax
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time

	// trials counts admitted half-open calls, trialSuccesses the finished
	// ones that succeeded. Only finished successes close the breaker.
	trials         int
	trialSuccesses int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults(), state: StateClosed}
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute calls fn unless the breaker is open. A rejected call returns
// [ErrCircuitOpen] without invoking fn. The error from fn is returned as-is
// and counts as a failure when non-nil.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	var transition func()
	switch cb.state {
	case StateOpen:
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		transition = cb.setState(StateHalfOpen)
		cb.trials, cb.trialSuccesses = 0, 0
	case StateHalfOpen:
		if cb.trials >= cb.cfg.HalfOpenMax {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	trial := cb.state == StateHalfOpen
	if trial {
		cb.trials++
	}
	cb.mu.Unlock()
	notify(transition)

	err := fn()

	cb.mu.Lock()
	if err != nil {
		transition = cb.onFailure(trial)
	} else {
		transition = cb.onSuccess(trial)
	}
	cb.mu.Unlock()
	notify(transition)
	return err
}

// onFailure must be called with cb.mu held.
func (cb *CircuitBreaker) onFailure(trial bool) func() {
	if trial {
		cb.failures = cb.cfg.MaxFailures
		cb.openedAt = cb.cfg.Now()
		slog.Warn("circuit breaker trial call failed, reopening", "name", cb.cfg.Name)
		return cb.setState(StateOpen)
	}
	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
		cb.openedAt = cb.cfg.Now()
		slog.Warn("circuit breaker opened", "name", cb.cfg.Name, "consecutive_failures", cb.failures)
		return cb.setState(StateOpen)
	}
	return nil
}

// onSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) onSuccess(trial bool) func() {
	if !trial {
		cb.failures = 0
		return nil
	}
	if cb.state != StateHalfOpen {
		return nil
	}
	cb.trialSuccesses++
	if cb.trialSuccesses < cb.cfg.HalfOpenMax {
		return nil
	}
	cb.failures, cb.trials, cb.trialSuccesses = 0, 0, 0
	slog.Info("circuit breaker closed after successful trial calls", "name", cb.cfg.Name)
	return cb.setState(StateClosed)
}

// setState switches state and returns the deferred change notification. Must
// be called with cb.mu held.
func (cb *CircuitBreaker) setState(to State) func() {
	from := cb.state
	cb.state = to
	if from == to || cb.cfg.OnStateChange == nil {
		return nil
	}
	hook, name := cb.cfg.OnStateChange, cb.cfg.Name
	return func() { hook(name, from, to) }
}

func notify(fn func()) {
	if fn != nil {
		fn()
	}
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	transition := cb.setState(StateClosed)
	cb.failures, cb.trials, cb.trialSuccesses = 0, 0, 0
	cb.mu.Unlock()
	notify(transition)
	slog.Info("circuit breaker reset", "name", cb.cfg.Name)
}
