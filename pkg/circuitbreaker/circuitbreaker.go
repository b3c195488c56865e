// Package circuitbreaker stops a failing messaging gateway, OpenAI or Postgres
// from stalling every conversation turn: after enough consecutive failures
// calls fail fast until a cool-down passes, then a few trial calls decide
// whether to resume.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker. The numeric value is exported as a gauge.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

var (
	// ErrCircuitOpen is returned without calling the wrapped function while
	// the breaker is cooling down.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned in half-open state when every trial slot
	// is taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config for a single breaker.
type Config struct {
	Name string

	FailureThreshold    int           // consecutive failures that open a closed breaker
	SuccessThreshold    int           // consecutive trial successes that close it again
	Timeout             time.Duration // cool-down spent open
	MaxHalfOpenRequests int           // concurrent trial calls

	// OnStateChange runs after the transition, outside the breaker's lock.
	OnStateChange func(name string, from, to State)
	// IsFailure filters which errors count. Nil counts every non-nil error.
	IsFailure func(error) bool
	Now       func() time.Time
}

func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
		Now:                 time.Now,
	}
}

// Option adjusts a Config. Non-positive numbers are ignored.
type Option func(*Config)

func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

func WithSuccessThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SuccessThreshold = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

func WithMaxHalfOpenRequests(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxHalfOpenRequests = n
		}
	}
}

func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) { c.OnStateChange = fn }
}

func WithIsFailure(fn func(error) bool) Option {
	return func(c *Config) { c.IsFailure = fn }
}

// WithClock replaces time.Now; tests use it to skip the cool-down.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		if now != nil {
			c.Now = now
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Breaker
// ─────────────────────────────────────────────────────────────────────────────

// Counts are cumulative since creation or the last Reset; the consecutive
// counters restart on every transition.
type Counts struct {
	Requests             int
	TotalSuccesses       int
	TotalFailures        int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

type transition struct{ from, to State }

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	cfg Config

	mu         sync.Mutex
	state      State
	generation uint64 // bumped on each transition; stale results are dropped
	openedAt   time.Time
	trials     int // half-open calls in flight
	counts     Counts
	pending    []transition
}

func New(name string, opts ...Option) *CircuitBreaker {
	cfg := DefaultConfig(name)
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute calls fn unless the breaker rejects it, and records the outcome.
// fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(gen, err)
	return err
}

// ExecuteWithFallback hands rejections (never fn's own errors) to fallback.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, fn func(context.Context) error, fallback func(error) error) error {
	err := cb.Execute(ctx, fn)
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests) {
		return fallback(err)
	}
	return err
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.unlock()

	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.Timeout {
		cb.moveTo(StateHalfOpen)
	}

	switch cb.state {
	case StateOpen:
		return 0, ErrCircuitOpen
	case StateHalfOpen:
		if cb.trials >= cb.cfg.MaxHalfOpenRequests {
			return 0, ErrTooManyRequests
		}
		cb.trials++
	}
	return cb.generation, nil
}

func (cb *CircuitBreaker) record(gen uint64, err error) {
	cb.mu.Lock()
	defer cb.unlock()

	cb.counts.Requests++
	failed := err != nil && (cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err))
	if failed {
		cb.counts.TotalFailures++
	} else {
		cb.counts.TotalSuccesses++
	}

	// The breaker moved on while fn ran; this result says nothing about the
	// current state.
	if gen != cb.generation {
		return
	}
	if cb.state == StateHalfOpen {
		cb.trials--
	}

	if failed {
		cb.counts.ConsecutiveFailures++
		cb.counts.ConsecutiveSuccesses = 0
		if cb.state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.cfg.FailureThreshold {
			cb.moveTo(StateOpen)
		}
		return
	}

	cb.counts.ConsecutiveSuccesses++
	cb.counts.ConsecutiveFailures = 0
	if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.cfg.SuccessThreshold {
		cb.moveTo(StateClosed)
	}
}

// moveTo must be called with mu held.
func (cb *CircuitBreaker) moveTo(to State) {
	if cb.state == to {
		return
	}
	cb.pending = append(cb.pending, transition{from: cb.state, to: to})
	cb.state = to
	cb.generation++
	cb.trials = 0
	cb.counts.ConsecutiveFailures = 0
	cb.counts.ConsecutiveSuccesses = 0
	if to == StateOpen {
		cb.openedAt = cb.cfg.Now()
	}
}

// unlock releases mu and then reports queued transitions.
func (cb *CircuitBreaker) unlock() {
	pending := cb.pending
	cb.pending = nil
	cb.mu.Unlock()

	if cb.cfg.OnStateChange == nil {
		return
	}
	for _, t := range pending {
		cb.cfg.OnStateChange(cb.cfg.Name, t.from, t.to)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the breaker and clears its counts without firing
// OnStateChange.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.generation++
	cb.trials = 0
	cb.counts = Counts{}
}

func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }
func (cb *CircuitBreaker) IsOpen() bool { return cb.State() == StateOpen }

func (cb *CircuitBreaker) IsClosed() bool { return cb.State() == StateClosed }

// ─────────────────────────────────────────────────────────────────────────────
// Presets
// ─────────────────────────────────────────────────────────────────────────────

// GatewayBreaker recovers quickly: a reply minutes late is worthless anyway.
func GatewayBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("gateway",
		WithFailureThreshold(5),
		WithSuccessThreshold(1),
		WithTimeout(15*time.Second),
		WithMaxHalfOpenRequests(2),
		WithOnStateChange(onStateChange),
	)
}

// OpenAIBreaker is named per client (chat, speech).
func OpenAIBreaker(name string, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(name,
		WithFailureThreshold(3),
		WithTimeout(time.Minute),
		WithOnStateChange(onStateChange),
	)
}

func DatabaseBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("database",
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithTimeout(10*time.Second),
		WithOnStateChange(onStateChange),
	)
}
