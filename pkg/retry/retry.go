// Package retry re-runs flaky calls to the messaging gateway, OpenAI and the
// database with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Error classification
// ─────────────────────────────────────────────────────────────────────────────

// RetryableError marks a failure worth another attempt (a 5xx, a 429, a reset
// connection).
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// PermanentError marks a failure that another attempt cannot fix.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Retryable tags err as retryable. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// Permanent tags err as final. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsRetryable reports whether err carries a RetryableError tag.
func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

// IsPermanent reports whether err carries a PermanentError tag.
func IsPermanent(err error) bool {
	var target *PermanentError
	return errors.As(err, &target)
}

// strip removes the outermost classification tag so callers see the
// underlying error.
func strip(err error) error {
	switch e := err.(type) {
	case *RetryableError:
		return e.Err
	case *PermanentError:
		return e.Err
	}
	return err
}

// ─────────────────────────────────────────────────────────────────────────────
// Policy
// ─────────────────────────────────────────────────────────────────────────────

// Config describes how many times to try and how long to wait in between.
type Config struct {
	MaxAttempts  int           // first call included
	InitialDelay time.Duration // wait before the second attempt
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // fraction of the delay, applied as +/-

	// RetryIf overrides the default rule of retrying only tagged errors.
	RetryIf func(error) bool
	// OnRetry fires before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig: three attempts, 100ms doubling up to 30s, 10% jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		JitterFactor: 0.1,
	}
}

// Option adjusts a Config. Out-of-range values are ignored.
type Option func(*Config)

func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.InitialDelay = d
		}
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxDelay = d
		}
	}
}

func WithMultiplier(m float64) Option {
	return func(c *Config) {
		if m >= 1 {
			c.Multiplier = m
		}
	}
}

// WithJitter takes a factor in [0, 1].
func WithJitter(j float64) Option {
	return func(c *Config) {
		if j >= 0 && j <= 1 {
			c.JitterFactor = j
		}
	}
}

func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) { c.RetryIf = fn }
}

func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *Config) { c.OnRetry = fn }
}

// ─────────────────────────────────────────────────────────────────────────────
// Retrier
// ─────────────────────────────────────────────────────────────────────────────

// Retrier is an immutable retry policy; one value may be shared by many
// goroutines.
type Retrier struct {
	config Config
}

func New(opts ...Option) *Retrier {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Retrier{config: cfg}
}

func (r *Retrier) shouldRetry(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if r.config.RetryIf != nil {
		return r.config.RetryIf(err)
	}
	return IsRetryable(err)
}

// Do calls op until it succeeds, returns an error that is not retryable, the
// attempts run out, or ctx ends. The returned error has its tag removed.
// When ctx ends between attempts the last op error wins over ctx.Err().
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			if last != nil {
				return strip(last)
			}
			return ctx.Err()
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		last = err

		if !r.shouldRetry(err) || attempt >= r.config.MaxAttempts {
			return strip(err)
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return strip(last)
		case <-timer.C:
		}
	}
}

// calculateDelay returns the wait after the given (1-based) attempt.
func (r *Retrier) calculateDelay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay)
	limit := float64(r.config.MaxDelay)
	for i := 1; i < attempt && d < limit; i++ {
		d *= r.config.Multiplier
	}
	if d > limit {
		d = limit
	}

	if j := r.config.JitterFactor; j > 0 {
		d += d * j * (2*rand.Float64() - 1)
	}
	return time.Duration(max(d, 0))
}

// Do runs op under a Retrier built from opts.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, op)
}

// DoWithData is Do for operations that produce a value.
func DoWithData[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var out T
	err := New(opts...).Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// ─────────────────────────────────────────────────────────────────────────────
// Presets
// ─────────────────────────────────────────────────────────────────────────────

// GatewayRetrier: replies are still useful a few seconds late, so retry
// quickly a couple of times.
func GatewayRetrier() *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(200*time.Millisecond),
		WithMaxDelay(2*time.Second),
		WithJitter(0.2),
	)
}

// OpenAIRetrier covers rate limiting only; the SDK already retries transport
// failures.
func OpenAIRetrier() *Retrier {
	return New(
		WithMaxAttempts(2),
		WithInitialDelay(500*time.Millisecond),
		WithMaxDelay(3*time.Second),
	)
}

func DatabaseRetrier() *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(50*time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0.05),
	)
}
