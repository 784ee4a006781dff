// Package retry reruns failing operations with exponential backoff and
// jitter. Callers classify each failure as Retryable or Permanent; the
// retrier stops early on permanent failures and hands back the original
// cause once attempts run out.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR CLASSIFICATION
// ══════════════════════════════════════════════════════════════════════════════

// classifiedError carries the caller's verdict on a failure.
type classifiedError struct {
	err       error
	retryable bool
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Retryable marks an error as worth another attempt.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, retryable: true}
}

// Permanent marks an error as final: no further attempts will be made.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, retryable: false}
}

// IsRetryable reports whether the error was marked with Retryable.
func IsRetryable(err error) bool {
	var c *classifiedError
	return errors.As(err, &c) && c.retryable
}

// IsPermanent reports whether the error was marked with Permanent.
func IsPermanent(err error) bool {
	var c *classifiedError
	return errors.As(err, &c) && !c.retryable
}

// cause strips the classification wrapper, if any.
func cause(err error) error {
	var c *classifiedError
	if errors.As(err, &c) {
		return c.err
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds retry behavior.
type Config struct {
	// MaxAttempts counts the first try too. Default 3.
	MaxAttempts int

	// InitialDelay is the pause before the first retry. Default 100ms.
	InitialDelay time.Duration

	// MaxDelay caps the backoff growth. Default 30s.
	MaxDelay time.Duration

	// Multiplier grows the delay after every attempt. Default 2.0.
	Multiplier float64

	// JitterFactor spreads delays by ±factor to avoid thundering herds.
	// Default 0.1.
	JitterFactor float64

	// RetryIf overrides the Retryable/Permanent classification entirely.
	RetryIf func(error) bool

	// OnRetry is invoked before each pause, for logging or metrics.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Option mutates a Config.
type Option func(*Config)

// WithMaxAttempts sets the total attempt budget.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithInitialDelay sets the pause before the first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.InitialDelay = d
		}
	}
}

// WithMaxDelay caps the backoff.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxDelay = d
		}
	}
}

// WithMultiplier sets the backoff growth factor.
func WithMultiplier(m float64) Option {
	return func(c *Config) {
		if m >= 1.0 {
			c.Multiplier = m
		}
	}
}

// WithJitter sets the jitter factor, 0.0 through 1.0.
func WithJitter(j float64) Option {
	return func(c *Config) {
		if j >= 0 && j <= 1.0 {
			c.JitterFactor = j
		}
	}
}

// WithRetryIf installs a custom retry predicate.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) {
		c.RetryIf = fn
	}
}

// WithOnRetry installs a pre-retry callback.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *Config) {
		c.OnRetry = fn
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

// Retrier reruns operations under one fixed Config.
type Retrier struct {
	config Config
}

// New creates a Retrier from options applied over the defaults.
func New(opts ...Option) *Retrier {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Retrier{config: config}
}

// Do runs the operation until it succeeds, fails permanently, or the
// attempt budget runs out. The returned error is the unwrapped cause of
// the final failure.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}

		if IsPermanent(err) {
			return cause(err)
		}

		retryable := IsRetryable(err)
		if r.config.RetryIf != nil {
			retryable = r.config.RetryIf(err)
		}
		if !retryable {
			return err
		}

		if attempt >= r.config.MaxAttempts {
			return cause(err)
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return cause(err)
		case <-time.After(delay):
		}
	}
}

// calculateDelay grows the delay geometrically, caps it, then jitters it.
func (r *Retrier) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= r.config.Multiplier
		if delay >= float64(r.config.MaxDelay) {
			break
		}
	}
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.JitterFactor > 0 {
		delay += delay * r.config.JitterFactor * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONVENIENCE
// ══════════════════════════════════════════════════════════════════════════════

// Do builds a one-off Retrier and runs the operation through it.
func Do(ctx context.Context, operation func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, operation)
}

// DoWithData is Do for operations that produce a value.
func DoWithData[T any](ctx context.Context, operation func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var result T
	err := New(opts...).Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = operation(ctx)
		return opErr
	})
	return result, err
}

// DiscordAPIRetrier returns a Retrier tuned for Discord REST calls:
// few attempts and a tight delay cap, to stay clear of rate limits.
func DiscordAPIRetrier() *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(500*time.Millisecond),
		WithMaxDelay(10*time.Second),
		WithMultiplier(2.0),
		WithJitter(0.2),
	)
}
