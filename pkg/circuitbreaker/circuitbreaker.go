// Package circuitbreaker guards outbound calls with a three-state breaker
// so a misbehaving Discord API cannot stall the rest of the bot.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	// StateClosed passes every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits a bounded number of trial calls.
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
	}
	return "unknown"
}

var (
	// ErrCircuitOpen is returned while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open trial budget is spent.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Counts is a snapshot of request accounting since the last reset.
type Counts struct {
	Requests             int
	TotalSuccesses       int
	TotalFailures        int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// CircuitBreaker tracks call outcomes and trips after repeated failures.
// The zero value is not usable; construct with New.
type CircuitBreaker struct {
	name          string
	failLimit     int
	recoverLimit  int
	cooldown      time.Duration
	trialBudget   int
	onStateChange func(name string, from, to State)
	isFailure     func(error) bool

	mu          sync.Mutex
	state       State
	counts      Counts
	trippedAt   time.Time
	trialsTaken int
}

// Option tweaks a breaker at construction time.
type Option func(*CircuitBreaker)

// WithFailureThreshold sets how many consecutive failures trip the breaker.
func WithFailureThreshold(n int) Option {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.failLimit = n
		}
	}
}

// WithSuccessThreshold sets how many half-open successes close the breaker.
func WithSuccessThreshold(n int) Option {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.recoverLimit = n
		}
	}
}

// WithTimeout sets the open-state cooldown before trial calls are admitted.
func WithTimeout(d time.Duration) Option {
	return func(cb *CircuitBreaker) {
		if d > 0 {
			cb.cooldown = d
		}
	}
}

// WithMaxHalfOpenRequests bounds concurrent trial calls in half-open state.
func WithMaxHalfOpenRequests(n int) Option {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.trialBudget = n
		}
	}
}

// WithOnStateChange registers a callback fired on every transition.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

// WithIsFailure overrides which errors count against the breaker.
// Errors it rejects still propagate to the caller but leave the counts intact
// on the failure side.
func WithIsFailure(fn func(error) bool) Option {
	return func(cb *CircuitBreaker) {
		cb.isFailure = fn
	}
}

// New builds a breaker with the given name. Without options it trips after
// 5 consecutive failures, cools down 30 seconds and needs 2 successes to close.
func New(name string, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		failLimit:    5,
		recoverLimit: 2,
		cooldown:     30 * time.Second,
		trialBudget:  1,
		state:        StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn if the breaker admits the call and records the outcome.
// The lock is not held while fn runs.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

// ExecuteWithFallback runs fn through the breaker and hands rejections
// (open circuit or exhausted trial budget) to fallback. Errors from fn
// itself are returned as-is.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, fn func(context.Context) error, fallback func(error) error) error {
	err := cb.Execute(ctx, fn)
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests) {
		return fallback(err)
	}
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.trippedAt) < cb.cooldown {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.trialsTaken = 1
		return nil
	case StateHalfOpen:
		if cb.trialsTaken >= cb.trialBudget {
			return ErrTooManyRequests
		}
		cb.trialsTaken++
		return nil
	}
	return ErrCircuitOpen
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.Requests++

	failed := err != nil
	if failed && cb.isFailure != nil {
		failed = cb.isFailure(err)
	}

	if !failed {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.recoverLimit {
			cb.transition(StateClosed)
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0
	cb.trippedAt = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.counts.ConsecutiveFailures >= cb.failLimit {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		// A single failed trial call reopens the circuit.
		cb.transition(StateOpen)
	}
}

// transition switches state, clears per-state counters and fires the callback.
// Callers must hold cb.mu.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.counts.ConsecutiveSuccesses = 0
	cb.counts.ConsecutiveFailures = 0
	cb.trialsTaken = 0

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State reports the current breaker position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns a copy of the accounting counters.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset forces the breaker closed and zeroes all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.counts = Counts{}
	cb.trialsTaken = 0
}

// Name returns the breaker's name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// IsOpen reports whether the breaker currently rejects calls.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// IsClosed reports whether the breaker passes calls through normally.
func (cb *CircuitBreaker) IsClosed() bool {
	return cb.State() == StateClosed
}

// DiscordAPIBreaker is tuned for the Discord REST API: announcements are
// best-effort, so a single successful trial call closes the breaker.
func DiscordAPIBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(
		"discord-api",
		WithFailureThreshold(5),
		WithSuccessThreshold(1),
		WithTimeout(30*time.Second),
		WithMaxHalfOpenRequests(2),
		WithOnStateChange(onStateChange),
	)
}
