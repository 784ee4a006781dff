package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failingOp(context.Context) error { return errBoom }

func succeedingOp(context.Context) error { return nil }

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := New("test")

	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.IsClosed())
	assert.False(t, cb.IsOpen())
	assert.Equal(t, "test", cb.Name())
}

func TestCircuitBreaker_OpensAfterFailureThreshold(t *testing.T) {
	cb := New("test", WithFailureThreshold(3))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := cb.Execute(ctx, failingOp)
		require.ErrorIs(t, err, errBoom)
		assert.Equal(t, StateClosed, cb.State())
	}

	err := cb.Execute(ctx, failingOp)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_BlocksWhileOpen(t *testing.T) {
	cb := New("test", WithFailureThreshold(1), WithTimeout(time.Hour))
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failingOp))
	require.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	cb := New("test", WithFailureThreshold(3))
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failingOp))
	require.Error(t, cb.Execute(ctx, failingOp))
	require.NoError(t, cb.Execute(ctx, succeedingOp))
	require.Error(t, cb.Execute(ctx, failingOp))
	require.Error(t, cb.Execute(ctx, failingOp))

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := New("test",
		WithFailureThreshold(1),
		WithSuccessThreshold(1),
		WithTimeout(10*time.Millisecond),
	)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failingOp))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(ctx, succeedingOp)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New("test",
		WithFailureThreshold(1),
		WithTimeout(10*time.Millisecond),
	)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failingOp))
	time.Sleep(20 * time.Millisecond)

	require.Error(t, cb.Execute(ctx, failingOp))
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenRequiresSuccessThreshold(t *testing.T) {
	cb := New("test",
		WithFailureThreshold(1),
		WithSuccessThreshold(2),
		WithTimeout(10*time.Millisecond),
		WithMaxHalfOpenRequests(5),
	)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failingOp))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Execute(ctx, succeedingOp))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, succeedingOp))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenLimitsRequests(t *testing.T) {
	cb := New("test",
		WithFailureThreshold(1),
		WithSuccessThreshold(5),
		WithTimeout(10*time.Millisecond),
		WithMaxHalfOpenRequests(1),
	)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failingOp))
	time.Sleep(20 * time.Millisecond)

	// The probe slot is consumed synchronously here, so a second call in
	// half-open state must be rejected.
	require.Equal(t, StateOpen, cb.State())
	done := make(chan struct{})
	err := cb.Execute(ctx, func(context.Context) error {
		close(done)
		inner := cb.Execute(ctx, succeedingOp)
		assert.ErrorIs(t, inner, ErrTooManyRequests)
		return nil
	})
	<-done
	require.NoError(t, err)
}

func TestCircuitBreaker_ExecuteWithFallback(t *testing.T) {
	cb := New("test", WithFailureThreshold(1), WithTimeout(time.Hour))
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failingOp))

	fallbackCalled := false
	err := cb.ExecuteWithFallback(ctx, succeedingOp, func(cause error) error {
		fallbackCalled = true
		assert.ErrorIs(t, cause, ErrCircuitOpen)
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, fallbackCalled)
}

func TestCircuitBreaker_FallbackNotUsedForOperationErrors(t *testing.T) {
	cb := New("test", WithFailureThreshold(10))
	ctx := context.Background()

	fallbackCalled := false
	err := cb.ExecuteWithFallback(ctx, failingOp, func(error) error {
		fallbackCalled = true
		return nil
	})

	assert.ErrorIs(t, err, errBoom)
	assert.False(t, fallbackCalled)
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	errIgnorable := errors.New("not found")
	cb := New("test",
		WithFailureThreshold(1),
		WithIsFailure(func(err error) bool {
			return !errors.Is(err, errIgnorable)
		}),
	)
	ctx := context.Background()

	err := cb.Execute(ctx, func(context.Context) error { return errIgnorable })
	require.ErrorIs(t, err, errIgnorable)
	assert.Equal(t, StateClosed, cb.State())

	require.Error(t, cb.Execute(ctx, failingOp))
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	type transition struct{ from, to State }
	var transitions []transition

	cb := New("test",
		WithFailureThreshold(1),
		WithSuccessThreshold(1),
		WithTimeout(10*time.Millisecond),
		WithOnStateChange(func(name string, from, to State) {
			assert.Equal(t, "test", name)
			transitions = append(transitions, transition{from, to})
		}),
	)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failingOp))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Execute(ctx, succeedingOp))

	require.Len(t, transitions, 3)
	assert.Equal(t, transition{StateClosed, StateOpen}, transitions[0])
	assert.Equal(t, transition{StateOpen, StateHalfOpen}, transitions[1])
	assert.Equal(t, transition{StateHalfOpen, StateClosed}, transitions[2])
}

func TestCircuitBreaker_Counts(t *testing.T) {
	cb := New("test", WithFailureThreshold(10))
	ctx := context.Background()

	require.NoError(t, cb.Execute(ctx, succeedingOp))
	require.NoError(t, cb.Execute(ctx, succeedingOp))
	require.Error(t, cb.Execute(ctx, failingOp))

	counts := cb.Counts()
	assert.Equal(t, 3, counts.Requests)
	assert.Equal(t, 2, counts.TotalSuccesses)
	assert.Equal(t, 1, counts.TotalFailures)
	assert.Equal(t, 1, counts.ConsecutiveFailures)
	assert.Equal(t, 0, counts.ConsecutiveSuccesses)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New("test", WithFailureThreshold(1), WithTimeout(time.Hour))
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failingOp))
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, Counts{}, cb.Counts())
	assert.NoError(t, cb.Execute(ctx, succeedingOp))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestDiscordAPIBreaker_Defaults(t *testing.T) {
	cb := DiscordAPIBreaker(nil)

	assert.Equal(t, "discord-api", cb.Name())
	assert.Equal(t, StateClosed, cb.State())
}
