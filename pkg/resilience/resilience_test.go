package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "save", RetryConfig{MaxAttempts: 4, InitialDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "save", RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}, func() error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 2, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	err := Retry(context.Background(), "save", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return !errors.Is(err, permanent) },
	}, func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("postgres", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     20 * time.Millisecond,
		OnStateChange:    func(_ string, to State) { transitions = append(transitions, to) },
	})

	for range 2 {
		assert.ErrorIs(t, cb.Execute(func() error { return errFlaky }), errFlaky)
	}
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "mine", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "mine", timeout.Operation)
	assert.Equal(t, 10*time.Millisecond, timeout.Limit)

	parent, cancel := context.WithCancel(context.Background())
	cancel()
	err = WithTimeout(parent, time.Minute, "mine", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.As(err, &timeout), "a cancelled caller is not a timeout")

	err = WithTimeout(context.Background(), 0, "mine", func(ctx context.Context) error { return errFlaky })
	assert.ErrorIs(t, err, errFlaky)
}

func TestRetryDelayGrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second}.withDefaults()
	for attempt, want := range map[int]time.Duration{
		1:  100 * time.Millisecond,
		2:  200 * time.Millisecond,
		3:  400 * time.Millisecond,
		10: time.Second,
	} {
		got := cfg.delay(attempt)
		assert.InDelta(t, float64(want), float64(got), float64(want)*0.1+1, "attempt %d", attempt)
		assert.LessOrEqual(t, got, cfg.MaxDelay)
	}
}

func TestRetryAbandonsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, "publish", RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour}, func() error {
		calls++
		cancel()
		return errFlaky
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorContains(t, err, "flaky")
	assert.Equal(t, 1, calls)
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	notFound := errors.New("dataset not found")
	cb := NewCircuitBreaker("postgres", CircuitBreakerConfig{
		FailureThreshold: 2,
		IsFailure:        func(err error) bool { return !errors.Is(err, notFound) },
	})
	for range 5 {
		assert.ErrorIs(t, cb.Execute(func() error { return notFound }), notFound)
	}
	assert.Equal(t, StateClosed, cb.GetState())

	assert.ErrorIs(t, cb.Execute(func() error { return errFlaky }), errFlaky)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.ErrorIs(t, cb.Execute(func() error { return errFlaky }), errFlaky)
	assert.Equal(t, StateClosed, cb.GetState(), "a success resets the failure run")
}

func TestCircuitBreakerDefaultIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker("postgres", CircuitBreakerConfig{FailureThreshold: 1})
	assert.ErrorIs(t, cb.Execute(func() error { return context.Canceled }), context.Canceled)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("postgres", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	cb.now = func() time.Time { return now }

	assert.ErrorIs(t, cb.Execute(func() error { return errFlaky }), errFlaky)
	assert.Equal(t, StateOpen, cb.GetState())

	now = now.Add(59 * time.Second)
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	now = now.Add(time.Second)
	assert.ErrorIs(t, cb.Execute(func() error { return errFlaky }), errFlaky)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen, "the reset timeout restarts")

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
}
