package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(timeout time.Duration) *CircuitBreaker {
	return NewCircuitBreaker("test", Config{
		MaxRequests:      1,
		Timeout:          timeout,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

func fail(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func() error {
		return errors.New("boom")
	})
}

func succeed(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func() error {
		return nil
	})
}

func TestStartsClosed(t *testing.T) {
	cb := newTestBreaker(time.Minute)
	assert.Equal(t, StateClosed, cb.State())
}

func TestOpensAfterFailureThreshold(t *testing.T) {
	cb := newTestBreaker(time.Minute)

	for i := 0; i < 3; i++ {
		require.Error(t, fail(cb))
	}

	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, fail(cb), ErrOpenState)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(time.Minute)

	require.Error(t, fail(cb))
	require.Error(t, fail(cb))
	require.NoError(t, succeed(cb))
	require.Error(t, fail(cb))
	require.Error(t, fail(cb))

	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenAfterTimeout(t *testing.T) {
	cb := newTestBreaker(10 * time.Millisecond)

	for i := 0; i < 3; i++ {
		require.Error(t, fail(cb))
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestClosesAfterHalfOpenSuccesses(t *testing.T) {
	cb := newTestBreaker(10 * time.Millisecond)

	for i := 0; i < 3; i++ {
		require.Error(t, fail(cb))
	}
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, succeed(cb))
	require.NoError(t, succeed(cb))

	assert.Equal(t, StateClosed, cb.State())
}

func TestReopensOnHalfOpenFailure(t *testing.T) {
	cb := newTestBreaker(10 * time.Millisecond)

	for i := 0; i < 3; i++ {
		require.Error(t, fail(cb))
	}
	time.Sleep(20 * time.Millisecond)

	require.Error(t, fail(cb))
	assert.Equal(t, StateOpen, cb.State())
}

func TestHalfOpenLimitsProbes(t *testing.T) {
	cb := newTestBreaker(10 * time.Millisecond)

	for i := 0; i < 3; i++ {
		require.Error(t, fail(cb))
	}
	time.Sleep(20 * time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	go cb.Execute(context.Background(), func() error {
		close(started)
		<-release
		return nil
	})

	<-started
	err := succeed(cb)
	assert.ErrorIs(t, err, ErrTooManyRequests)
	close(release)
}

func TestExecutePropagatesOperationError(t *testing.T) {
	cb := newTestBreaker(time.Minute)

	boom := errors.New("boom")
	err := cb.Execute(context.Background(), func() error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestExecuteRespectsCancelledContext(t *testing.T) {
	cb := newTestBreaker(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
