package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicing/internal/resilience"
)

func TestRetryWithBackoff_Success(t *testing.T) {
	cfg := resilience.Config{MaxRetries: 3, InitialBackoff: time.Millisecond}

	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		callCount++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, callCount)
}

func TestRetryWithBackoff_SucceedsWithinBound(t *testing.T) {
	var retries []int
	cfg := resilience.Config{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			retries = append(retries, attempt)
		},
	}

	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, callCount)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestRetryWithBackoff_ExhaustsRetries(t *testing.T) {
	cfg := resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond}

	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		callCount++
		return fmt.Errorf("persistent error %d", callCount)
	})

	require.Error(t, err)
	assert.Equal(t, 3, callCount)
	assert.EqualError(t, err, "persistent error 3", "the last error is returned")
}

func TestRetryWithBackoff_Permanent(t *testing.T) {
	cfg := resilience.Config{MaxRetries: 5, InitialBackoff: time.Millisecond}

	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		callCount++
		return fmt.Errorf("bad request: %w", resilience.ErrPermanent)
	})

	assert.ErrorIs(t, err, resilience.ErrPermanent)
	assert.Equal(t, 1, callCount)
}

func TestRetryWithBackoff_RespectsContext(t *testing.T) {
	cfg := resilience.Config{MaxRetries: 5, InitialBackoff: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	callCount := 0
	err := resilience.RetryWithBackoff(ctx, cfg, func() error {
		callCount++
		return errors.New("error")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, callCount)
}

func TestBackoff_Capped(t *testing.T) {
	cfg := resilience.Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}

	for attempt := 0; attempt < 6; attempt++ {
		wait := resilience.Backoff(cfg, attempt)
		assert.LessOrEqual(t, wait, 450*time.Millisecond)
		assert.GreaterOrEqual(t, wait, 100*time.Millisecond)
	}

	assert.Equal(t, time.Duration(0), resilience.Backoff(resilience.Config{}, 3))
}

func TestNewCircuitBreaker_Trips(t *testing.T) {
	var transitions []string
	cb := resilience.NewCircuitBreaker("matcher", func(name string, from, to gobreaker.State) {
		transitions = append(transitions, fmt.Sprintf("%s:%s->%s", name, from, to))
	})

	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(func() (interface{}, error) {
			return nil, errors.New("down")
		})
	}

	assert.Equal(t, gobreaker.StateOpen, cb.State())
	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, []string{"matcher:closed->open"}, transitions)
}

func TestNewCircuitBreaker_IgnoresPermanentErrors(t *testing.T) {
	cb := resilience.NewCircuitBreaker("matcher", nil)

	for i := 0; i < 10; i++ {
		_, err := cb.Execute(func() (interface{}, error) {
			return nil, fmt.Errorf("bad request: %w", resilience.ErrPermanent)
		})
		require.ErrorIs(t, err, resilience.ErrPermanent)
	}

	assert.Equal(t, gobreaker.StateClosed, cb.State())
}
