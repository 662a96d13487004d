package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/service"
)

func fastRetry(attempts int) service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &RetryableError{Err: errors.New("upstream hiccup"), Retryable: true}
		}
		return nil
	}, fastRetry(3))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_NonTransientFailureAbortsImmediately(t *testing.T) {
	terminal := errors.New("bad request")
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return terminal
	}, fastRetry(3))

	assert.ErrorIs(t, err, terminal)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_MarkedNonRetryableAborts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return &RetryableError{Err: errors.New("invalid credentials"), Retryable: false}
	}, fastRetry(3))

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ExhaustionWrapsMaxRetries(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return &RetryableError{Err: errors.New("still down"), Retryable: true}
	}, fastRetry(3))

	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_ContextCancelStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	opts := fastRetry(5)
	opts.InitialDelay = time.Minute
	opts.MaxDelay = time.Minute

	calls := 0
	err := WithRetry(ctx, func() error {
		calls++
		cancel()
		return ErrRateLimit
	}, opts)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit", ErrRateLimit, true},
		{"deadline", context.DeadlineExceeded, true},
		{"marked retryable", &RetryableError{Err: errors.New("x"), Retryable: true}, true},
		{"marked non-retryable", &RetryableError{Err: errors.New("x"), Retryable: false}, false},
		{"plain error", errors.New("x"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
