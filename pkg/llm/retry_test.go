package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/require"
)

func TestRetryHandler_SucceedsAfterRetries(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})

	calls := 0
	err := handler.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &openai.Error{StatusCode: http.StatusServiceUnavailable}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryHandler_NonRetryableStops(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{MaxRetries: 5, InitialBackoff: time.Millisecond})

	calls := 0
	err := handler.Do(context.Background(), func() error {
		calls++
		return &openai.Error{StatusCode: http.StatusUnauthorized}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryHandler_ExhaustsAttempts(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond})

	calls := 0
	err := handler.Do(context.Background(), func() error {
		calls++
		return &openai.Error{StatusCode: http.StatusTooManyRequests}
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryHandler_ContextCancelled(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{MaxRetries: 5, InitialBackoff: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := handler.Do(ctx, func() error {
		return &openai.Error{StatusCode: http.StatusBadGateway}
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestShouldRetry(t *testing.T) {
	require.False(t, shouldRetry(nil))
	require.False(t, shouldRetry(context.DeadlineExceeded))
	require.False(t, shouldRetry(errors.New("plain error")))
	require.True(t, shouldRetry(&openai.Error{StatusCode: http.StatusInternalServerError}))
	require.False(t, shouldRetry(&openai.Error{StatusCode: http.StatusBadRequest}))
}
