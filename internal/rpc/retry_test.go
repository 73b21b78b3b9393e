package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockNetError struct {
	msg       string
	timeout   bool
	temporary bool
}

func (e *mockNetError) Error() string   { return e.msg }
func (e *mockNetError) Timeout() bool   { return e.timeout }
func (e *mockNetError) Temporary() bool { return e.temporary }

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil error", nil, false},
		{"network timeout error", &mockNetError{msg: "network timeout", timeout: true}, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"broken pipe", syscall.EPIPE, true},
		{"timeout string", errors.New("operation timeout"), true},
		{"deadline exceeded", errors.New("deadline exceeded"), true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"rate limit 429", errors.New("HTTP 429"), true},
		{"too many requests", errors.New("too many requests"), true},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"502 bad gateway", errors.New("502 bad gateway"), true},
		{"503 service unavailable", errors.New("503 Service Unavailable"), true},
		{"504 gateway timeout", errors.New("504 Gateway Timeout"), true},
		{"invalid parameter", errors.New("invalid parameter"), false},
		{"authentication failed", errors.New("401 Unauthorized"), false},
		{"not found", errors.New("404 Not Found"), false},
		{"bad request", errors.New("400 Bad Request"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := retryableError(tt.err)
			assert.Equal(t, tt.retryable, result, "retryableError(%v) = %v, want %v", tt.err, result, tt.retryable)
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}

	tests := []struct {
		name        string
		attempt     int
		minExpected time.Duration
		maxExpected time.Duration
	}{
		{"attempt 1 - no backoff", 1, 0, 0},
		{"attempt 2 - initial backoff with jitter", 2, 750 * time.Millisecond, 1250 * time.Millisecond},
		{"attempt 3 - exponential backoff", 3, 1500 * time.Millisecond, 2500 * time.Millisecond},
		{"attempt 4", 4, 3 * time.Second, 5 * time.Second},
		{"attempt 5", 5, 6 * time.Second, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 10; i++ {
				backoff := calculateBackoff(tt.attempt, cfg)
				assert.GreaterOrEqual(t, backoff, tt.minExpected)
				assert.LessOrEqual(t, backoff, tt.maxExpected)
			}
		})
	}
}

func TestCalculateBackoff_CappedAtMax(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}

	backoff := calculateBackoff(10, cfg)
	assert.LessOrEqual(t, backoff, 6250*time.Millisecond, "backoff should be capped at max + 25% jitter")
}

func TestRetryWithBackoff_Success(t *testing.T) {
	ctx := context.Background()
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 100 * time.Millisecond, BackoffMultiplier: 2.0}

	callCount := 0
	err := retryWithBackoff(ctx, cfg, "test_operation", func() error {
		callCount++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, callCount)
}

func TestRetryWithBackoff_SuccessAfterRetries(t *testing.T) {
	ctx := context.Background()
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 100 * time.Millisecond, BackoffMultiplier: 2.0}

	callCount := 0
	err := retryWithBackoff(ctx, cfg, "test_operation", func() error {
		callCount++
		if callCount < 3 {
			return &mockNetError{msg: "temporary error", timeout: true}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, callCount)
}

func TestRetryWithBackoff_NonRetryableError(t *testing.T) {
	ctx := context.Background()
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 100 * time.Millisecond, BackoffMultiplier: 2.0}

	callCount := 0
	expectedErr := errors.New("invalid parameter")
	err := retryWithBackoff(ctx, cfg, "test_operation", func() error {
		callCount++
		return expectedErr
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-retryable error")
	assert.ErrorIs(t, err, expectedErr)
	assert.Equal(t, 1, callCount)
}

func TestRetryWithBackoff_ExhaustedRetries(t *testing.T) {
	ctx := context.Background()
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 100 * time.Millisecond, BackoffMultiplier: 2.0}

	callCount := 0
	expectedErr := &mockNetError{msg: "persistent error", timeout: true}
	err := retryWithBackoff(ctx, cfg, "test_operation", func() error {
		callCount++
		return expectedErr
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 attempts")
	assert.ErrorIs(t, err, expectedErr)
	assert.Equal(t, 3, callCount)
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 100 * time.Millisecond, BackoffMultiplier: 2.0}

	callCount := 0
	err := retryWithBackoff(ctx, cfg, "test_operation", func() error {
		callCount++
		if callCount == 2 {
			cancel()
		}
		return &mockNetError{msg: "temporary error", timeout: true}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
	assert.Equal(t, 2, callCount)
}

func TestRetryWithBackoff_ContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	cfg := RetryConfig{MaxAttempts: 10, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 1 * time.Second, BackoffMultiplier: 2.0}

	callCount := 0
	err := retryWithBackoff(ctx, cfg, "test_operation", func() error {
		callCount++
		return &mockNetError{msg: "temporary error", timeout: true}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context")
	assert.Less(t, callCount, 10)
}

func TestRetryableError_WrappedErrors(t *testing.T) {
	wrappedErr := fmt.Errorf("connection failed: %w", syscall.ECONNREFUSED)
	assert.True(t, retryableError(wrappedErr))
}

func TestRetryableError_NetworkError(t *testing.T) {
	netErr := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	assert.True(t, retryableError(netErr))
}
