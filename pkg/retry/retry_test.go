package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), Options{}, func(ctx context.Context) (interface{}, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	var retries []int
	var delays []time.Duration

	calls := 0
	result, err := Do(context.Background(), Options{
		MaxRetries: 5,
		BaseDelay:  time.Millisecond,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			retries = append(retries, attempt)
			delays = append(delays, delay)
		},
	}, func(ctx context.Context) (interface{}, error) {
		calls++
		if calls <= 2 {
			return nil, errors.New("HTTP 429 Too Many Requests")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)

	// Observed exactly twice, with strictly increasing attempt numbers
	require.Len(t, retries, 2)
	assert.Equal(t, []int{1, 2}, retries)
	require.Len(t, delays, 2)
	for _, d := range delays {
		assert.Greater(t, d, time.Duration(0))
	}
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	permanent := errors.New("invalid request body")

	calls := 0
	_, err := Do(context.Background(), Options{MaxRetries: 5, BaseDelay: time.Millisecond}, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, permanent
	})

	assert.Same(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustedPropagatesLastErrorUnchanged(t *testing.T) {
	last := fmt.Errorf("server error: %d", 503)

	calls := 0
	_, err := Do(context.Background(), Options{MaxRetries: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, last
	})

	assert.Same(t, last, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = Do(ctx, Options{MaxRetries: 3, BaseDelay: time.Hour}, func(ctx context.Context) (interface{}, error) {
			calls++
			return nil, errors.New("502 bad gateway")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomRetryOn(t *testing.T) {
	special := errors.New("special")

	calls := 0
	_, err := Do(context.Background(), Options{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		RetryOn:    func(err error) bool { return errors.Is(err, special) },
	}, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, special
	})

	assert.Same(t, special, err)
	assert.Equal(t, 2, calls)
}

func TestBackoffDelay_Bounds(t *testing.T) {
	base := 100 * time.Millisecond
	max := 10 * time.Second

	for attempt := 0; attempt < 5; attempt++ {
		for i := 0; i < 50; i++ {
			d := backoffDelay(attempt, base, max)

			expected := float64(base) * float64(uint64(1)<<uint(attempt))
			lo := time.Duration(expected * (1 - jitterFraction))
			hi := time.Duration(expected * (1 + jitterFraction))

			assert.GreaterOrEqual(t, d, lo, "attempt %d", attempt)
			assert.LessOrEqual(t, d, hi, "attempt %d", attempt)
		}
	}
}

func TestBackoffDelay_CapsAtMax(t *testing.T) {
	max := 500 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := backoffDelay(10, time.Second, max)
		assert.Equal(t, max, d)
	}

	// Huge attempt numbers must not overflow past the cap
	d := backoffDelay(1000, time.Second, max)
	assert.Equal(t, max, d)
}

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "rate limit status", err: errors.New("HTTP 429"), want: true},
		{name: "rate limit text", err: errors.New("rate limit exceeded"), want: true},
		{name: "server 500", err: errors.New("500 internal server error"), want: true},
		{name: "server 502", err: errors.New("502 bad gateway"), want: true},
		{name: "server 503", err: errors.New("503 service unavailable"), want: true},
		{name: "server 504", err: errors.New("504 gateway timeout"), want: true},
		{name: "overloaded", err: errors.New("api overloaded"), want: true},
		{name: "conn reset", err: errors.New("read tcp: ECONNRESET"), want: true},
		{name: "conn timeout", err: errors.New("dial tcp: ETIMEDOUT"), want: true},
		{name: "conn refused", err: errors.New("dial tcp 127.0.0.1:80: connection refused"), want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "validation", err: errors.New("missing required field"), want: false},
		{name: "not found", err: errors.New("404 not found"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transient(tt.err))
		})
	}
}
