package retry

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

const (
	// DefaultMaxRetries is the total attempt budget when Options.MaxRetries is unset
	DefaultMaxRetries = 3

	// DefaultBaseDelay is the first backoff delay when Options.BaseDelay is unset
	DefaultBaseDelay = 1 * time.Second

	// DefaultMaxDelay caps the backoff when Options.MaxDelay is unset
	DefaultMaxDelay = 30 * time.Second
)

// jitterFraction is how far a computed delay may deviate in either direction
const jitterFraction = 0.25

// Options controls how Do retries an operation
type Options struct {
	// MaxRetries is the total number of attempts, including the first
	MaxRetries int

	// BaseDelay is the wait before the first retry; doubles each attempt
	BaseDelay time.Duration

	// MaxDelay caps the per-attempt wait after jitter is applied
	MaxDelay time.Duration

	// RetryOn decides whether an error is worth retrying; defaults to Transient
	RetryOn func(error) bool

	// OnRetry is called before each wait, purely for observation
	OnRetry func(attempt int, delay time.Duration, err error)
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.RetryOn == nil {
		o.RetryOn = Transient
	}
	return o
}

// Do runs op until it succeeds, fails with a non-retryable error, exhausts
// the attempt budget, or ctx is cancelled. The last error is returned
// unchanged so callers can inspect its type or code.
func Do(ctx context.Context, opts Options, op func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	opts = opts.withDefaults()

	var lastErr error

	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !opts.RetryOn(err) {
			return nil, err
		}

		// Last attempt - don't wait
		if attempt == opts.MaxRetries-1 {
			break
		}

		delay := backoffDelay(attempt, opts.BaseDelay, opts.MaxDelay)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, delay, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

// backoffDelay computes min(max, base * 2^attempt) with +/-25% jitter
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	// Shift past 62 would overflow; the cap applies long before that
	if attempt > 31 {
		attempt = 31
	}

	delay := float64(base) * float64(uint64(1)<<uint(attempt))
	delay *= 1 + jitterFraction*(2*rand.Float64()-1)

	if delay > float64(max) {
		return max
	}
	return time.Duration(delay)
}

// Transient reports whether an error looks like a temporary network
// failure: rate limits, server errors, reset or timed-out connections.
// Context cancellation is never transient; a deadline hit on a per-call
// timeout is.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := err.Error()

	// Network errors
	if strings.Contains(msg, "ECONNRESET") || strings.Contains(msg, "ETIMEDOUT") || strings.Contains(msg, "connection refused") {
		return true
	}

	// Rate limits
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}

	// Server errors
	if strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504") || strings.Contains(msg, "overloaded") {
		return true
	}

	return false
}
