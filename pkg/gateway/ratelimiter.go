package gateway

import (
	"math"
	"sync"
	"time"
)

// RateLimiter is a per-client token bucket. Each request takes one
// token; tokens refill continuously at the configured per-minute rate,
// up to a burst-sized reserve. A connection starts with a full bucket.
type RateLimiter struct {
	mu     sync.Mutex
	rate   float64 // tokens per second
	burst  float64
	tokens float64
	last   time.Time

	now func() time.Time
}

// NewRateLimiter creates a token bucket admitting ratePerMinute
// sustained requests with bursts of up to burst
func NewRateLimiter(ratePerMinute, burst int) *RateLimiter {
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}
	if burst <= 0 {
		burst = 10
	}

	l := &RateLimiter{
		rate:  float64(ratePerMinute) / 60.0,
		burst: float64(burst),
		now:   time.Now,
	}
	l.tokens = l.burst
	l.last = l.now()
	return l
}

// Allow takes one token, reporting false when the bucket is empty
func (l *RateLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if elapsed := now.Sub(l.last).Seconds(); elapsed > 0 {
		l.tokens = math.Min(l.burst, l.tokens+elapsed*l.rate)
	}
	l.last = now

	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

// Tokens reports the current token balance
func (l *RateLimiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if elapsed := now.Sub(l.last).Seconds(); elapsed > 0 {
		l.tokens = math.Min(l.burst, l.tokens+elapsed*l.rate)
	}
	l.last = now

	return l.tokens
}
