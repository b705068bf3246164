package imap

import (
	"context"
	"math"
	"time"
)

// RateLimiter is a token bucket that throttles session establishment against
// a single provider host.
//
// A caller that finds the bucket short waits until the missing tokens have
// accrued and then drains the bucket to zero. The bucket state is guarded by
// a single-slot channel that the waiter holds for the whole wait, so
// concurrent callers queue behind it instead of racing for the same refill.
type RateLimiter struct {
	rate  float64 // tokens added per second
	burst float64 // bucket capacity

	gate   chan struct{} // single-slot lock guarding the fields below
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a limiter that refills at rate tokens per second up
// to burst. A burst of zero or less defaults to twice the rate. The bucket
// starts full.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	b := float64(burst)
	if burst <= 0 {
		b = 2 * rate
	}
	return &RateLimiter{
		rate:   rate,
		burst:  b,
		gate:   make(chan struct{}, 1),
		tokens: b,
		last:   time.Now(),
	}
}

// Acquire blocks until n tokens are available or ctx is done. If the bucket
// cannot cover the request, the caller sleeps for the remaining refill time
// and the bucket is left empty.
func (r *RateLimiter) Acquire(ctx context.Context, n int) error {
	select {
	case r.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-r.gate }()

	now := time.Now()
	r.tokens = math.Min(r.burst, r.tokens+now.Sub(r.last).Seconds()*r.rate)
	r.last = now

	need := float64(n)
	if r.tokens >= need {
		r.tokens -= need
		return nil
	}

	wait := time.Duration((need - r.tokens) / r.rate * float64(time.Second))
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Tokens accrued during the sleep were consumed by this request; the
	// refill clock restarts now so the next caller does not earn them again.
	r.tokens = 0
	r.last = time.Now()
	return nil
}
