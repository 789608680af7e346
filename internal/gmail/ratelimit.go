package gmail

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Operation is a Gmail API call with its quota cost in units.
type Operation int

const (
	OpProfile       Operation = iota // 1 unit
	OpMessagesList                   // 5 units
	OpMessagesGet                    // 5 units
)

// Cost returns the quota cost for an operation.
func (o Operation) Cost() int {
	switch o {
	case OpMessagesList, OpMessagesGet:
		return 5
	default:
		return 1
	}
}

const (
	// defaultCapacity matches Gmail's per-user quota window.
	defaultCapacity = 250
	// defaultRefillRate is quota units per second at the baseline QPS.
	defaultRefillRate = 250.0
	// defaultQPS is the baseline used to scale the refill rate.
	defaultQPS = 5.0
	// throttleRecoveryFactor reduces the refill rate after a throttle.
	throttleRecoveryFactor = 0.5
	// minWait bounds the retry interval when tokens are insufficient.
	minWait = 10 * time.Millisecond
	// minQPS prevents a zero refill rate.
	minQPS = 0.1
)

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RateLimiter is a token bucket for Gmail API quota units. It is safe
// for concurrent use and supports adaptive throttling after 429/403
// responses.
type RateLimiter struct {
	mu             sync.Mutex
	clock          Clock
	tokens         float64
	capacity       float64
	refillRate     float64
	baseRefillRate float64
	lastRefill     time.Time
	throttledUntil time.Time
}

// NewRateLimiter creates a rate limiter for the given QPS. A qps of 5
// is the safe default for the Gmail API.
func NewRateLimiter(qps float64) *RateLimiter {
	return newRateLimiter(realClock{}, qps)
}

func newRateLimiter(clk Clock, qps float64) *RateLimiter {
	if qps < minQPS {
		qps = minQPS
	}
	scale := qps / defaultQPS
	if scale > 1.0 {
		scale = 1.0
	}
	refillRate := defaultRefillRate * scale
	return &RateLimiter{
		clock:          clk,
		tokens:         defaultCapacity,
		capacity:       defaultCapacity,
		refillRate:     refillRate,
		baseRefillRate: refillRate,
		lastRefill:     clk.Now(),
	}
}

// reserve takes tokens for the operation, or returns how long to wait.
func (r *RateLimiter) reserve(op Operation) time.Duration {
	cost := float64(op.Cost())

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if now.Before(r.throttledUntil) {
		return r.throttledUntil.Sub(now)
	}

	r.refill()

	if r.tokens >= cost {
		r.tokens -= cost
		return 0
	}

	deficit := cost - r.tokens
	waitTime := time.Duration(deficit/r.refillRate*1000) * time.Millisecond
	if waitTime < minWait {
		waitTime = minWait
	}
	return waitTime
}

// Acquire blocks until the required tokens are available or the
// context is cancelled.
func (r *RateLimiter) Acquire(ctx context.Context, op Operation) error {
	for {
		waitTime := r.reserve(op)
		if waitTime == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(waitTime):
			continue
		}
	}
}

// refill adds tokens based on elapsed time. Must be called with the
// lock held.
func (r *RateLimiter) refill() {
	now := r.clock.Now()

	if now.Before(r.throttledUntil) {
		r.lastRefill = now
		return
	}
	if r.refillRate < r.baseRefillRate && !r.throttledUntil.IsZero() {
		r.refillRate = r.baseRefillRate
	}

	elapsed := now.Sub(r.lastRefill).Seconds()
	r.lastRefill = now

	r.tokens += elapsed * r.refillRate
	if r.tokens > r.capacity {
		r.tokens = r.capacity
	}
}

// Available returns the current number of available tokens.
func (r *RateLimiter) Available() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return r.tokens
}

// Throttle drains the bucket and pauses refill for the given duration.
// An existing longer throttle window is never shortened.
func (r *RateLimiter) Throttle(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	end := now.Add(duration)
	if end.After(r.throttledUntil) {
		r.throttledUntil = end
	}

	r.lastRefill = r.throttledUntil
	r.tokens = 0
	r.refillRate = r.baseRefillRate * throttleRecoveryFactor
}
