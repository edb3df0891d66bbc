package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultCooldown is the pause after a rate limit response without a
// Retry-After hint.
const DefaultCooldown = 10 * time.Second

// RateLimitConfig holds rate limiting configuration for a service.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate limit.
	RequestsPerSecond float64
	// BurstSize is the maximum burst size.
	BurstSize int
}

// RateLimiter is a token bucket with a cooldown after 429 responses.
// It is shared by every caller of one remote service.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
}

// NewRateLimiter creates a rate limiter. A non-positive rate disables
// the token bucket.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.BurstSize
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a request can be made without exceeding the rate limit.
// It also respects any cooldown set by RecordRateLimitError.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if wait := time.Until(retryAt); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return r.limiter.Wait(ctx)
}

// RecordRateLimitError starts a cooldown. A non-positive duration uses
// DefaultCooldown.
func (r *RateLimiter) RecordRateLimitError(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = DefaultCooldown
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if at := time.Now().Add(retryAfter); at.After(r.retryAt) {
		r.retryAt = at
	}
}

// Allow checks if a request can be made immediately without blocking.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if time.Now().Before(retryAt) {
		return false
	}
	return r.limiter.Allow()
}
