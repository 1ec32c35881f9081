package venue

import (
	"context"
	"sync"
	"time"

	"github.com/taku247/omg-tool/internal/config"
)

// TokenBucket is a continuously-refilling rate limiter: capacity tokens,
// refilled at rate tokens/second, never exceeding capacity.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	lastTime time.Time
}

// NewTokenBucket creates a bucket starting full.
func NewTokenBucket(capacity int, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   float64(capacity),
		capacity: float64(capacity),
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (b *TokenBucket) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		deficit := 1 - b.tokens
		wait := time.Duration(deficit / b.rate * float64(time.Second))
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (b *TokenBucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(b.lastTime).Seconds()
	b.lastTime = now
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// RateLimiter groups the per-call-class buckets a venue adapter consults
// before issuing an outbound REST call.
type RateLimiter struct {
	Book   *TokenBucket
	Order  *TokenBucket
	Cancel *TokenBucket
}

// NewRateLimiter builds a RateLimiter from an operator-configured
// exchanges.<name>.rate_limit block (config-driven, unlike the single
// venue-specific constant set this is adapted from).
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		Book:   NewTokenBucket(cfg.BookCapacity, cfg.BookRate),
		Order:  NewTokenBucket(cfg.OrderCapacity, cfg.OrderRate),
		Cancel: NewTokenBucket(cfg.CancelCapacity, cfg.CancelRate),
	}
}
