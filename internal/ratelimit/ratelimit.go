// Package ratelimit provides the per-user token buckets guarding the
// gateway endpoints. Buckets refill lazily on each Allow call, so the
// limiter needs no background goroutine.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a caller's bucket is empty.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config sizes the token buckets.
type Config struct {
	RequestsPerMinute int // Refill rate. 0 disables limiting.
	BurstSize         int // Bucket capacity. 0 means RequestsPerMinute.
}

// Limiter hands out tokens per user ID. Each caller draws from its own
// bucket, so a chatty user cannot starve the rest.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   float64 // bucket capacity
}

type bucket struct {
	tokens   float64
	refilled time.Time
}

// credit adds the tokens earned since the last refill, capped at burst.
func (b *bucket) credit(now time.Time, rate, burst float64) {
	b.tokens += now.Sub(b.refilled).Seconds() * rate
	if b.tokens > burst {
		b.tokens = burst
	}
	b.refilled = now
}

// NewLimiter builds a limiter from cfg. A zero RequestsPerMinute produces
// a limiter whose Allow always succeeds.
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    float64(cfg.RequestsPerMinute) / 60.0,
		burst:   float64(burst),
	}
}

// Allow consumes one token from userID's bucket, returning ErrRateLimited
// when the bucket is empty. First-time callers start with a full bucket.
func (l *Limiter) Allow(userID string) error {
	if l.rate <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{tokens: l.burst, refilled: now}
		l.buckets[userID] = b
	}
	b.credit(now, l.rate, l.burst)

	if b.tokens < 1 {
		return ErrRateLimited
	}
	b.tokens--
	return nil
}
