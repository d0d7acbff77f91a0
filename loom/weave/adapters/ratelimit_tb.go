package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
)

// ErrRateLimitExceeded is returned when a bucket has no tokens left.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// TokenBucket is a per-key token bucket rate limiter.
type TokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int           // max tokens per bucket
	refillRate time.Duration // time between token refills
	now        func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTokenBucket creates a limiter that refills one token every refillRate.
func NewTokenBucket(capacity int, refillRate time.Duration) *TokenBucket {
	return &TokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
		now:        time.Now,
	}
}

// Acquire takes a token for key without blocking. Calls are metered by refill
// only, so release is a no-op kept for the RateLimiter contract.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: tb.capacity, lastRefill: now}
		tb.buckets[key] = b
	}

	if refill := int(now.Sub(b.lastRefill) / tb.refillRate); refill > 0 {
		b.tokens = min(b.tokens+refill, tb.capacity)
		b.lastRefill = b.lastRefill.Add(time.Duration(refill) * tb.refillRate)
	}

	if b.tokens <= 0 {
		return nil, ErrRateLimitExceeded
	}
	b.tokens--

	return func() {}, nil
}

// Wait blocks until Acquire succeeds or ctx is done.
func (tb *TokenBucket) Wait(ctx context.Context, key string) (release func(), err error) {
	for {
		release, err := tb.Acquire(ctx, key)
		if !errors.Is(err, ErrRateLimitExceeded) {
			return release, err
		}
		select {
		case <-time.After(tb.refillRate):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

var _ ports.RateLimiter = (*TokenBucket)(nil)
