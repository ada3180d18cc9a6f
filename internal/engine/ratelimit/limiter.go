package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time
}

// Limiter keeps one token bucket per provider. Refill is lazy: elapsed time
// is converted to tokens on each check, capped at capacity. There is no
// fairness guarantee across waiting callers; this is an upstream-courtesy
// limiter, not an admission-control SLA.
type Limiter struct {
	mu  sync.Mutex
	m   map[string]*bucket
	now func() time.Time
}

func New() *Limiter {
	return &Limiter{m: make(map[string]*bucket), now: time.Now}
}

// Configure sets the budget for key. Unconfigured keys get a bucket of
// capacity 5 refilling at 1 token/second on first use.
func (l *Limiter) Configure(key string, capacity, refillPerSec float64) {
	if capacity <= 0 {
		capacity = 1
	}
	if refillPerSec <= 0 {
		refillPerSec = 1
	}
	l.mu.Lock()
	l.m[key] = &bucket{tokens: capacity, capacity: capacity, refillRate: refillPerSec, last: l.now()}
	l.mu.Unlock()
}

// Allow consumes one token for key if available.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.take(key)
	return ok
}

// Acquire blocks until one token is available for key, then consumes it.
// The only possible error is the context's.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	for {
		ok, wait := l.take(key)
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// take refills the bucket for key and either consumes a token or returns the
// wait until one becomes available: ceil((1 - tokens) / refillRate).
func (l *Limiter) take(key string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: 5, capacity: 5, refillRate: 1, last: now}
		l.m[key] = b
	}

	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}

	if b.tokens >= 1 {
		b.tokens -= 1
		return true, 0
	}

	waitMs := math.Ceil((1 - b.tokens) / b.refillRate * 1000)
	return false, time.Duration(waitMs) * time.Millisecond
}

// Tokens reports the current token count for key, refilled to now.
func (l *Limiter) Tokens(key string) float64 {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[key]
	if !ok {
		return 0
	}
	tokens := b.tokens + now.Sub(b.last).Seconds()*b.refillRate
	if tokens > b.capacity {
		tokens = b.capacity
	}
	return tokens
}
