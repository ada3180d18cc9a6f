package engine

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy retries transient failures with exponential backoff and jitter.
// Rate-limited responses (429) back off from a longer initial delay, since
// the provider explicitly asked for it.
type RetryPolicy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	RateLimitDelay time.Duration // initial delay after a 429
	MaxDelay       time.Duration
	Factor         float64
	JitterRatio    float64
	IsRetryable    func(error) bool
}

// DefaultRetryPolicy matches the engine's stock settings.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     2,
		BaseDelay:      500 * time.Millisecond,
		RateLimitDelay: 2 * time.Second,
		MaxDelay:       15 * time.Second,
		Factor:         2,
		JitterRatio:    0.25,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxRetries <= 0 {
		p.MaxRetries = d.MaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.RateLimitDelay <= 0 {
		p.RateLimitDelay = d.RateLimitDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Factor <= 1 {
		p.Factor = d.Factor
	}
	if p.JitterRatio < 0 {
		p.JitterRatio = 0
	}
	if p.IsRetryable == nil {
		p.IsRetryable = IsRetryable
	}
	return p
}

// Run invokes fn, retrying retryable failures up to MaxRetries times. The
// terminal error is the last attempt's.
func (p RetryPolicy) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxRetries || !p.IsRetryable(err) {
			return err
		}

		timer := time.NewTimer(p.delay(attempt+1, err))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// delay computes the backoff before retry n (1-indexed), perturbed by
// ±JitterRatio.
func (p RetryPolicy) delay(n int, err error) time.Duration {
	base := p.BaseDelay
	if isRateLimited(err) {
		base = p.RateLimitDelay
	}

	d := float64(base) * math.Pow(p.Factor, float64(n-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.JitterRatio > 0 {
		d += p.JitterRatio * d * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
