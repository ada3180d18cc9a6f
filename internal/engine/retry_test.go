package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &StatusError{Status: 429}, true},
		{"server error", &StatusError{Status: 503}, true},
		{"not found", &StatusError{Status: 404}, false},
		{"unauthorized", &StatusError{Status: 401}, false},
		{"normalization", &NormalizationError{Provider: "p", Err: errors.New("bad json")}, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"unknown transport", errors.New("connection reset"), true},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: IsRetryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRunRetriesUpToLimit(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0
	err := p.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return &StatusError{Status: 500}
	})
	if err == nil {
		t.Fatalf("expected terminal error")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 1 initial + 2 retries", calls)
	}
}

func TestRunStopsOnNonRetryable(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0
	err := p.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return &StatusError{Status: 404}
	})
	var se *StatusError
	if !errors.As(err, &se) || se.Status != 404 {
		t.Fatalf("expected the 404 back, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRunSucceedsAfterRetry(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0
	err := p.Run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return &StatusError{Status: 500}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRunHonorsContextDuringBackoff(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Minute}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := p.Run(ctx, func(ctx context.Context) error {
		return &StatusError{Status: 500}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestDelayGrowthAndRateLimitBase(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:      100 * time.Millisecond,
		RateLimitDelay: 2 * time.Second,
		MaxDelay:       15 * time.Second,
		Factor:         2,
		JitterRatio:    0, // deterministic for the assertion
	}.withDefaults()

	if d := p.delay(1, &StatusError{Status: 500}); d != 100*time.Millisecond {
		t.Fatalf("first delay = %v, want 100ms", d)
	}
	if d := p.delay(2, &StatusError{Status: 500}); d != 200*time.Millisecond {
		t.Fatalf("second delay = %v, want 200ms", d)
	}
	if d := p.delay(1, &StatusError{Status: 429}); d != 2*time.Second {
		t.Fatalf("rate-limit delay = %v, want 2s", d)
	}
}

func TestDelayCappedAtMax(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:   time.Second,
		MaxDelay:    3 * time.Second,
		Factor:      2,
		JitterRatio: 0,
	}.withDefaults()

	if d := p.delay(10, &StatusError{Status: 500}); d != 3*time.Second {
		t.Fatalf("delay = %v, want cap of 3s", d)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:   time.Second,
		MaxDelay:    15 * time.Second,
		Factor:      2,
		JitterRatio: 0.25,
	}.withDefaults()

	for i := 0; i < 100; i++ {
		d := p.delay(1, &StatusError{Status: 500})
		if d < 750*time.Millisecond || d > 1250*time.Millisecond {
			t.Fatalf("delay %v outside jitter bounds", d)
		}
	}
}
