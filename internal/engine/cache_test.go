package engine

import (
	"context"
	"net/url"
	"testing"
	"time"
)

func TestCacheKeyDeterministic(t *testing.T) {
	a := CacheKey("marketData", "/price", url.Values{"symbol": {"btc"}, "fiat": {"usd"}})
	b := CacheKey("marketData", "/price", url.Values{"fiat": {"usd"}, "symbol": {"btc"}})
	if a != b {
		t.Fatalf("param order must not change the key: %q vs %q", a, b)
	}
	if a != "marketData:/price:fiat=usd&symbol=btc" {
		t.Fatalf("unexpected key %q", a)
	}
}

func TestCacheKeyNoParams(t *testing.T) {
	if got := CacheKey("news", "/latest", nil); got != "news:/latest" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestCacheGetSet(t *testing.T) {
	c := NewResponseCache(nil)
	ctx := context.Background()

	if _, _, ok := c.Get(ctx, "k"); ok {
		t.Fatalf("expected miss on empty cache")
	}

	c.Set(ctx, "k", "v", "prov", time.Minute)
	v, src, ok := c.Get(ctx, "k")
	if !ok || v != "v" || src != "prov" {
		t.Fatalf("got (%v, %q, %v)", v, src, ok)
	}
}

func TestCacheExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewResponseCache(nil)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "k", "v", "prov", time.Minute)

	now = now.Add(59 * time.Second)
	if _, _, ok := c.Get(ctx, "k"); !ok {
		t.Fatalf("entry should still be fresh")
	}

	now = now.Add(2 * time.Second)
	if _, _, ok := c.Get(ctx, "k"); ok {
		t.Fatalf("entry should have expired")
	}
}

func TestCacheStaleRead(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewResponseCache(nil)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "k", "v", "prov", time.Minute)
	now = now.Add(time.Hour)

	if _, _, ok := c.Get(ctx, "k"); ok {
		t.Fatalf("fresh read must miss")
	}

	// The expired entry stays resident for exactly this fallback.
	v, src, ok := c.GetStale(ctx, "k")
	if !ok || v != "v" || src != "prov" {
		t.Fatalf("stale read got (%v, %q, %v)", v, src, ok)
	}
}

func TestCacheZeroTTLNeverExpires(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewResponseCache(nil)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "k", "v", "prov", 0)
	now = now.Add(24 * time.Hour)
	if _, _, ok := c.Get(ctx, "k"); !ok {
		t.Fatalf("zero TTL entries must not expire")
	}
}

func TestCacheClearPrefix(t *testing.T) {
	c := NewResponseCache(nil)
	ctx := context.Background()

	c.Set(ctx, "marketData:/price", 1, "a", time.Minute)
	c.Set(ctx, "marketData:/ohlc", 2, "a", time.Minute)
	c.Set(ctx, "news:/latest", 3, "b", time.Minute)

	c.Clear(ctx, "marketData")
	if c.Len() != 1 {
		t.Fatalf("len = %d, want 1", c.Len())
	}
	if _, _, ok := c.Get(ctx, "news:/latest"); !ok {
		t.Fatalf("other categories must survive a prefix clear")
	}

	c.Clear(ctx, "")
	if c.Len() != 0 {
		t.Fatalf("full clear must drop everything")
	}
}

func TestCacheSweep(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewResponseCache(nil)
	c.now = func() time.Time { return now }
	c.staleFor = 30 * time.Second
	ctx := context.Background()

	c.Set(ctx, "short", 1, "a", time.Second)
	c.Set(ctx, "long", 2, "a", time.Hour)

	// Expired but inside the stale window: the sweeper must keep it.
	now = now.Add(10 * time.Second)
	c.sweep()
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2 while inside the stale window", c.Len())
	}
	if _, _, ok := c.GetStale(ctx, "short"); !ok {
		t.Fatalf("expired entry must still serve stale reads")
	}

	now = now.Add(time.Minute)
	c.sweep()
	if c.Len() != 1 {
		t.Fatalf("len = %d, want 1 after the stale window passes", c.Len())
	}
}
