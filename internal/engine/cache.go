package engine

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	pkgcache "MarketPull/pkg/cache"
)

// CacheKey derives the canonical cache key for a fetch. Params are encoded
// sorted, so identical requests always map to the same key.
func CacheKey(category, endpoint string, params url.Values) string {
	var b strings.Builder
	b.WriteString(category)
	b.WriteByte(':')
	b.WriteString(endpoint)
	if len(params) > 0 {
		b.WriteByte(':')
		b.WriteString(params.Encode())
	}
	return b.String()
}

type cacheEntry struct {
	value    any
	source   string
	storedAt time.Time
	ttl      time.Duration
}

func (e *cacheEntry) expired(now time.Time) bool {
	return e.ttl > 0 && now.After(e.storedAt.Add(e.ttl))
}

// evictable reports whether the entry is past its stale window and no longer
// worth keeping even as an exhaustion fallback.
func (e *cacheEntry) evictable(now time.Time, staleFor time.Duration) bool {
	return e.ttl > 0 && now.After(e.storedAt.Add(e.ttl+staleFor))
}

// warmEntry is the JSON shape persisted to the warm tier. It carries its own
// write time and TTL so freshness survives a process restart.
type warmEntry struct {
	Source   string          `json:"source"`
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"stored_at"`
	TTL      time.Duration   `json:"ttl"`
}

// ResponseCache is the engine's TTL response cache. Entries are replaced,
// never mutated. Expired entries stay resident for a stale window so
// exhaustion can fall back to them; the sweeper evicts them afterwards. An
// optional warm tier (Redis via pkg/cache) makes payloads survive restarts;
// values read back from it are json.RawMessage.
type ResponseCache struct {
	mu       sync.RWMutex
	m        map[string]*cacheEntry
	warm     pkgcache.Service
	staleFor time.Duration
	now      func() time.Time

	stop chan struct{}
	once sync.Once
}

// NewResponseCache creates a cache; warm may be nil.
func NewResponseCache(warm pkgcache.Service) *ResponseCache {
	return &ResponseCache{
		m:        make(map[string]*cacheEntry),
		warm:     warm,
		staleFor: 30 * time.Minute,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// StartSweeper bounds memory by dropping entries whose stale window has
// passed. Without it entries still expire on read, they just stay resident.
func (c *ResponseCache) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// Stop terminates the background sweeper.
func (c *ResponseCache) Stop() {
	c.once.Do(func() { close(c.stop) })
}

func (c *ResponseCache) sweep() {
	now := c.now()
	c.mu.Lock()
	for k, e := range c.m {
		if e.evictable(now, c.staleFor) {
			delete(c.m, k)
		}
	}
	c.mu.Unlock()
}

// Get returns the fresh value and its source provider for key. An expired
// entry is a miss but is kept resident for GetStale.
func (c *ResponseCache) Get(ctx context.Context, key string) (any, string, bool) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if ok {
		if !e.expired(now) {
			return e.value, e.source, true
		}
		return nil, "", false
	}

	if c.warm == nil {
		return nil, "", false
	}

	var we warmEntry
	if err := c.warm.Get(ctx, key, &we); err != nil {
		return nil, "", false
	}

	// Repopulate L1 with the original write time so the entry keeps the
	// freshness it had before the restart.
	e = &cacheEntry{value: we.Value, source: we.Source, storedAt: we.StoredAt, ttl: we.TTL}
	c.mu.Lock()
	c.m[key] = e
	c.mu.Unlock()

	if e.expired(now) {
		return nil, "", false
	}
	return we.Value, we.Source, true
}

// GetStale returns the last stored value for key even past its TTL. Used as
// a last resort when every provider is exhausted.
func (c *ResponseCache) GetStale(ctx context.Context, key string) (any, string, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if ok {
		return e.value, e.source, true
	}
	return c.warmGet(ctx, key)
}

func (c *ResponseCache) warmGet(ctx context.Context, key string) (any, string, bool) {
	if c.warm == nil {
		return nil, "", false
	}
	var we warmEntry
	if err := c.warm.Get(ctx, key, &we); err != nil {
		return nil, "", false
	}
	return we.Value, we.Source, true
}

// Set stores value for key, replacing any prior entry. The warm tier keeps
// the payload through the stale window too, and its write is best-effort: a
// Redis outage never fails a fetch.
func (c *ResponseCache) Set(ctx context.Context, key string, value any, source string, ttl time.Duration) {
	now := c.now()

	c.mu.Lock()
	c.m[key] = &cacheEntry{value: value, source: source, storedAt: now, ttl: ttl}
	c.mu.Unlock()

	if c.warm == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	expiration := time.Duration(0)
	if ttl > 0 {
		expiration = ttl + c.staleFor
	}
	_ = c.warm.Set(ctx, key, warmEntry{Source: source, Value: raw, StoredAt: now, TTL: ttl}, expiration)
}

// Clear drops all entries, or only those whose key starts with prefix (a
// category name clears that category).
func (c *ResponseCache) Clear(ctx context.Context, prefix string) {
	c.mu.Lock()
	if prefix == "" {
		c.m = make(map[string]*cacheEntry)
	} else {
		for k := range c.m {
			if strings.HasPrefix(k, prefix) {
				delete(c.m, k)
			}
		}
	}
	c.mu.Unlock()

	if c.warm != nil {
		_ = c.warm.DeleteByPattern(ctx, pkgcache.BuildPattern(prefix))
	}
}

// Len reports the number of resident entries, expired or not.
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
