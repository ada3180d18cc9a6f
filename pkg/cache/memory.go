package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	data     []byte
	expireAt time.Time
}

func (m *memoryItem) expired(now time.Time) bool {
	return !m.expireAt.IsZero() && now.After(m.expireAt)
}

// MemoryCache is the in-process tier. Values are stored marshaled so reads
// behave exactly like the Redis tier, and an LRU bound keeps the footprint
// independent of how many distinct fetch keys the engine produces.
type MemoryCache struct {
	mu     sync.Mutex
	items  map[string]*memoryItem
	access map[string]time.Time

	maxSize int
	ticker  *time.Ticker
}

// NewMemoryCache creates an in-process cache and starts its janitor.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         512,
		CleanupInterval: 2 * time.Minute,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		items:   make(map[string]*memoryItem),
		access:  make(map[string]time.Time),
		maxSize: cfg.MaxSize,
		ticker:  time.NewTicker(cfg.CleanupInterval),
	}

	go mc.janitor()
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encodeValue(value)
	if err != nil {
		return err
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, exists := mc.items[key]; !exists && len(mc.items) >= mc.maxSize {
		mc.evictOldest()
	}

	item := &memoryItem{data: data}
	if expiration > 0 {
		item.expireAt = time.Now().Add(expiration)
	}
	mc.items[key] = item
	mc.access[key] = time.Now()
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	item, ok := mc.items[key]
	if !ok || item.expired(time.Now()) {
		if ok {
			delete(mc.items, key)
			delete(mc.access, key)
		}
		mc.mu.Unlock()
		return ErrCacheMiss
	}
	mc.access[key] = time.Now()
	data := item.data
	mc.mu.Unlock()

	return decodeValue(data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for _, key := range keys {
		delete(mc.items, key)
		delete(mc.access, key)
	}
	return nil
}

// DeleteByPattern supports the "prefix*" globs the engine issues. An empty
// or bare "*" pattern clears everything.
func (mc *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if prefix == "" {
		mc.items = make(map[string]*memoryItem)
		mc.access = make(map[string]time.Time)
		return nil
	}

	for key := range mc.items {
		if strings.HasPrefix(key, prefix) {
			delete(mc.items, key)
			delete(mc.access, key)
		}
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	now := time.Now()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	for _, key := range keys {
		if item, ok := mc.items[key]; ok && !item.expired(now) {
			return true, nil
		}
	}
	return false, nil
}

func (mc *MemoryCache) Expire(_ context.Context, key string, expiration time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	item, ok := mc.items[key]
	if !ok {
		return false, nil
	}
	if expiration > 0 {
		item.expireAt = time.Now().Add(expiration)
	} else {
		item.expireAt = time.Time{}
	}
	return true, nil
}

func (mc *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, accessed := range mc.access {
		if oldestKey == "" || accessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = accessed
		}
	}

	if oldestKey != "" {
		delete(mc.items, oldestKey)
		delete(mc.access, oldestKey)
	}
}

func (mc *MemoryCache) janitor() {
	for range mc.ticker.C {
		now := time.Now()
		mc.mu.Lock()
		for key, item := range mc.items {
			if item.expired(now) {
				delete(mc.items, key)
				delete(mc.access, key)
			}
		}
		mc.mu.Unlock()
	}
}

// Close stops the janitor.
func (mc *MemoryCache) Close() error {
	if mc.ticker != nil {
		mc.ticker.Stop()
	}
	return nil
}

func encodeValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(value)
	}
}

func decodeValue(data []byte, dest interface{}) error {
	switch d := dest.(type) {
	case *[]byte:
		*d = data
		return nil
	case *string:
		*d = string(data)
		return nil
	default:
		return json.Unmarshal(data, dest)
	}
}
