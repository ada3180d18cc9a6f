package engine

import (
	"fmt"
	"sync"
)

// Registry holds the category model: which providers serve which logical data
// type and in what order. Fallback order is fixed and deterministic so
// behavior is reproducible.
type Registry struct {
	mu          sync.Mutex
	categories  map[string]*Category
	providers   map[string]*ProviderDescriptor
	counters    map[string]int // per-category round-robin counters
	health      *HealthTracker
	primaryOnly bool
}

// NewRegistry creates a registry gated by health. primaryOnly restricts every
// category to its primary provider (boot-time debugging flag).
func NewRegistry(health *HealthTracker, primaryOnly bool) *Registry {
	return &Registry{
		categories:  make(map[string]*Category),
		providers:   make(map[string]*ProviderDescriptor),
		counters:    make(map[string]int),
		health:      health,
		primaryOnly: primaryOnly,
	}
}

// Register adds a category. Provider names must be unique across the
// registry.
func (r *Registry) Register(c *Category) error {
	if c == nil || c.Name == "" {
		return fmt.Errorf("category name is required")
	}
	if c.Primary == nil {
		return fmt.Errorf("category %s: primary provider is required", c.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.categories[c.Name]; ok {
		return fmt.Errorf("category %s already registered", c.Name)
	}
	for _, p := range c.providers() {
		if _, ok := r.providers[p.Name]; ok {
			return fmt.Errorf("provider %s already registered", p.Name)
		}
	}
	r.categories[c.Name] = c
	for _, p := range c.providers() {
		r.providers[p.Name] = p
	}
	return nil
}

// Category looks up a registered category by name.
func (r *Registry) Category(name string) (*Category, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.categories[name]
	return c, ok
}

// Provider looks up a provider by name.
func (r *Registry) Provider(name string) (*ProviderDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[name]
	return p, ok
}

// Providers returns every registered provider.
func (r *Registry) Providers() []*ProviderDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ProviderDescriptor, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}

// Candidates returns the ordered candidate pool for one fetch. The pool is
// primary plus fallbacks filtered to enabled and circuit-closed providers;
// if that leaves nothing, the full unfiltered list is returned with
// lastResort set: trying a circuit-open provider beats failing outright,
// since the breaker may be stale. In round-robin mode the pool's starting
// provider rotates between calls.
func (r *Registry) Candidates(name string) (pool []*ProviderDescriptor, lastResort bool, err error) {
	r.mu.Lock()
	c, ok := r.categories[name]
	if !ok {
		r.mu.Unlock()
		return nil, false, fmt.Errorf("unknown category: %s", name)
	}
	all := c.providers()
	if r.primaryOnly {
		all = all[:1]
	}
	var offset int
	if c.Mode == RoundRobin {
		offset = r.counters[name]
		r.counters[name]++
	}
	r.mu.Unlock()

	for _, p := range all {
		if p.Enabled() && r.health.IsUsable(p.Name) {
			pool = append(pool, p)
		}
	}
	if len(pool) == 0 {
		return all, true, nil
	}

	if c.Mode == RoundRobin && len(pool) > 1 {
		k := offset % len(pool)
		rotated := make([]*ProviderDescriptor, 0, len(pool))
		rotated = append(rotated, pool[k:]...)
		rotated = append(rotated, pool[:k]...)
		pool = rotated
	}
	return pool, false, nil
}

// SelectNext returns the provider for the given attempt index: declared
// order in failover mode, the rotating pool head in round-robin mode.
func (r *Registry) SelectNext(name string, attempt int) (*ProviderDescriptor, error) {
	pool, _, err := r.Candidates(name)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("category %s has no providers", name)
	}
	return pool[attempt%len(pool)], nil
}
