package engine

import (
	"net/http"
	"sync/atomic"
	"time"
)

// Normalizer converts a raw provider response body into the category's
// canonical shape. Supplied at registration time; nil passes the raw body
// through unchanged.
type Normalizer func(body []byte) (any, error)

// RateLimit is the request budget for one provider: Capacity tokens, one
// token earned per RefillInterval.
type RateLimit struct {
	Capacity       float64
	RefillInterval time.Duration
}

// ProviderDescriptor holds identity and policy for one upstream source.
// Immutable after construction except the enabled flag.
type ProviderDescriptor struct {
	Name           string
	BaseEndpoint   string
	AuthKey        string
	AuthHeaderName string // attach AuthKey as this header; empty means query param
	AuthQueryParam string
	RequiresProxy  bool
	RequestMethod  string
	Timeout        time.Duration
	RateLimit      RateLimit
	Category       string
	Normalize      Normalizer

	enabled atomic.Bool
}

// NewProvider constructs a descriptor from p with defaults applied and the
// provider enabled. The input's enabled state is ignored.
func NewProvider(p ProviderDescriptor) *ProviderDescriptor {
	d := &ProviderDescriptor{
		Name:           p.Name,
		BaseEndpoint:   p.BaseEndpoint,
		AuthKey:        p.AuthKey,
		AuthHeaderName: p.AuthHeaderName,
		AuthQueryParam: p.AuthQueryParam,
		RequiresProxy:  p.RequiresProxy,
		RequestMethod:  p.RequestMethod,
		Timeout:        p.Timeout,
		RateLimit:      p.RateLimit,
		Category:       p.Category,
		Normalize:      p.Normalize,
	}
	if d.RequestMethod == "" {
		d.RequestMethod = http.MethodGet
	}
	if d.Timeout <= 0 {
		d.Timeout = 10 * time.Second
	}
	if d.RateLimit.Capacity <= 0 {
		d.RateLimit.Capacity = 5
	}
	if d.RateLimit.RefillInterval <= 0 {
		d.RateLimit.RefillInterval = time.Second
	}
	d.enabled.Store(true)
	return d
}

// SetEnabled is the operator control for taking a provider out of rotation.
func (p *ProviderDescriptor) SetEnabled(v bool) { p.enabled.Store(v) }

// Enabled reports whether the provider may be selected.
func (p *ProviderDescriptor) Enabled() bool { return p.enabled.Load() }

// SelectionMode controls how a category hands out candidates.
type SelectionMode int

const (
	// Failover tries providers strictly in declared order until one succeeds.
	Failover SelectionMode = iota
	// RoundRobin spreads read traffic across the healthy pool, rotating the
	// starting provider between calls.
	RoundRobin
)

// Category is one logical data type served by a primary provider plus an
// ordered list of fallbacks.
type Category struct {
	Name      string
	Primary   *ProviderDescriptor
	Fallbacks []*ProviderDescriptor
	Mode      SelectionMode
	TTL       time.Duration // cache TTL for responses in this category
	Publish   bool          // hand successful fetches to the sink
}

// providers returns primary plus fallbacks in declared order.
func (c *Category) providers() []*ProviderDescriptor {
	out := make([]*ProviderDescriptor, 0, 1+len(c.Fallbacks))
	out = append(out, c.Primary)
	out = append(out, c.Fallbacks...)
	return out
}
