package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"MarketPull/internal/engine/ratelimit"
	applogger "MarketPull/pkg/logger"
)

// Sink receives successfully fetched values for categories with publishing
// enabled. The engine calls it; it does not implement delivery.
type Sink interface {
	Deliver(ctx context.Context, category, source string, value any) error
}

// FetchOptions tune one FetchWithFallback call. The zero value is the normal
// path: read the cache, fetch on miss, no stale fallback.
type FetchOptions struct {
	SkipCache  bool          // bypass the cache read (the result is still stored)
	Retries    int           // minimum candidate attempts; the pool size wins if larger
	TTL        time.Duration // overrides the category's cache TTL
	AllowStale bool          // on exhaustion, fall back to an expired cache entry
}

// FetchResult is the outcome of a successful fetch.
type FetchResult struct {
	Category  string    `json:"category"`
	Endpoint  string    `json:"endpoint"`
	Source    string    `json:"source"`
	Value     any       `json:"value"`
	Cached    bool      `json:"cached"`
	Stale     bool      `json:"stale,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Engine is the resilient acquisition core: one FetchWithFallback entry point
// over provider selection, health gating, rate limiting, proxying, retries,
// caching and in-flight de-duplication. All state is owned here; construct
// one Engine per process and inject it where data is needed.
type Engine struct {
	registry   *Registry
	health     *HealthTracker
	limiter    *ratelimit.Limiter
	cache      *ResponseCache
	coord      *Coordinator
	transport  Transport
	proxy      *ProxyRotator
	retry      RetryPolicy
	sink       Sink
	metrics    Metrics
	log        *applogger.Logger
	defaultTTL time.Duration
}

// Config wires an Engine. Transport is required; everything else has
// defaults. Registry categories may be registered before or after New.
type Config struct {
	Transport        Transport
	Relays           []Relay
	Retry            RetryPolicy
	BreakerThreshold int
	BreakerCooldown  time.Duration
	DefaultTTL       time.Duration
	SweepInterval    time.Duration
	PrimaryOnly      bool

	Sink    Sink
	Metrics Metrics
	Logger  *applogger.Logger
}

// New constructs an engine with fresh state: all circuits closed, empty
// cache, full rate budgets.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("engine: transport is required")
	}
	log := cfg.Logger
	if log == nil {
		log = applogger.Nop()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Minute
	}

	e := &Engine{
		health:     NewHealthTracker(cfg.BreakerThreshold, cfg.BreakerCooldown, log),
		limiter:    ratelimit.New(),
		coord:      NewCoordinator(),
		transport:  cfg.Transport,
		retry:      cfg.Retry,
		sink:       cfg.Sink,
		metrics:    cfg.Metrics,
		log:        log,
		defaultTTL: cfg.DefaultTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = NewResponseCache(nil)
	}
	e.cache.StartSweeper(cfg.SweepInterval)
	e.registry = NewRegistry(e.health, cfg.PrimaryOnly)
	e.proxy = NewProxyRotator(cfg.Transport, cfg.Relays, log)
	if cfg.Metrics != nil {
		e.health.SetMetrics(cfg.Metrics)
	}
	return e, nil
}

// Option customizes engine construction.
type Option func(*Engine)

// WithCache injects a pre-built response cache (e.g. one with a Redis warm
// tier).
func WithCache(c *ResponseCache) Option {
	return func(e *Engine) { e.cache = c }
}

// RegisterCategory adds a category and configures rate budgets for its
// providers.
func (e *Engine) RegisterCategory(c *Category) error {
	if err := e.registry.Register(c); err != nil {
		return err
	}
	for _, p := range c.providers() {
		refillPerSec := 1.0
		if p.RateLimit.RefillInterval > 0 {
			refillPerSec = float64(time.Second) / float64(p.RateLimit.RefillInterval)
		}
		e.limiter.Configure(p.Name, p.RateLimit.Capacity, refillPerSec)
	}
	return nil
}

// Registry exposes the provider registry for operator controls.
func (e *Engine) Registry() *Registry { return e.registry }

// Health returns the provider health snapshots, or one provider's when name
// is non-empty.
func (e *Engine) Health(name string) []HealthRecord {
	if name == "" {
		return e.health.Snapshots()
	}
	if rec, ok := e.health.Snapshot(name); ok {
		return []HealthRecord{rec}
	}
	return nil
}

// ResetHealth closes circuits: one provider's, or all when name is empty.
func (e *Engine) ResetHealth(name string) {
	if name == "" {
		e.health.ResetAll()
		return
	}
	e.health.Reset(name)
}

// ClearCache drops cached responses, optionally restricted to a category or
// exact key prefix.
func (e *Engine) ClearCache(ctx context.Context, prefix string) {
	e.cache.Clear(ctx, prefix)
}

// Close stops background work.
func (e *Engine) Close() { e.cache.Stop() }

// FetchWithFallback acquires one value for category: cache first, then the
// candidate providers in selection order, each behind its rate budget and the
// retry policy. Provider failures are ordinary control flow; only total
// exhaustion surfaces, as an *ExhaustedError listing every attempt. There is
// no cross-provider deadline beyond ctx: under full degradation a call can
// take tens of seconds.
func (e *Engine) FetchWithFallback(ctx context.Context, category, endpoint string, params url.Values, opts FetchOptions) (*FetchResult, error) {
	cat, ok := e.registry.Category(category)
	if !ok {
		return nil, fmt.Errorf("unknown category: %s", category)
	}

	key := CacheKey(category, endpoint, params)
	if !opts.SkipCache {
		if value, source, ok := e.cache.Get(ctx, key); ok {
			if e.metrics != nil {
				e.metrics.RecordCacheLookup(category, true)
			}
			return &FetchResult{
				Category: category,
				Endpoint: endpoint,
				Source:   source,
				Value:    value,
				Cached:   true,
			}, nil
		}
		if e.metrics != nil {
			e.metrics.RecordCacheLookup(category, false)
		}
	}

	res, shared, err := e.coord.Do(ctx, key, func() (*FetchResult, error) {
		return e.fetch(ctx, cat, key, endpoint, params, opts)
	})
	if shared && e.log != nil {
		e.log.Debug("request coalesced", applogger.String("key", key))
	}
	return res, err
}

// fetch runs the provider loop. Every attempt updates shared health and rate
// state even when the call ultimately fails, so subsequent calls see fresh
// circuit state immediately.
func (e *Engine) fetch(ctx context.Context, cat *Category, key, endpoint string, params url.Values, opts FetchOptions) (*FetchResult, error) {
	pool, lastResort, err := e.registry.Candidates(cat.Name)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("category %s has no providers", cat.Name)
	}
	if lastResort {
		e.log.Warn("no usable providers, trying full list", applogger.String("category", cat.Name))
	}

	attempts := len(pool)
	if opts.Retries > attempts {
		attempts = opts.Retries
	}

	var failed []Attempt
	for i := 0; i < attempts; i++ {
		p := pool[i%len(pool)]
		if !lastResort && !e.health.IsUsable(p.Name) {
			// Circuit opened mid-loop by a concurrent fetch.
			continue
		}

		start := time.Now()
		value, err := e.attempt(ctx, p, endpoint, params)
		elapsed := time.Since(start)

		if err == nil {
			e.health.RecordSuccess(p.Name, elapsed)
			if e.metrics != nil {
				e.metrics.RecordFetch(cat.Name, p.Name, "ok", elapsed.Seconds())
			}
			ttl := cat.TTL
			if opts.TTL > 0 {
				ttl = opts.TTL
			}
			if ttl <= 0 {
				ttl = e.defaultTTL
			}
			e.cache.Set(ctx, key, value, p.Name, ttl)
			e.deliver(ctx, cat, p.Name, value)
			return &FetchResult{
				Category:  cat.Name,
				Endpoint:  endpoint,
				Source:    p.Name,
				Value:     value,
				FetchedAt: time.Now(),
			}, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		e.health.RecordFailure(p.Name, err)
		if e.metrics != nil {
			e.metrics.RecordFetch(cat.Name, p.Name, "error", elapsed.Seconds())
		}
		e.log.Warn("provider attempt failed",
			applogger.String("category", cat.Name),
			applogger.String("provider", p.Name),
			applogger.Error(err),
		)
		failed = append(failed, Attempt{Provider: p.Name, Err: err, Message: err.Error()})
	}

	if opts.AllowStale {
		if value, source, ok := e.cache.GetStale(ctx, key); ok {
			e.log.Warn("serving stale cache after exhaustion",
				applogger.String("category", cat.Name),
				applogger.String("key", key),
			)
			return &FetchResult{
				Category: cat.Name,
				Endpoint: endpoint,
				Source:   source,
				Value:    value,
				Cached:   true,
				Stale:    true,
			}, nil
		}
	}

	return nil, &ExhaustedError{Category: cat.Name, Endpoint: endpoint, Attempts: failed}
}

// attempt performs one provider's full request cycle: rate budget, request
// build, transport (direct or proxied) under the retry policy, status check,
// normalization.
func (e *Engine) attempt(ctx context.Context, p *ProviderDescriptor, endpoint string, params url.Values) (any, error) {
	if err := e.limiter.Acquire(ctx, p.Name); err != nil {
		return nil, err
	}

	req := e.buildRequest(p, endpoint, params)

	var value any
	err := e.retry.Run(ctx, func(ctx context.Context) error {
		var resp *Response
		var err error
		if p.RequiresProxy {
			resp, err = e.proxy.Fetch(ctx, req)
		} else {
			resp, err = e.transport.Do(ctx, req)
		}
		if err != nil {
			return err
		}
		if resp.Status < 200 || resp.Status >= 300 {
			body := string(resp.Body)
			if len(body) > 200 {
				body = body[:200]
			}
			return &StatusError{Status: resp.Status, URL: req.URL, Body: body}
		}

		if p.Normalize == nil {
			value = resp.Body
			return nil
		}
		v, nerr := p.Normalize(resp.Body)
		if nerr != nil {
			return &NormalizationError{Provider: p.Name, Err: nerr}
		}
		value = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (e *Engine) buildRequest(p *ProviderDescriptor, endpoint string, params url.Values) *Request {
	q := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}

	header := map[string]string{}
	if p.AuthKey != "" {
		if p.AuthHeaderName != "" {
			header[p.AuthHeaderName] = p.AuthKey
		} else {
			name := p.AuthQueryParam
			if name == "" {
				name = "api_key"
			}
			q.Set(name, p.AuthKey)
		}
	}

	return &Request{
		Method:  p.RequestMethod,
		URL:     strings.TrimRight(p.BaseEndpoint, "/") + endpoint,
		Header:  header,
		Query:   q,
		Timeout: p.Timeout,
	}
}

func (e *Engine) deliver(ctx context.Context, cat *Category, source string, value any) {
	if e.sink == nil || !cat.Publish {
		return
	}
	if err := e.sink.Deliver(ctx, cat.Name, source, value); err != nil {
		e.log.Error("sink delivery failed",
			applogger.String("category", cat.Name),
			applogger.String("source", source),
			applogger.Error(err),
		)
	}
}
