package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedTransport answers by URL prefix, consuming one scripted step per
// call. The last step repeats once the script runs out.
type scriptedTransport struct {
	mu      sync.Mutex
	scripts map[string][]step
	served  map[string]int
	reqs    []*Request
}

type step struct {
	status int
	body   string
	err    error
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{scripts: make(map[string][]step), served: make(map[string]int)}
}

func (s *scriptedTransport) script(prefix string, steps ...step) {
	s.scripts[prefix] = steps
}

func (s *scriptedTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)

	for prefix, steps := range s.scripts {
		if !strings.HasPrefix(req.URL, prefix) {
			continue
		}
		i := s.served[prefix]
		if i >= len(steps) {
			i = len(steps) - 1
		}
		s.served[prefix]++
		st := steps[i]
		if st.err != nil {
			return nil, st.err
		}
		return &Response{Status: st.status, Body: []byte(st.body)}, nil
	}
	return nil, fmt.Errorf("no script for %s", req.URL)
}

func (s *scriptedTransport) calls(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served[prefix]
}

func jsonNormalizer(body []byte) (any, error) {
	var v map[string]any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func fastProvider(name, base string) *ProviderDescriptor {
	return NewProvider(ProviderDescriptor{
		Name:         name,
		BaseEndpoint: base,
		Normalize:    jsonNormalizer,
		RateLimit:    RateLimit{Capacity: 100, RefillInterval: time.Millisecond},
	})
}

func fastRetry() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     1,
		BaseDelay:      time.Millisecond,
		RateLimitDelay: time.Millisecond,
		MaxDelay:       time.Millisecond,
		Factor:         2,
	}
}

func newTestEngine(t *testing.T, ft Transport, cat *Category) *Engine {
	t.Helper()
	eng, err := New(Config{
		Transport:        ft,
		Retry:            fastRetry(),
		BreakerThreshold: 5,
		BreakerCooldown:  time.Minute,
		DefaultTTL:       time.Minute,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(eng.Close)
	if cat != nil {
		if err := eng.RegisterCategory(cat); err != nil {
			t.Fatalf("register category: %v", err)
		}
	}
	return eng
}

func TestFetchFailoverChain(t *testing.T) {
	ft := newScriptedTransport()
	// A is rate limited on every call; B fails once, then succeeds.
	ft.script("https://a.example", step{status: 429, body: "slow down"})
	ft.script("https://b.example",
		step{status: 500},
		step{status: 200, body: `{"price":42000}`},
	)
	ft.script("https://c.example", step{status: 200, body: `{"price":1}`})

	cat := &Category{
		Name:    "marketData",
		Primary: fastProvider("A", "https://a.example"),
		Fallbacks: []*ProviderDescriptor{
			fastProvider("B", "https://b.example"),
			fastProvider("C", "https://c.example"),
		},
	}
	eng := newTestEngine(t, ft, cat)

	res, err := eng.FetchWithFallback(context.Background(), "marketData", "/price", nil, FetchOptions{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.Source != "B" {
		t.Fatalf("source = %s, want B", res.Source)
	}
	v, ok := res.Value.(map[string]any)
	if !ok || v["price"] != float64(42000) {
		t.Fatalf("unexpected value %#v", res.Value)
	}
	// A was tried (with one retry), B recovered on its retry, C never ran.
	if ft.calls("https://a.example") != 2 {
		t.Fatalf("A calls = %d, want initial + 1 retry", ft.calls("https://a.example"))
	}
	if ft.calls("https://b.example") != 2 {
		t.Fatalf("B calls = %d, want fail + success", ft.calls("https://b.example"))
	}
	if ft.calls("https://c.example") != 0 {
		t.Fatalf("C must not be called once B succeeds")
	}
}

func TestFetchServesFromCache(t *testing.T) {
	ft := newScriptedTransport()
	ft.script("https://a.example", step{status: 200, body: `{"price":1}`})
	cat := &Category{Name: "marketData", Primary: fastProvider("A", "https://a.example"), TTL: time.Minute}
	eng := newTestEngine(t, ft, cat)
	ctx := context.Background()

	first, err := eng.FetchWithFallback(ctx, "marketData", "/price", url.Values{"symbol": {"btc"}}, FetchOptions{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if first.Cached {
		t.Fatalf("first fetch must not be cached")
	}

	second, err := eng.FetchWithFallback(ctx, "marketData", "/price", url.Values{"symbol": {"btc"}}, FetchOptions{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !second.Cached || second.Source != "A" {
		t.Fatalf("second fetch must come from cache, got %+v", second)
	}
	if ft.calls("https://a.example") != 1 {
		t.Fatalf("transport calls = %d, want 1", ft.calls("https://a.example"))
	}
}

func TestFetchSkipCache(t *testing.T) {
	ft := newScriptedTransport()
	ft.script("https://a.example", step{status: 200, body: `{"price":1}`})
	cat := &Category{Name: "marketData", Primary: fastProvider("A", "https://a.example"), TTL: time.Minute}
	eng := newTestEngine(t, ft, cat)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := eng.FetchWithFallback(ctx, "marketData", "/price", nil, FetchOptions{SkipCache: true}); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if ft.calls("https://a.example") != 2 {
		t.Fatalf("skip-cache fetches must hit the transport, calls = %d", ft.calls("https://a.example"))
	}
}

func TestFetchExhaustion(t *testing.T) {
	ft := newScriptedTransport()
	ft.script("https://a.example", step{status: 404, body: "gone"})
	ft.script("https://b.example", step{err: errors.New("connection refused")})

	cat := &Category{
		Name:      "marketData",
		Primary:   fastProvider("A", "https://a.example"),
		Fallbacks: []*ProviderDescriptor{fastProvider("B", "https://b.example")},
	}
	eng := newTestEngine(t, ft, cat)

	_, err := eng.FetchWithFallback(context.Background(), "marketData", "/price", nil, FetchOptions{})
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if ex.Category != "marketData" || ex.Endpoint != "/price" {
		t.Fatalf("unexpected identity %s %s", ex.Category, ex.Endpoint)
	}
	if len(ex.Attempts) != 2 || ex.Attempts[0].Provider != "A" || ex.Attempts[1].Provider != "B" {
		t.Fatalf("attempts must list providers in order, got %+v", ex.Attempts)
	}
	if !strings.Contains(ex.Error(), "all 2 providers failed") {
		t.Fatalf("unexpected message %q", ex.Error())
	}
}

func TestFetchStaleFallback(t *testing.T) {
	ft := newScriptedTransport()
	ft.script("https://a.example",
		step{status: 200, body: `{"price":1}`},
		step{status: 404},
	)
	cat := &Category{Name: "marketData", Primary: fastProvider("A", "https://a.example"), TTL: time.Minute}
	eng := newTestEngine(t, ft, cat)
	ctx := context.Background()

	if _, err := eng.FetchWithFallback(ctx, "marketData", "/price", nil, FetchOptions{}); err != nil {
		t.Fatalf("seed fetch: %v", err)
	}

	// Provider now fails; a skip-cache fetch with AllowStale falls back to
	// the cached value.
	res, err := eng.FetchWithFallback(ctx, "marketData", "/price", nil, FetchOptions{SkipCache: true, AllowStale: true})
	if err != nil {
		t.Fatalf("stale fetch: %v", err)
	}
	if !res.Stale || !res.Cached || res.Source != "A" {
		t.Fatalf("expected stale cached result, got %+v", res)
	}
}

func TestNormalizationFailureMovesToNextProvider(t *testing.T) {
	ft := newScriptedTransport()
	ft.script("https://a.example", step{status: 200, body: `not json`})
	ft.script("https://b.example", step{status: 200, body: `{"price":2}`})

	cat := &Category{
		Name:      "marketData",
		Primary:   fastProvider("A", "https://a.example"),
		Fallbacks: []*ProviderDescriptor{fastProvider("B", "https://b.example")},
	}
	eng := newTestEngine(t, ft, cat)

	res, err := eng.FetchWithFallback(context.Background(), "marketData", "/price", nil, FetchOptions{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.Source != "B" {
		t.Fatalf("source = %s, want B", res.Source)
	}
	// Normalization failures are not retried on the same provider.
	if ft.calls("https://a.example") != 1 {
		t.Fatalf("A calls = %d, want 1", ft.calls("https://a.example"))
	}
}

func TestFailuresOpenCircuit(t *testing.T) {
	ft := newScriptedTransport()
	ft.script("https://a.example", step{status: 404})

	cat := &Category{Name: "marketData", Primary: fastProvider("A", "https://a.example")}
	eng, err := New(Config{
		Transport:        ft,
		Retry:            fastRetry(),
		BreakerThreshold: 2,
		BreakerCooldown:  time.Hour,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(eng.Close)
	if err := eng.RegisterCategory(cat); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := eng.FetchWithFallback(ctx, "marketData", "/price", nil, FetchOptions{SkipCache: true}); err == nil {
			t.Fatalf("fetch %d should fail", i)
		}
	}
	recs := eng.Health("A")
	if len(recs) != 1 || !recs[0].CircuitOpen {
		t.Fatalf("circuit should be open after threshold failures: %+v", recs)
	}

	eng.ResetHealth("A")
	recs = eng.Health("A")
	if recs[0].CircuitOpen {
		t.Fatalf("reset must close the circuit")
	}
}

func TestBuildRequestAuth(t *testing.T) {
	eng, err := New(Config{Transport: newScriptedTransport()})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(eng.Close)

	headerAuth := NewProvider(ProviderDescriptor{
		Name:           "h",
		BaseEndpoint:   "https://api.example/",
		AuthKey:        "secret",
		AuthHeaderName: "X-Api-Key",
	})
	req := eng.buildRequest(headerAuth, "/v1/data", url.Values{"symbol": {"btc"}})
	if req.URL != "https://api.example/v1/data" {
		t.Fatalf("unexpected URL %q", req.URL)
	}
	if req.Header["X-Api-Key"] != "secret" {
		t.Fatalf("auth header missing: %v", req.Header)
	}
	if req.Query.Get("api_key") != "" {
		t.Fatalf("header auth must not leak into the query")
	}

	queryAuth := NewProvider(ProviderDescriptor{
		Name:         "q",
		BaseEndpoint: "https://api.example",
		AuthKey:      "secret",
	})
	req = eng.buildRequest(queryAuth, "/v1/data", nil)
	if req.Query.Get("api_key") != "secret" {
		t.Fatalf("default query auth param missing: %v", req.Query)
	}

	named := NewProvider(ProviderDescriptor{
		Name:           "n",
		BaseEndpoint:   "https://api.example",
		AuthKey:        "secret",
		AuthQueryParam: "token",
	})
	req = eng.buildRequest(named, "", nil)
	if req.Query.Get("token") != "secret" {
		t.Fatalf("named query auth param missing: %v", req.Query)
	}
}

type recordingSink struct {
	mu        sync.Mutex
	delivered []string
}

func (s *recordingSink) Deliver(ctx context.Context, category, source string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, category+"/"+source)
	return nil
}

func TestSinkDelivery(t *testing.T) {
	ft := newScriptedTransport()
	ft.script("https://a.example", step{status: 200, body: `{"price":1}`})
	ft.script("https://b.example", step{status: 200, body: `{"value":70}`})

	sink := &recordingSink{}
	eng, err := New(Config{Transport: ft, Retry: fastRetry(), Sink: sink})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(eng.Close)

	published := &Category{Name: "marketData", Primary: fastProvider("A", "https://a.example"), Publish: true}
	quiet := &Category{Name: "sentiment", Primary: fastProvider("B", "https://b.example")}
	if err := eng.RegisterCategory(published); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := eng.RegisterCategory(quiet); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()

	if _, err := eng.FetchWithFallback(ctx, "marketData", "", nil, FetchOptions{}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := eng.FetchWithFallback(ctx, "sentiment", "", nil, FetchOptions{}); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.delivered) != 1 || sink.delivered[0] != "marketData/A" {
		t.Fatalf("only published categories reach the sink, got %v", sink.delivered)
	}
}

func TestFetchUnknownCategory(t *testing.T) {
	eng := newTestEngine(t, newScriptedTransport(), nil)
	if _, err := eng.FetchWithFallback(context.Background(), "ghost", "", nil, FetchOptions{}); err == nil {
		t.Fatalf("unknown category must error")
	}
}

func TestConcurrentFetchesCoalesce(t *testing.T) {
	ft := newScriptedTransport()
	ft.script("https://a.example", step{status: 200, body: `{"price":1}`})
	cat := &Category{Name: "marketData", Primary: fastProvider("A", "https://a.example"), TTL: time.Minute}
	eng := newTestEngine(t, ft, cat)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := eng.FetchWithFallback(ctx, "marketData", "/price", nil, FetchOptions{}); err != nil {
				t.Errorf("fetch: %v", err)
			}
		}()
	}
	wg.Wait()

	// Coalescing plus the cache mean the provider is hit far fewer than 8
	// times; with a single key it is normally exactly once.
	if n := ft.calls("https://a.example"); n > 2 {
		t.Fatalf("transport calls = %d, want coalesced fetches", n)
	}
}
