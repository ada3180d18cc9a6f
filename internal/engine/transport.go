package engine

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Request describes one outbound provider call. The engine builds these from
// a ProviderDescriptor plus the caller's endpoint and params; it never touches
// sockets itself.
type Request struct {
	Method  string
	URL     string
	Header  map[string]string
	Query   url.Values
	Timeout time.Duration
}

// Response is the raw transport result. Non-2xx statuses are returned here,
// not as errors; classification happens in the engine.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport executes HTTP calls on behalf of the engine.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}
