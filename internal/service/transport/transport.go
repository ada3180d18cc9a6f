// Package transport adapts the shared HTTP client to the engine's Transport
// interface. Per-provider timeouts are applied here so one slow upstream
// never inherits another's budget.
package transport

import (
	"context"
	"fmt"
	"io"

	"MarketPull/internal/engine"
	xhttp "MarketPull/pkg/http"
)

type httpTransport struct {
	client *xhttp.Client
}

// New wraps client as an engine.Transport.
func New(client *xhttp.Client) engine.Transport {
	return &httpTransport{client: client}
}

func (t *httpTransport) Do(ctx context.Context, req *engine.Request) (*engine.Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	opts := &xhttp.RequestOptions{
		Method:      req.Method,
		URL:         req.URL,
		Headers:     req.Header,
		QueryParams: req.Query,
	}

	resp, err := t.client.SendRequest(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &engine.Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}, nil
}
