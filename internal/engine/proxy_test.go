package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"testing"
)

// fakeTransport answers requests by URL prefix, default is a 500.
type fakeTransport struct {
	responses map[string]*Response
	errs      map[string]error
	calls     []string
}

func (f *fakeTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	f.calls = append(f.calls, req.URL)
	for prefix, err := range f.errs {
		if strings.HasPrefix(req.URL, prefix) {
			return nil, err
		}
	}
	for prefix, resp := range f.responses {
		if strings.HasPrefix(req.URL, prefix) {
			return resp, nil
		}
	}
	return &Response{Status: 500}, nil
}

func TestRelayWrap(t *testing.T) {
	escaped := Relay{Endpoint: "https://relay.example/get?url=", EscapeTarget: true}
	if got := escaped.wrap("https://api.example/v1?x=1"); got != "https://relay.example/get?url=https%3A%2F%2Fapi.example%2Fv1%3Fx%3D1" {
		t.Fatalf("unexpected wrapped URL %q", got)
	}

	raw := Relay{Endpoint: "https://relay.example/"}
	if got := raw.wrap("https://api.example/v1"); got != "https://relay.example/https://api.example/v1" {
		t.Fatalf("unexpected wrapped URL %q", got)
	}
}

func TestRelayUnwrap(t *testing.T) {
	contents := Relay{Name: "r", UnwrapField: "contents"}
	body, err := contents.unwrap([]byte(`{"contents":"{\"price\":1}"}`))
	if err != nil {
		t.Fatalf("unwrap contents: %v", err)
	}
	if string(body) != `{"price":1}` {
		t.Fatalf("unexpected body %q", body)
	}

	data := Relay{Name: "r", UnwrapField: "data"}
	body, err = data.unwrap([]byte(`{"data":{"price":1}}`))
	if err != nil {
		t.Fatalf("unwrap data: %v", err)
	}
	if string(body) != `{"price":1}` {
		t.Fatalf("unexpected body %q", body)
	}

	passthrough := Relay{Name: "r"}
	body, err = passthrough.unwrap([]byte(`raw`))
	if err != nil || string(body) != "raw" {
		t.Fatalf("raw unwrap got (%q, %v)", body, err)
	}

	if _, err := contents.unwrap([]byte(`not json`)); err == nil {
		t.Fatalf("expected envelope error")
	}
}

func TestProxyDirectFirst(t *testing.T) {
	ft := &fakeTransport{responses: map[string]*Response{
		"https://api.example": {Status: 200, Body: []byte("ok")},
	}}
	p := NewProxyRotator(ft, []Relay{{Name: "r", Endpoint: "https://relay.example/?u="}}, nil)

	resp, err := p.Fetch(context.Background(), &Request{Method: "GET", URL: "https://api.example/v1"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(resp.Body) != "ok" {
		t.Fatalf("unexpected body %q", resp.Body)
	}
	if len(ft.calls) != 1 {
		t.Fatalf("relays must not be touched when direct succeeds, calls=%v", ft.calls)
	}
}

func TestProxyFallsBackToRelay(t *testing.T) {
	ft := &fakeTransport{
		errs: map[string]error{"https://api.example": fmt.Errorf("blocked")},
		responses: map[string]*Response{
			"https://relay.example": {Status: 200, Body: []byte(`{"contents":"payload"}`)},
		},
	}
	p := NewProxyRotator(ft, []Relay{
		{Name: "r", Endpoint: "https://relay.example/?u=", EscapeTarget: true, UnwrapField: "contents"},
	}, nil)

	resp, err := p.Fetch(context.Background(), &Request{Method: "GET", URL: "https://api.example/v1"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(resp.Body) != "payload" {
		t.Fatalf("unexpected body %q", resp.Body)
	}
}

func TestProxyRotatesStartingRelay(t *testing.T) {
	ft := &fakeTransport{
		errs: map[string]error{
			"https://api.example": fmt.Errorf("blocked"),
			"https://r1.example":  fmt.Errorf("down"),
			"https://r2.example":  fmt.Errorf("down"),
		},
	}
	p := NewProxyRotator(ft, []Relay{
		{Name: "r1", Endpoint: "https://r1.example/?u="},
		{Name: "r2", Endpoint: "https://r2.example/?u="},
	}, nil)

	req := &Request{Method: "GET", URL: "https://api.example/v1"}
	_, _ = p.Fetch(context.Background(), req)
	firstStart := ft.calls[1]
	ft.calls = nil
	_, _ = p.Fetch(context.Background(), req)
	secondStart := ft.calls[1]

	if strings.HasPrefix(firstStart, "https://r1.example") == strings.HasPrefix(secondStart, "https://r1.example") {
		t.Fatalf("starting relay must rotate between calls: %q then %q", firstStart, secondStart)
	}
}

func TestProxyAggregatedError(t *testing.T) {
	ft := &fakeTransport{errs: map[string]error{
		"https://api.example": fmt.Errorf("blocked"),
		"https://r1.example":  fmt.Errorf("down"),
	}}
	p := NewProxyRotator(ft, []Relay{{Name: "r1", Endpoint: "https://r1.example/?u="}}, nil)

	_, err := p.Fetch(context.Background(), &Request{
		Method: "GET",
		URL:    "https://api.example/v1",
		Query:  url.Values{"x": {"1"}},
	})
	if err == nil {
		t.Fatalf("expected aggregated failure")
	}
	msg := err.Error()
	if !strings.Contains(msg, "https://api.example/v1?x=1") {
		t.Fatalf("error must name the target URL: %v", msg)
	}
	if !strings.Contains(msg, "direct: blocked") || !strings.Contains(msg, "r1: down") {
		t.Fatalf("error must list every attempt: %v", msg)
	}
}
