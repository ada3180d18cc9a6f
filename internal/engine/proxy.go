package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	applogger "MarketPull/pkg/logger"
)

// Relay is one CORS relay endpoint. Each relay has a fixed rule for wrapping
// the target URL and for unwrapping the response body.
type Relay struct {
	Name         string
	Endpoint     string // prefix the target URL is appended to
	EscapeTarget bool   // query-escape the target before appending
	UnwrapField  string // "contents", "data", or "" for a raw body
}

func (r Relay) wrap(target string) string {
	if r.EscapeTarget {
		return r.Endpoint + url.QueryEscape(target)
	}
	return r.Endpoint + target
}

// unwrap normalizes a relay response body back into the upstream payload.
func (r Relay) unwrap(body []byte) ([]byte, error) {
	switch r.UnwrapField {
	case "":
		return body, nil
	case "contents":
		var env struct {
			Contents string `json:"contents"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("relay %s envelope: %w", r.Name, err)
		}
		return []byte(env.Contents), nil
	case "data":
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("relay %s envelope: %w", r.Name, err)
		}
		return env.Data, nil
	default:
		return nil, fmt.Errorf("relay %s: unknown unwrap field %q", r.Name, r.UnwrapField)
	}
}

// ProxyRotator fetches browser-blocked origins through a chain of public CORS
// relays. A direct fetch is always attempted first; on failure the relays are
// tried in order, starting from an offset that advances once per call so
// repeated failures do not always hammer the same relay first.
type ProxyRotator struct {
	transport Transport
	relays    []Relay
	next      atomic.Uint32
	log       *applogger.Logger
}

func NewProxyRotator(transport Transport, relays []Relay, log *applogger.Logger) *ProxyRotator {
	if log == nil {
		log = applogger.Nop()
	}
	return &ProxyRotator{transport: transport, relays: relays, log: log}
}

// Fetch executes req directly, then via the relay chain. A response with a
// 2xx status ends the chain; everything else advances to the next relay.
func (p *ProxyRotator) Fetch(ctx context.Context, req *Request) (*Response, error) {
	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target = target + sep + req.Query.Encode()
	}

	resp, err := p.transport.Do(ctx, req)
	if err == nil && resp.Status >= 200 && resp.Status < 300 {
		return resp, nil
	}

	reasons := make([]string, 0, 1+len(p.relays))
	reasons = append(reasons, "direct: "+fetchFailure(resp, err))

	if len(p.relays) == 0 {
		return nil, fmt.Errorf("proxy fetch %s: %s", target, reasons[0])
	}

	offset := int(p.next.Add(1) - 1)
	for i := range p.relays {
		relay := p.relays[(offset+i)%len(p.relays)]

		rreq := &Request{Method: http.MethodGet, URL: relay.wrap(target), Timeout: req.Timeout}
		resp, err := p.transport.Do(ctx, rreq)
		if err != nil || resp.Status < 200 || resp.Status >= 300 {
			reasons = append(reasons, relay.Name+": "+fetchFailure(resp, err))
			continue
		}

		body, uerr := relay.unwrap(resp.Body)
		if uerr != nil {
			reasons = append(reasons, relay.Name+": "+uerr.Error())
			continue
		}

		p.log.Debug("proxy relay succeeded",
			applogger.String("relay", relay.Name),
			applogger.String("target", target),
		)
		return &Response{Status: resp.Status, Header: resp.Header, Body: body}, nil
	}

	return nil, fmt.Errorf("proxy fetch %s: all relays failed: %s", target, strings.Join(reasons, "; "))
}

func fetchFailure(resp *Response, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("status %d", resp.Status)
}
