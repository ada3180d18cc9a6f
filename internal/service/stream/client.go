// Package stream implements a realtime QuoteStream over a Finnhub-style
// trade websocket. It supplements the polling engine: ticks flow into the
// same processor sink.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"MarketPull/internal/domain/models"
	drepo "MarketPull/internal/domain/repository"
	applogger "MarketPull/pkg/logger"

	"github.com/gorilla/websocket"
)

// Client implements repository.QuoteStream over a websocket.
type Client struct {
	apiKey         string
	websocketURL   string
	symbols        []string
	reconnectDelay time.Duration
	log            *applogger.Logger

	conn      *websocket.Conn
	connected bool
}

// New creates a websocket quote stream.
func New(apiKey, websocketURL string, symbols []string, reconnectDelay time.Duration, log *applogger.Logger) drepo.QuoteStream {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	if log == nil {
		log = applogger.Nop()
	}
	return &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		log:            log,
	}
}

// Connect establishes the websocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := c.websocketURL
	if c.apiKey != "" {
		u = fmt.Sprintf("%s?token=%s", c.websocketURL, c.apiKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}
	c.conn = conn
	c.connected = true
	c.log.Info("stream connected", applogger.String("url", c.websocketURL))
	return nil
}

// Subscribe subscribes to the configured symbols.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil || !c.connected {
		return fmt.Errorf("stream not connected")
	}
	for _, s := range c.symbols {
		msg := map[string]string{"type": "subscribe", "symbol": s}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	c.log.Info("stream subscribed", applogger.Strings("symbols", c.symbols))
	return nil
}

type wsMessage struct {
	Type string `json:"type"`
	Data []struct {
		S string  `json:"s"` // symbol
		P float64 `json:"p"` // price
		V float64 `json:"v"` // volume
		T int64   `json:"t"` // unix ms
	} `json:"data"`
}

// Read starts the read loop and returns the quote and error channels. Both
// channels close when the loop exits.
func (c *Client) Read(ctx context.Context) (<-chan *models.Quote, <-chan error) {
	quotes := make(chan *models.Quote, 256)
	errs := make(chan error, 1)

	go func() {
		defer close(quotes)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if c.conn == nil {
					errs <- fmt.Errorf("stream conn nil")
					return
				}
				_, b, err := c.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("stream read: %w", err)
					return
				}
				var m wsMessage
				if err := json.Unmarshal(b, &m); err != nil {
					// ignore non-trade frames
					continue
				}
				if m.Type != "trade" {
					continue
				}
				for _, d := range m.Data {
					q := &models.Quote{
						Symbol:    d.S,
						Price:     d.P,
						Volume:    d.V,
						Timestamp: d.T / 1000,
						Source:    "stream",
					}
					select {
					case quotes <- q:
					default:
						// drop on backpressure
					}
				}
			}
		}
	}()

	return quotes, errs
}

// Reconnect closes and re-establishes the connection and subscriptions.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the websocket connection.
func (c *Client) Close() error {
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected }
