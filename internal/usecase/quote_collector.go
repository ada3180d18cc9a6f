package usecase

import (
	"context"
	"net/url"
	"sync"
	"time"

	"MarketPull/internal/domain/models"
	drepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/engine"
	applogger "MarketPull/pkg/logger"
)

// PollConfig drives the periodic acquisition loop.
type PollConfig struct {
	Interval time.Duration
	Category string
	Endpoint string
	Symbols  []string
}

// QuoteCollector drives data acquisition: a periodic poll of the engine per
// configured symbol, plus an optional realtime stream. Both paths feed the
// same QuoteProcessor.
type QuoteCollector struct {
	eng    *engine.Engine
	proc   *QuoteProcessor
	stream drepo.QuoteStream // nil when streaming is disabled
	poll   PollConfig
	log    *applogger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQuoteCollector creates a collector. stream may be nil.
func NewQuoteCollector(eng *engine.Engine, proc *QuoteProcessor, stream drepo.QuoteStream, poll PollConfig, log *applogger.Logger) *QuoteCollector {
	if poll.Interval <= 0 {
		poll.Interval = 30 * time.Second
	}
	if log == nil {
		log = applogger.Nop()
	}
	return &QuoteCollector{eng: eng, proc: proc, stream: stream, poll: poll, log: log}
}

// Start launches the poll loop and, when configured, the stream consumer.
func (c *QuoteCollector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	if c.poll.Category != "" && len(c.poll.Symbols) > 0 {
		c.wg.Add(1)
		go c.pollLoop(ctx)
	}

	if c.stream != nil {
		if err := c.stream.Connect(ctx); err != nil {
			return err
		}
		if err := c.stream.Subscribe(ctx); err != nil {
			return err
		}
		quotes, errs := c.stream.Read(ctx)
		c.wg.Add(1)
		go c.consumeStream(ctx, quotes, errs)
	}

	return nil
}

func (c *QuoteCollector) pollLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.poll.Interval)
	defer ticker.Stop()

	c.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

// pollOnce fetches every configured symbol through the engine. Delivery to
// the processor happens inside the engine sink; exhaustion only costs this
// tick.
func (c *QuoteCollector) pollOnce(ctx context.Context) {
	for _, symbol := range c.poll.Symbols {
		params := url.Values{"symbol": {symbol}}
		_, err := c.eng.FetchWithFallback(ctx, c.poll.Category, c.poll.Endpoint, params, engine.FetchOptions{SkipCache: true})
		if err != nil {
			c.log.Warn("poll fetch failed",
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
		}
	}
}

func (c *QuoteCollector) consumeStream(ctx context.Context, quotes <-chan *models.Quote, errs <-chan error) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			// A closed error channel means the read loop exited; both
			// cases require a fresh connection and new channels.
			if !ok || err != nil {
				if rerr := c.stream.Reconnect(ctx); rerr != nil {
					c.log.Error("stream reconnect failed", applogger.Error(rerr))
					return
				}
				quotes, errs = c.stream.Read(ctx)
			}
		case q, ok := <-quotes:
			if !ok {
				quotes = nil // wait for the error channel to drive reconnect
				continue
			}
			if err := c.proc.Process(ctx, q); err != nil {
				c.log.Warn("stream quote dropped", applogger.Error(err))
			}
		}
	}
}

// IsStreaming reports whether the realtime stream is connected.
func (c *QuoteCollector) IsStreaming() bool {
	return c.stream != nil && c.stream.IsConnected()
}

// Stop terminates the loops and closes the stream.
func (c *QuoteCollector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.stream != nil {
		_ = c.stream.Close()
	}
	c.wg.Wait()
}
