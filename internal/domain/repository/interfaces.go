package repository

import (
	"context"
	"time"

	"MarketPull/internal/domain/models"
)

// QuoteStream is a realtime quote source (websocket).
type QuoteStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Quote, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Publisher hands quotes to a pub/sub sink.
type Publisher interface {
	Publish(ctx context.Context, q *models.Quote) error
	PublishBatch(ctx context.Context, quotes []*models.Quote) error
	Close() error
}

// Storage persists quotes and serves the history API.
type Storage interface {
	Store(ctx context.Context, q *models.Quote) error
	StoreBatch(ctx context.Context, quotes []*models.Quote) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Quote, error)
	Health(ctx context.Context) error
	Close() error
}

// Metrics records pipeline observability events.
type Metrics interface {
	RecordMessageSent(backend, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
