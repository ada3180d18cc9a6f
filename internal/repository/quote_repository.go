package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"MarketPull/internal/domain/models"
	"MarketPull/internal/domain/repository"
	pkgkafka "MarketPull/pkg/kafka"
)

// ClickHouseStorage implements Storage for ClickHouse.
type ClickHouseStorage struct {
	db    *sql.DB
	table string
}

// NewClickHouseStorage creates ClickHouse storage over table.
func NewClickHouseStorage(db *sql.DB, table string) repository.Storage {
	return &ClickHouseStorage{db: db, table: table}
}

func (s *ClickHouseStorage) Store(ctx context.Context, q *models.Quote) error {
	stmt := fmt.Sprintf("INSERT INTO %s (ts, symbol, price, volume, change_24h, source) VALUES (?, ?, ?, ?, ?, ?)", s.table)
	_, err := s.db.ExecContext(ctx, stmt,
		time.Unix(q.Timestamp, 0),
		q.Symbol,
		q.Price,
		q.Volume,
		q.Change24h,
		q.Source,
	)
	return err
}

func (s *ClickHouseStorage) StoreBatch(ctx context.Context, quotes []*models.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	// Multi-row VALUES insert to reduce round-trips, chunked.
	const chunkSize = 2000
	for start := 0; start < len(quotes); start += chunkSize {
		end := start + chunkSize
		if end > len(quotes) {
			end = len(quotes)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*6)
		for _, q := range quotes[start:end] {
			if q == nil || q.Symbol == "" || q.Timestamp == 0 {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?)")
			args = append(args,
				time.Unix(q.Timestamp, 0),
				q.Symbol,
				q.Price,
				q.Volume,
				q.Change24h,
				q.Source,
			)
		}
		if len(values) == 0 {
			continue
		}
		stmt := fmt.Sprintf("INSERT INTO %s (ts, symbol, price, volume, change_24h, source) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
			return err
		}
	}
	return nil
}

func (s *ClickHouseStorage) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Quote, error) {
	stmt := fmt.Sprintf("SELECT symbol, ts, price, volume, change_24h, source FROM %s WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, stmt, symbol, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotes []*models.Quote
	for rows.Next() {
		var q models.Quote
		var ts time.Time
		if err := rows.Scan(&q.Symbol, &ts, &q.Price, &q.Volume, &q.Change24h, &q.Source); err != nil {
			return nil, err
		}
		q.Timestamp = ts.Unix()
		quotes = append(quotes, &q)
	}
	return quotes, rows.Err()
}

func (s *ClickHouseStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseStorage) Close() error {
	return nil // connection pool owned by pkg/clickhouse
}

// KafkaPublisher implements Publisher for Kafka.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPublisher creates a Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) repository.Publisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, q *models.Quote) error {
	return p.producer.Publish(ctx, p.topic, []byte(q.Symbol), quoteMessage(q))
}

func (p *KafkaPublisher) PublishBatch(ctx context.Context, quotes []*models.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(quotes))
	for i, q := range quotes {
		msgs[i] = pkgkafka.Message{
			Key:   []byte(q.Symbol),
			Value: quoteMessage(q),
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func quoteMessage(q *models.Quote) map[string]interface{} {
	return map[string]interface{}{
		"symbol": q.Symbol,
		"t":      q.Timestamp,
		"c":      q.Price,
		"v":      q.Volume,
		"chg":    q.Change24h,
		"src":    q.Source,
	}
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
