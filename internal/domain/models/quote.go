package models

import "time"

// Quote is the canonical market-data record produced by provider
// normalizers and consumed by the publish/store sinks.
type Quote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume,omitempty"`
	Change24h float64 `json:"change_24h,omitempty"`
	Timestamp int64   `json:"timestamp"` // unix seconds
	Source    string  `json:"source"`
}

// Time returns the quote timestamp as time.Time.
func (q *Quote) Time() time.Time { return time.Unix(q.Timestamp, 0) }

// NewsItem is the canonical shape for the news category.
type NewsItem struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	SourceName  string `json:"source_name,omitempty"`
	PublishedAt int64  `json:"published_at,omitempty"`
}

// SentimentReading is the canonical shape for the sentiment category
// (fear & greed style index).
type SentimentReading struct {
	Value          int    `json:"value"` // 0..100
	Classification string `json:"classification,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"`
}

// AddressBalance is the canonical shape for the block-explorer category.
type AddressBalance struct {
	Address string  `json:"address"`
	Balance float64 `json:"balance"`
	Unit    string  `json:"unit,omitempty"`
}
