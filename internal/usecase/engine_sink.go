package usecase

import (
	"context"

	"MarketPull/internal/domain/models"
)

// EngineSink adapts the QuoteProcessor to the engine's Sink interface.
// Only market-data values are routed; other category shapes (news,
// sentiment) stay cache-only.
type EngineSink struct {
	proc *QuoteProcessor
}

// NewEngineSink wraps proc as an engine sink.
func NewEngineSink(proc *QuoteProcessor) *EngineSink {
	return &EngineSink{proc: proc}
}

// Deliver forwards quote-shaped values to the processor. Non-quote values
// are ignored without error.
func (s *EngineSink) Deliver(ctx context.Context, category, source string, value any) error {
	switch v := value.(type) {
	case models.Quote:
		v.Source = source
		return s.proc.Process(ctx, &v)
	case *models.Quote:
		q := *v
		q.Source = source
		return s.proc.Process(ctx, &q)
	case []models.Quote:
		quotes := make([]*models.Quote, 0, len(v))
		for i := range v {
			q := v[i]
			q.Source = source
			quotes = append(quotes, &q)
		}
		return s.proc.ProcessBatch(ctx, quotes)
	default:
		return nil
	}
}
