package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes engine and pipeline metrics via Prometheus. It implements
// both engine.Metrics and domain repository.Metrics.
type Recorder struct {
	fetchTotal   *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec
	cacheLookups *prometheus.CounterVec
	circuitOpen  *prometheus.GaugeVec
	messagesSent *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	lastPrice    *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
}

// New creates a Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		fetchTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_fetch_attempts_total",
				Help: "Provider fetch attempts by outcome",
			},
			[]string{"category", "provider", "result"},
		),
		fetchLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpull_fetch_duration_seconds",
				Help:    "Provider fetch latency including retries",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"category", "provider"},
		),
		cacheLookups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_cache_lookups_total",
				Help: "Response cache lookups",
			},
			[]string{"category", "result"},
		),
		circuitOpen: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpull_circuit_open",
				Help: "1 when the provider's circuit breaker is open",
			},
			[]string{"provider"},
		),
		messagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_messages_sent_total",
				Help: "Total number of quotes sent to the backend",
			},
			[]string{"backend", "symbol"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpull_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpull_operation_seconds",
				Help:    "Pipeline operation latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
}

// --- engine.Metrics ---

func (r *Recorder) RecordFetch(category, provider, result string, seconds float64) {
	r.fetchTotal.WithLabelValues(category, provider, result).Inc()
	r.fetchLatency.WithLabelValues(category, provider).Observe(seconds)
}

func (r *Recorder) RecordCacheLookup(category string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(category, result).Inc()
}

func (r *Recorder) RecordCircuitState(provider string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	r.circuitOpen.WithLabelValues(provider).Set(v)
}

// --- repository.Metrics ---

func (r *Recorder) RecordMessageSent(backend, symbol string) {
	r.messagesSent.WithLabelValues(backend, symbol).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
