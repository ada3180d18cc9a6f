package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	applogger "MarketPull/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpMetricsOnce sync.Once
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpInFlight    *prometheus.GaugeVec
	httpRespSize    *prometheus.HistogramVec
)

func registerHTTPMetrics() {
	httpMetricsOnce.Do(func() {
		httpRequests = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"path", "method", "status"},
		)
		httpDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpull_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"path", "method", "status"},
		)
		httpInFlight = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpull_http_in_flight_requests",
				Help: "Current number of in-flight HTTP requests",
			},
			[]string{"path", "method"},
		)
		httpRespSize = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpull_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{200, 500, 1_000, 5_000, 10_000, 50_000, 100_000, 500_000},
			},
			[]string{"path", "method", "status"},
		)
	})
}

// Metrics records per-request Prometheus metrics and, when a logger is
// given, logs 5xx responses and requests slower than slowThreshold. The
// path label uses the raw URL path; this API's routes carry at most one
// variable segment, so cardinality stays manageable.
func Metrics(l *applogger.Logger, slowThreshold time.Duration) func(http.Handler) http.Handler {
	registerHTTPMetrics()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			method := r.Method

			httpInFlight.WithLabelValues(path, method).Inc()
			start := time.Now()

			rw := &countingResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			elapsed := time.Since(start)
			status := strconv.Itoa(rw.status)

			httpRequests.WithLabelValues(path, method, status).Inc()
			httpDuration.WithLabelValues(path, method, status).Observe(elapsed.Seconds())
			httpRespSize.WithLabelValues(path, method, status).Observe(float64(rw.written))
			httpInFlight.WithLabelValues(path, method).Dec()

			if l == nil {
				return
			}
			switch {
			case rw.status >= 500:
				l.Error("http request failed",
					applogger.String("path", path),
					applogger.String("method", method),
					applogger.String("status", status),
					applogger.Duration("duration", elapsed),
					applogger.Int("bytes", rw.written),
				)
			case slowThreshold > 0 && elapsed >= slowThreshold:
				l.Warn("http request slow",
					applogger.String("path", path),
					applogger.String("method", method),
					applogger.String("status", status),
					applogger.Duration("duration", elapsed),
					applogger.Int("bytes", rw.written),
				)
			}
		})
	}
}

type countingResponseWriter struct {
	http.ResponseWriter
	status  int
	written int
}

func (w *countingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *countingResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += n
	return n, err
}
