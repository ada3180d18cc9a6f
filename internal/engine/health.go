package engine

import (
	"sync"
	"time"

	applogger "MarketPull/pkg/logger"
)

// emaAlpha is the smoothing factor for latency and success-rate averages.
const emaAlpha = 0.3

// HealthRecord is a point-in-time snapshot of one provider's health.
type HealthRecord struct {
	Provider            string    `json:"provider"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalRequests       int64     `json:"total_requests"`
	LastSuccessAt       time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       time.Time `json:"last_failure_at,omitempty"`
	CircuitOpen         bool      `json:"circuit_open"`
	SuccessRate         float64   `json:"success_rate"`
	AvgResponseTimeMs   float64   `json:"avg_response_time_ms"`
	LastError           string    `json:"last_error,omitempty"`
}

type healthRecord struct {
	consecutiveFailures int
	totalRequests       int64
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	circuitOpen         bool
	openedAt            time.Time
	successRate         float64
	avgResponseMs       float64
	sampled             bool // first sample initializes the EMAs
	lastError           string
}

// HealthTracker keeps per-provider failure state and acts as the circuit
// breaker gate for provider selection. Failures are binary-counted; the EMA
// success rate is advisory only and never gates selection.
type HealthTracker struct {
	mu        sync.Mutex
	records   map[string]*healthRecord
	threshold int
	cooldown  time.Duration
	log       *applogger.Logger
	metrics   Metrics

	now func() time.Time // injectable for tests
}

// NewHealthTracker creates a tracker that opens a provider's circuit after
// threshold consecutive failures and soft-resets it once cooldown elapses.
func NewHealthTracker(threshold int, cooldown time.Duration, log *applogger.Logger) *HealthTracker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	if log == nil {
		log = applogger.Nop()
	}
	return &HealthTracker{
		records:   make(map[string]*healthRecord),
		threshold: threshold,
		cooldown:  cooldown,
		log:       log,
		now:       time.Now,
	}
}

// SetMetrics attaches a metrics recorder for circuit-state transitions.
func (t *HealthTracker) SetMetrics(m Metrics) { t.metrics = m }

func (t *HealthTracker) record(name string) *healthRecord {
	r, ok := t.records[name]
	if !ok {
		r = &healthRecord{}
		t.records[name] = r
	}
	return r
}

// RecordSuccess resets the failure count, closes the circuit and folds the
// sample into the latency and success-rate averages.
func (t *HealthTracker) RecordSuccess(name string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.record(name)
	wasOpen := r.circuitOpen
	r.consecutiveFailures = 0
	r.circuitOpen = false
	r.openedAt = time.Time{}
	r.totalRequests++
	r.lastSuccessAt = t.now()
	r.lastError = ""
	t.observe(r, true, latency)

	if wasOpen {
		t.log.Info("provider recovered", applogger.String("provider", name))
		if t.metrics != nil {
			t.metrics.RecordCircuitState(name, false)
		}
	}
}

// RecordFailure increments the failure count and opens the circuit once the
// threshold is reached.
func (t *HealthTracker) RecordFailure(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.record(name)
	r.consecutiveFailures++
	r.totalRequests++
	r.lastFailureAt = t.now()
	if err != nil {
		r.lastError = err.Error()
	}
	t.observe(r, false, 0)

	if !r.circuitOpen && r.consecutiveFailures >= t.threshold {
		r.circuitOpen = true
		r.openedAt = t.now()
		t.log.Warn("circuit opened",
			applogger.String("provider", name),
			applogger.Int("consecutive_failures", r.consecutiveFailures),
			applogger.Error(err),
		)
		if t.metrics != nil {
			t.metrics.RecordCircuitState(name, true)
		}
	}
}

// observe folds one sample into the EMAs. Latency is only sampled on success.
func (t *HealthTracker) observe(r *healthRecord, success bool, latency time.Duration) {
	sample := 0.0
	if success {
		sample = 1.0
	}
	if !r.sampled {
		r.sampled = true
		r.successRate = sample
		if success {
			r.avgResponseMs = float64(latency.Milliseconds())
		}
		return
	}
	r.successRate = emaAlpha*sample + (1-emaAlpha)*r.successRate
	if success {
		r.avgResponseMs = emaAlpha*float64(latency.Milliseconds()) + (1-emaAlpha)*r.avgResponseMs
	}
}

// IsUsable reports whether the provider's circuit is closed. An open circuit
// whose cooldown has elapsed is soft-reset here: failures are zeroed and the
// provider becomes eligible again, but it is not proven healthy until the
// next request succeeds.
func (t *HealthTracker) IsUsable(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.record(name)
	if !r.circuitOpen {
		return true
	}
	if t.now().Sub(r.openedAt) >= t.cooldown {
		r.circuitOpen = false
		r.openedAt = time.Time{}
		r.consecutiveFailures = 0
		t.log.Info("circuit cooldown elapsed", applogger.String("provider", name))
		if t.metrics != nil {
			t.metrics.RecordCircuitState(name, false)
		}
		return true
	}
	return false
}

// Reset is the operator control: close the circuit and zero failures.
func (t *HealthTracker) Reset(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.record(name)
	r.circuitOpen = false
	r.openedAt = time.Time{}
	r.consecutiveFailures = 0
	if t.metrics != nil {
		t.metrics.RecordCircuitState(name, false)
	}
}

// ResetAll resets every tracked provider.
func (t *HealthTracker) ResetAll() {
	t.mu.Lock()
	names := make([]string, 0, len(t.records))
	for name := range t.records {
		names = append(names, name)
	}
	t.mu.Unlock()

	for _, name := range names {
		t.Reset(name)
	}
}

// Snapshot returns the current health record for one provider.
func (t *HealthTracker) Snapshot(name string) (HealthRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[name]
	if !ok {
		return HealthRecord{}, false
	}
	return t.snapshot(name, r), true
}

// Snapshots returns health records for all providers seen so far.
func (t *HealthTracker) Snapshots() []HealthRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]HealthRecord, 0, len(t.records))
	for name, r := range t.records {
		out = append(out, t.snapshot(name, r))
	}
	return out
}

func (t *HealthTracker) snapshot(name string, r *healthRecord) HealthRecord {
	return HealthRecord{
		Provider:            name,
		ConsecutiveFailures: r.consecutiveFailures,
		TotalRequests:       r.totalRequests,
		LastSuccessAt:       r.lastSuccessAt,
		LastFailureAt:       r.lastFailureAt,
		CircuitOpen:         r.circuitOpen,
		SuccessRate:         r.successRate,
		AvgResponseTimeMs:   r.avgResponseMs,
		LastError:           r.lastError,
	}
}
