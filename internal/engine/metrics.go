package engine

// Metrics receives engine observability events. Implemented by pkg/metrics;
// a nil Metrics disables recording.
type Metrics interface {
	RecordFetch(category, provider, result string, seconds float64)
	RecordCacheLookup(category string, hit bool)
	RecordCircuitState(provider string, open bool)
}
