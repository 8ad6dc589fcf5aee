package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all metrics for the application
type Registry struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Storage Metrics
	StorageDocumentsTotal    prometheus.Gauge
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Rotation Metrics
	RotationsTotal               *prometheus.CounterVec
	RotationDuration             prometheus.Histogram
	RotationDocumentsReencrypted prometheus.Counter
	RotationProgress             prometheus.Gauge
	RotationState                *prometheus.GaugeVec
	KeyLastRotationTimestamp     prometheus.Gauge

	registry *prometheus.Registry
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// NewRegistry creates a new metrics registry with all metrics registered
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}

	r.initHTTPMetrics()
	r.initStorageMetrics()
	r.initRotationMetrics()

	return r
}

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Handler returns an HTTP handler serving the metrics in Prometheus
// exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gather exposes the underlying gatherer (used by tests)
func (r *Registry) Gather() prometheus.Gatherer {
	return r.registry
}

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordStorageOperation records a storage operation
func (r *Registry) RecordStorageOperation(operation, status string, duration time.Duration) {
	r.StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	r.StorageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetStorageDocumentsTotal sets the stored document count gauge
func (r *Registry) SetStorageDocumentsTotal(n uint64) {
	r.StorageDocumentsTotal.Set(float64(n))
}

// RecordRotationCompleted records a successfully finalized rotation
func (r *Registry) RecordRotationCompleted(duration time.Duration) {
	r.RotationsTotal.WithLabelValues("completed").Inc()
	r.RotationDuration.Observe(duration.Seconds())
}

// RecordRotationFailed records a failed rotation
func (r *Registry) RecordRotationFailed() {
	r.RotationsTotal.WithLabelValues("failed").Inc()
}

// SetRotationProgress sets the running processed-documents gauge and
// counts re-encrypted documents
func (r *Registry) SetRotationProgress(processed uint64) {
	r.RotationProgress.Set(float64(processed))
	r.RotationDocumentsReencrypted.Inc()
}

// SetRotationState sets the current rotation state gauge
func (r *Registry) SetRotationState(state string) {
	for _, s := range []string{"idle", "re_encrypting", "completed", "failed"} {
		r.RotationState.WithLabelValues(s).Set(0)
	}
	r.RotationState.WithLabelValues(state).Set(1)
}

// SetKeyLastRotationTimestamp records when the active key last changed
func (r *Registry) SetKeyLastRotationTimestamp(t time.Time) {
	r.KeyLastRotationTimestamp.Set(float64(t.Unix()))
}
