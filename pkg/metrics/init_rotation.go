package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initRotationMetrics() {
	r.RotationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstore_rotations_total",
			Help: "Total number of key rotations by outcome",
		},
		[]string{"status"},
	)

	r.RotationDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docstore_rotation_duration_seconds",
			Help:    "Duration of completed key rotations in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
	)

	r.RotationDocumentsReencrypted = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "docstore_rotation_documents_reencrypted_total",
			Help: "Total number of documents re-encrypted by rotation sweeps",
		},
	)

	r.RotationProgress = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "docstore_rotation_progress_documents",
			Help: "Documents processed by the current rotation sweep",
		},
	)

	r.RotationState = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docstore_rotation_state",
			Help: "Current rotation state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	r.KeyLastRotationTimestamp = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "docstore_key_last_rotation_timestamp_seconds",
			Help: "Unix timestamp of the last successful key rotation",
		},
	)
}
