package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Analytics engine metrics for production monitoring
var (
	// Training metrics
	TrainingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetfuel_trainings_total",
			Help: "Total number of model training runs",
		},
		[]string{"status"}, // status: success/failure
	)

	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetfuel_training_duration_seconds",
			Help:    "Model training duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3min
		},
	)

	TrainingSampleCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetfuel_training_sample_count",
			Help: "Number of samples used by the most recent training run",
		},
	)

	// Scoring metrics
	RecordsScoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetfuel_records_scored_total",
			Help: "Total number of fuel records scored",
		},
	)

	AnomaliesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetfuel_anomalies_detected_total",
			Help: "Total number of anomalous fuel records detected",
		},
		[]string{"vehicle_id"},
	)

	ScoringDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetfuel_scoring_duration_seconds",
			Help:    "Scoring pass duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	// Ingest metrics
	RecordsIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetfuel_records_ingested_total",
			Help: "Total number of fuel records ingested",
		},
	)

	// Recommendation metrics
	RecommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetfuel_recommendations_total",
			Help: "Total number of recommendations emitted",
		},
		[]string{"type", "severity"},
	)

	// Model state metrics
	ModelStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetfuel_model_status",
			Help: "Current model status (1 for the active status, 0 otherwise)",
		},
		[]string{"status"}, // absent/training/trained/stale
	)

	ModelAgeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetfuel_model_age_seconds",
			Help: "Age of the current model in seconds",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetfuel_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetfuel_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// WebSocket metrics
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetfuel_ws_connections_active",
			Help: "Number of active WebSocket alert subscribers",
		},
	)

	WSAlertsBroadcast = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetfuel_ws_alerts_broadcast_total",
			Help: "Total number of alerts broadcast to WebSocket subscribers",
		},
	)
)

// SetModelStatus records the current lifecycle status as a one-hot gauge.
func SetModelStatus(status string) {
	for _, s := range []string{"ABSENT", "TRAINING", "TRAINED", "STALE"} {
		v := 0.0
		if s == status {
			v = 1.0
		}
		ModelStatus.WithLabelValues(s).Set(v)
	}
}
