package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Measurement intake
	MeasurementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "creative_qa_measurements_total",
			Help: "Measurements received, by source and status",
		},
		[]string{"source", "status"},
	)

	StoredMeasurements = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "creative_qa_stored_measurements",
			Help: "Measurements currently retained by the metric store",
		},
	)

	// Quality evaluation
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "creative_qa_evaluations_total",
			Help: "Creatives evaluated, by verdict",
		},
		[]string{"verdict"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "creative_qa_evaluation_duration_seconds",
			Help:    "Time spent scoring one creative",
			Buckets: prometheus.DefBuckets,
		},
	)

	CompositeScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "creative_qa_composite_score",
			Help:    "Distribution of composite quality scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	// Detection
	DetectionPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "creative_qa_detection_passes_total",
			Help: "Per-metric detection passes, by outcome",
		},
		[]string{"outcome"},
	)

	AnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "creative_qa_anomalies_total",
			Help: "Anomaly events emitted, by severity and trigger",
		},
		[]string{"severity", "trigger"},
	)

	// Incidents
	IncidentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "creative_qa_incident_transitions_total",
			Help: "Incident lifecycle transitions",
		},
		[]string{"to"},
	)

	ActiveIncidents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "creative_qa_active_incidents",
			Help: "Incidents currently open or acknowledged",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "creative_qa_events_dropped_total",
			Help: "Events dropped because the incident queue was full",
		},
	)

	// Alerting
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "creative_qa_alerts_total",
			Help: "Alert outcomes by audience: sent, suppressed, failed or dropped",
		},
		[]string{"audience", "outcome"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "creative_qa_alert_delivery_duration_seconds",
			Help:    "Time to deliver an alert including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "creative_qa_dispatch_queue_depth",
			Help: "Alerts waiting for delivery",
		},
	)

	// HTTP
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "creative_qa_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
)
