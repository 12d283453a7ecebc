// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Detection Metrics
	FramesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cansentry_frames_total",
			Help: "Total number of classified frames by verdict",
		},
		[]string{"verdict"}, // "normal", "anomalous"
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cansentry_anomalies_total",
			Help: "Total number of anomalous frames by reason",
		},
		[]string{"reason"},
	)

	DecodeFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cansentry_decode_fallback_total",
			Help: "Frames decoded with the per-byte fallback because no message definition exists",
		},
	)

	DetectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "cansentry_detection_duration_seconds",
			Help: "Time spent classifying a single frame",
			// Classification is a few microseconds; the default buckets start at 5ms.
			Buckets: prometheus.ExponentialBuckets(1e-7, 4, 10),
		},
	)

	TrackedIDs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cansentry_tracked_ids",
			Help: "Number of frame IDs with retained state",
		},
	)

	PendingRelations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cansentry_pending_relations",
			Help: "Number of pending cross-signal correlation flags",
		},
	)

	// Ingest Metrics
	IngestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cansentry_ingest_errors_total",
			Help: "Frame source errors by source kind",
		},
		[]string{"source", "error_type"}, // error_type: "malformed", "read"
	)

	// Alert Metrics
	AlertsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cansentry_alerts_published_total",
			Help: "Alerts handed to a notifier, by notifier and outcome",
		},
		[]string{"notifier", "status"}, // status: "success", "error"
	)

	AlertStoreErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cansentry_alert_store_errors_total",
			Help: "Alerts that could not be persisted",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cansentry_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cansentry_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cansentry_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cansentry_websocket_connections",
			Help: "Number of connected websocket clients",
		},
	)
)

// RecordVerdict records the outcome of one classification.
func RecordVerdict(anomalous bool, reason string, fallback bool, duration time.Duration) {
	DetectionDuration.Observe(duration.Seconds())
	if fallback {
		DecodeFallbacks.Inc()
	}
	if anomalous {
		FramesProcessed.WithLabelValues("anomalous").Inc()
		AnomaliesDetected.WithLabelValues(reason).Inc()
		return
	}
	FramesProcessed.WithLabelValues("normal").Inc()
}

// UpdateEngineGauges publishes the engine's table sizes.
func UpdateEngineGauges(tracked, pending int) {
	TrackedIDs.Set(float64(tracked))
	PendingRelations.Set(float64(pending))
}

// RecordIngestError counts a frame source error.
func RecordIngestError(source, errorType string) {
	IngestErrors.WithLabelValues(source, errorType).Inc()
}

// RecordAlertPublish counts one notifier delivery.
func RecordAlertPublish(notifier string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	AlertsPublished.WithLabelValues(notifier, status).Inc()
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
