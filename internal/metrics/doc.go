// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

/*
Package metrics exposes cansentry's Prometheus collectors.

# Metrics Endpoint

Metrics are served at /metrics when cansentry runs in serve mode:

	curl http://localhost:8470/metrics

# Available Metrics

Detection:
  - cansentry_frames_total{verdict}
  - cansentry_anomalies_total{reason}
  - cansentry_decode_fallback_total
  - cansentry_detection_duration_seconds
  - cansentry_tracked_ids, cansentry_pending_relations

Ingest and alerting:
  - cansentry_ingest_errors_total{source,error_type}
  - cansentry_alerts_published_total{notifier,status}
  - cansentry_alert_store_errors_total
  - cansentry_circuit_breaker_state{name}

API:
  - cansentry_api_requests_total{method,endpoint,status}
  - cansentry_api_request_duration_seconds{method,endpoint}
  - cansentry_websocket_connections
*/
package metrics
