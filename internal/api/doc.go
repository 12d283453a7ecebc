// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

/*
Package api serves the cansentry HTTP API on a chi router.

Endpoints:

	GET /api/v1/health           component summary
	GET /api/v1/health/live      liveness check
	GET /api/v1/health/ready     readiness check (503 until rules are loaded)
	GET /api/v1/stats            monitor counters
	GET /api/v1/alerts           stored alerts, newest first
	GET /api/v1/alerts/{id}      one alert
	GET /api/v1/rules            knowledge-base frames
	GET /api/v1/rules/{id}       one frame's rules (decimal or 0x hex id)
	GET /api/v1/messages         message definitions
	GET /api/v1/messages/{id}    one message definition
	GET /api/v1/ws               websocket alert stream
	GET /metrics                 prometheus exposition

Alert queries accept limit, offset, reason (repeatable), severity
(repeatable), frame_id and since (RFC 3339).

Every JSON response uses the models.APIResponse envelope:

	{"status": "success", "data": ..., "metadata": {"timestamp": ...}}
	{"status": "error", "data": null, "error": {"code": "NOT_FOUND", "message": ...}}

CORS is handled by go-chi/cors and rate limiting by go-chi/httprate. Health
and metrics routes have their own, more permissive limit.
*/
package api
