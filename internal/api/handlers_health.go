// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/tomtom215/cansentry/internal/models"
)

// HealthLive handles liveness check requests. It succeeds while the process
// is serving HTTP.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"alive":  true,
			"uptime": time.Since(h.startTime).Seconds(),
		},
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}

// HealthReady handles readiness check requests. It returns 503 until rules
// and message definitions are loaded and every registered check passes.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	components := h.componentStatus(r)
	ready := true
	for _, status := range components {
		if status != "ok" {
			ready = false
		}
	}

	statusCode := http.StatusOK
	status := "ready"
	if !ready {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	respondJSON(w, statusCode, &models.APIResponse{
		Status: status,
		Data: map[string]interface{}{
			"components":     components,
			"ready_to_serve": ready,
			"uptime":         time.Since(h.startTime).Seconds(),
		},
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}

// Health returns the overall component summary.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := models.HealthStatus{
		Status:     "healthy",
		Version:    h.version,
		Uptime:     time.Since(h.startTime).Seconds(),
		Components: h.componentStatus(r),
	}
	if h.rules != nil {
		status.KnowledgeBase = h.rules.Len()
	}
	if h.messages != nil {
		status.Messages = h.messages.Len()
	}
	for _, s := range status.Components {
		if s != "ok" {
			status.Status = "degraded"
			break
		}
	}
	respondSuccess(w, status, 0, time.Now())
}

// componentStatus evaluates the built-in and registered checks.
func (h *Handler) componentStatus(r *http.Request) map[string]string {
	components := map[string]string{
		"knowledge_base": "ok",
		"messages":       "ok",
	}
	if h.rules == nil || h.rules.Len() == 0 {
		components["knowledge_base"] = "empty"
	}
	if h.messages == nil {
		components["messages"] = "not_loaded"
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.checks[name](r.Context()); err != nil {
			components[name] = err.Error()
		} else {
			components[name] = "ok"
		}
	}
	return components
}
