// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/cansentry/internal/cache"
	"github.com/tomtom215/cansentry/internal/dbc"
	"github.com/tomtom215/cansentry/internal/detection"
	"github.com/tomtom215/cansentry/internal/kb"
)

// statsResponse adds hub state to the monitor counters.
type statsResponse struct {
	detection.Stats
	WebSocketClients int `json:"websocket_clients"`
}

// Stats returns the monitor counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.monitor == nil {
		respondError(w, http.StatusServiceUnavailable, CodeUnavailable, "Detection is not running", nil)
		return
	}
	resp := statsResponse{Stats: h.monitor.Stats()}
	if h.hub != nil {
		resp.WebSocketClients = h.hub.GetClientCount()
	}
	respondSuccess(w, resp, 0, start)
}

// alertPage is one cached alert query result.
type alertPage struct {
	Alerts []detection.Alert
	Total  int
}

// Alerts lists stored alerts, newest first. Metadata.count is the total
// number of matches, ignoring limit and offset.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.alerts == nil {
		respondError(w, http.StatusServiceUnavailable, CodeUnavailable, "Alert store is not configured", nil)
		return
	}

	req, err := parseAlertsRequest(r)
	if err != nil {
		respondValidationError(w, err)
		return
	}
	filter := req.Filter()

	cacheKey := cache.GenerateKey("alerts", filter)
	if h.cache != nil {
		if cached, ok := h.cache.Get(cacheKey); ok {
			page := cached.(alertPage)
			respondSuccess(w, page.Alerts, page.Total, start)
			return
		}
	}

	alerts, err := h.alerts.ListAlerts(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, "Failed to list alerts", err)
		return
	}
	total, err := h.alerts.CountAlerts(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, "Failed to count alerts", err)
		return
	}
	if alerts == nil {
		alerts = []detection.Alert{}
	}
	if h.cache != nil {
		h.cache.Set(cacheKey, alertPage{Alerts: alerts, Total: total})
	}
	respondSuccess(w, alerts, total, start)
}

// Alert returns one alert by ID.
func (h *Handler) Alert(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.alerts == nil {
		respondError(w, http.StatusServiceUnavailable, CodeUnavailable, "Alert store is not configured", nil)
		return
	}

	alert, err := h.alerts.GetAlert(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, detection.ErrAlertNotFound) {
		respondError(w, http.StatusNotFound, CodeNotFound, "Alert not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, "Failed to load alert", err)
		return
	}
	respondSuccess(w, alert, 1, start)
}

// Rules lists every knowledge-base frame in registration order.
func (h *Handler) Rules(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	frames := []*kb.Frame{}
	if h.rules != nil {
		frames = h.rules.Frames()
	}
	respondSuccess(w, frames, len(frames), start)
}

// Rule returns the rules for one frame ID.
func (h *Handler) Rule(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := parseFrameID(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidID, err.Error(), nil)
		return
	}
	var frame *kb.Frame
	ok := false
	if h.rules != nil {
		frame, ok = h.rules.Lookup(id)
	}
	if !ok {
		respondError(w, http.StatusNotFound, CodeNotFound, "No rules for frame", nil)
		return
	}
	respondSuccess(w, frame, 1, start)
}

// messagesResponse carries definitions with the parser's skipped lines.
type messagesResponse struct {
	Messages []*dbc.MessageDef `json:"messages"`
	Warnings []dbc.Warning     `json:"warnings"`
}

// Messages lists message definitions in file order.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp := messagesResponse{Messages: []*dbc.MessageDef{}, Warnings: []dbc.Warning{}}
	if h.messages != nil {
		resp.Messages = h.messages.Messages()
		if warnings := h.messages.Warnings(); warnings != nil {
			resp.Warnings = warnings
		}
	}
	respondSuccess(w, resp, len(resp.Messages), start)
}

// Message returns one message definition.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := parseFrameID(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidID, err.Error(), nil)
		return
	}
	var msg *dbc.MessageDef
	ok := false
	if h.messages != nil {
		msg, ok = h.messages.Lookup(id)
	}
	if !ok {
		respondError(w, http.StatusNotFound, CodeNotFound, "No message definition for frame", nil)
		return
	}
	respondSuccess(w, msg, 1, start)
}
