// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package api

import (
	"context"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/tomtom215/cansentry/internal/cache"
	"github.com/tomtom215/cansentry/internal/dbc"
	"github.com/tomtom215/cansentry/internal/detection"
	"github.com/tomtom215/cansentry/internal/kb"
	"github.com/tomtom215/cansentry/internal/websocket"
)

// StatsProvider reports live monitor counters.
type StatsProvider interface {
	Stats() detection.Stats
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Dependencies are the components served by the API. Rules and Messages are
// required; everything else may be nil.
type Dependencies struct {
	Rules    *kb.KnowledgeBase
	Messages *dbc.Table
	Monitor  StatsProvider
	Alerts   detection.AlertStore
	Hub      *websocket.Hub
	Checks   map[string]ReadinessCheck
	Version  string
	// AlertsCacheTTL caches alert query results. Zero disables caching.
	AlertsCacheTTL time.Duration
	// AllowedOrigins lists websocket origins. Empty means same origin only;
	// "*" allows any.
	AllowedOrigins []string
}

// Handler serves the API endpoints.
type Handler struct {
	rules     *kb.KnowledgeBase
	messages  *dbc.Table
	monitor   StatsProvider
	alerts    detection.AlertStore
	cache     *cache.TTLCache
	hub       *websocket.Hub
	checks    map[string]ReadinessCheck
	version   string
	upgrader  *gorillaws.Upgrader
	startTime time.Time
}

// NewHandler creates a handler over deps.
func NewHandler(deps Dependencies) *Handler {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	var queryCache *cache.TTLCache
	if deps.AlertsCacheTTL > 0 {
		queryCache = cache.New(deps.AlertsCacheTTL)
	}
	return &Handler{
		rules:     deps.Rules,
		messages:  deps.Messages,
		monitor:   deps.Monitor,
		alerts:    deps.Alerts,
		cache:     queryCache,
		hub:       deps.Hub,
		checks:    deps.Checks,
		version:   version,
		upgrader:  newUpgrader(deps.AllowedOrigins),
		startTime: time.Now(),
	}
}
