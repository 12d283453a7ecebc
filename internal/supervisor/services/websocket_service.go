// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package services

import (
	"context"
	"time"

	"github.com/tomtom215/cansentry/internal/detection"
)

// ContextHub is satisfied by *websocket.Hub.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// WebSocketHubService runs the websocket hub.
type WebSocketHubService struct {
	hub  ContextHub
	name string
}

// NewWebSocketHubService creates a new WebSocket hub service wrapper.
func NewWebSocketHubService(hub ContextHub) *WebSocketHubService {
	return &WebSocketHubService{
		hub:  hub,
		name: "websocket-hub",
	}
}

// Serve implements suture.Service.
func (w *WebSocketHubService) Serve(ctx context.Context) error {
	return w.hub.RunWithContext(ctx)
}

// String implements fmt.Stringer for logging.
func (w *WebSocketHubService) String() string {
	return w.name
}

// StatsProvider is satisfied by *detection.Monitor.
type StatsProvider interface {
	Stats() detection.Stats
}

// StatsUpdateType is the websocket message type of periodic stats.
const StatsUpdateType = "stats_update"

// StatsBroadcastService pushes monitor stats to websocket clients.
type StatsBroadcastService struct {
	stats       StatsProvider
	broadcaster detection.AlertBroadcaster
	interval    time.Duration
}

// NewStatsBroadcastService creates a stats pusher. interval must be positive.
func NewStatsBroadcastService(stats StatsProvider, broadcaster detection.AlertBroadcaster, interval time.Duration) *StatsBroadcastService {
	return &StatsBroadcastService{stats: stats, broadcaster: broadcaster, interval: interval}
}

// Serve implements suture.Service.
func (s *StatsBroadcastService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.broadcaster.BroadcastJSON(StatsUpdateType, s.stats.Stats())
		}
	}
}

// String implements fmt.Stringer for logging.
func (s *StatsBroadcastService) String() string {
	return "stats-broadcast"
}
