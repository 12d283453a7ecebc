// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package services

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/cansentry/internal/logging"
)

// GCRunner is satisfied by *alerts.BadgerStore and *wal.BadgerWAL.
type GCRunner interface {
	RunGC() error
	GCInterval() time.Duration
}

// GCService runs value-log garbage collection on a Badger database.
type GCService struct {
	name  string
	store GCRunner
}

// NewGCService creates a GC service for store, logged as name.
func NewGCService(name string, store GCRunner) *GCService {
	return &GCService{name: name, store: store}
}

// Serve implements suture.Service. A non-positive interval disables GC.
func (g *GCService) Serve(ctx context.Context) error {
	interval := g.store.GCInterval()
	if interval <= 0 {
		return suture.ErrDoNotRestart
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := g.store.RunGC(); err != nil {
				// Restarting resets the ticker; a closed store keeps failing
				// and ends up in suture's backoff.
				return err
			}
			logging.Debug().Str("service", g.name).Msg("value log GC completed")
		}
	}
}

// String implements fmt.Stringer for logging.
func (g *GCService) String() string {
	return g.name
}
