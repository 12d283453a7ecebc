// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package alerts

import (
	"context"
	"errors"
	"sync"

	"github.com/tomtom215/cansentry/internal/detection"
)

// ErrStoreClosed is returned by stores after Close.
var ErrStoreClosed = errors.New("alert store is closed")

// DefaultMemoryCapacity is the ring size used when none is configured.
const DefaultMemoryCapacity = 10000

// MemoryStore keeps the newest alerts in memory. Older alerts are
// overwritten once the capacity is reached.
type MemoryStore struct {
	mu     sync.RWMutex
	ring   []detection.Alert
	next   int
	size   int
	closed bool
}

// NewMemoryStore creates a store holding up to capacity alerts.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{ring: make([]detection.Alert, capacity)}
}

// SaveAlert stores a copy of alert.
func (s *MemoryStore) SaveAlert(_ context.Context, alert *detection.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.ring[s.next] = *alert
	s.next = (s.next + 1) % len(s.ring)
	if s.size < len(s.ring) {
		s.size++
	}
	return nil
}

// newestFirst calls fn for each alert from newest to oldest until fn
// returns false. Callers hold the read lock.
func (s *MemoryStore) newestFirst(fn func(a *detection.Alert) bool) {
	for i := 0; i < s.size; i++ {
		idx := (s.next - 1 - i + len(s.ring)) % len(s.ring)
		if !fn(&s.ring[idx]) {
			return
		}
	}
}

// GetAlert returns the alert with the given ID.
func (s *MemoryStore) GetAlert(_ context.Context, id string) (*detection.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var found *detection.Alert
	s.newestFirst(func(a *detection.Alert) bool {
		if a.ID == id {
			cp := *a
			found = &cp
			return false
		}
		return true
	})
	if found == nil {
		return nil, detection.ErrAlertNotFound
	}
	return found, nil
}

// ListAlerts returns matching alerts, newest first.
func (s *MemoryStore) ListAlerts(_ context.Context, filter detection.AlertFilter) ([]detection.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	out := make([]detection.Alert, 0, min(s.size, limitOrAll(filter.Limit, s.size)))
	skipped := 0
	s.newestFirst(func(a *detection.Alert) bool {
		if !filter.Matches(a) {
			return true
		}
		if skipped < filter.Offset {
			skipped++
			return true
		}
		out = append(out, *a)
		return filter.Limit <= 0 || len(out) < filter.Limit
	})
	return out, nil
}

// CountAlerts returns the number of matching alerts.
func (s *MemoryStore) CountAlerts(_ context.Context, filter detection.AlertFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	n := 0
	s.newestFirst(func(a *detection.Alert) bool {
		if filter.Matches(a) {
			n++
		}
		return true
	})
	return n, nil
}

// Len returns the number of retained alerts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Close drops all alerts.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.ring = nil
	s.size = 0
	return nil
}

func limitOrAll(limit, all int) int {
	if limit <= 0 {
		return all
	}
	return limit
}
