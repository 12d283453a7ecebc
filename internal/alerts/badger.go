// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package alerts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"

	"github.com/tomtom215/cansentry/internal/detection"
	"github.com/tomtom215/cansentry/internal/logging"
)

const (
	alertKeyPrefix   = "alert:"
	alertIndexPrefix = "alert_id:"
)

// BadgerConfig configures the alert journal.
type BadgerConfig struct {
	Path string `koanf:"path" json:"path" validate:"required_without=InMemory"`
	// InMemory keeps the journal in memory only.
	InMemory    bool `koanf:"in_memory" json:"in_memory"`
	SyncWrites  bool `koanf:"sync_writes" json:"sync_writes"`
	Compression bool `koanf:"compression" json:"compression"`
	// Retention expires alerts after this long. Zero keeps them forever.
	Retention    time.Duration `koanf:"retention" json:"retention"`
	GCInterval   time.Duration `koanf:"gc_interval" json:"gc_interval"`
	GCRatio      float64       `koanf:"gc_ratio" json:"gc_ratio" validate:"gte=0,lt=1"`
	CloseTimeout time.Duration `koanf:"close_timeout" json:"close_timeout"`
}

// BadgerStore journals alerts to BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	config BadgerConfig

	mu     sync.RWMutex
	closed bool
}

// OpenBadgerStore opens (or creates) the journal.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if cfg.GCRatio == 0 {
		cfg.GCRatio = 0.5
	}
	if cfg.CloseTimeout == 0 {
		cfg.CloseTimeout = 30 * time.Second
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	if cfg.Compression {
		opts.Compression = options.Snappy
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Dur("retention", cfg.Retention).
		Msg("Alert journal opened")
	return &BadgerStore{db: db, config: cfg}, nil
}

func alertKey(a *detection.Alert) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", alertKeyPrefix, a.DetectedAt.UnixNano(), a.ID))
}

func (s *BadgerStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// SaveAlert journals alert. Alerts without an ID or detection time get one.
func (s *BadgerStore) SaveAlert(_ context.Context, alert *detection.Alert) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if alert.ID == "" {
		return errors.New("alert has no ID")
	}
	if alert.DetectedAt.IsZero() {
		alert.DetectedAt = time.Now()
	}

	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	key := alertKey(alert)

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, data)
		index := badger.NewEntry([]byte(alertIndexPrefix+alert.ID), key)
		if s.config.Retention > 0 {
			entry = entry.WithTTL(s.config.Retention)
			index = index.WithTTL(s.config.Retention)
		}
		if err := txn.SetEntry(entry); err != nil {
			return fmt.Errorf("set alert: %w", err)
		}
		if err := txn.SetEntry(index); err != nil {
			return fmt.Errorf("set alert index: %w", err)
		}
		return nil
	})
}

// GetAlert retrieves an alert by ID.
func (s *BadgerStore) GetAlert(_ context.Context, id string) (*detection.Alert, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var alert detection.Alert
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(alertIndexPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return detection.ErrAlertNotFound
		}
		if err != nil {
			return fmt.Errorf("get alert index: %w", err)
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		item, err = txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return detection.ErrAlertNotFound
		}
		if err != nil {
			return fmt.Errorf("get alert: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &alert)
		})
	})
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// scan visits alerts newest first until fn returns false.
func (s *BadgerStore) scan(ctx context.Context, fn func(a *detection.Alert) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(alertKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode Seek finds the last key <= the seek key.
		seek := append([]byte(alertKeyPrefix), bytes.Repeat([]byte{0xFF}, 8)...)
		for it.Seek(seek); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var a detection.Alert
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				return fmt.Errorf("decode alert %s: %w", it.Item().Key(), err)
			}
			if !fn(&a) {
				return nil
			}
		}
		return nil
	})
}

// ListAlerts returns matching alerts, newest first.
func (s *BadgerStore) ListAlerts(ctx context.Context, filter detection.AlertFilter) ([]detection.Alert, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var out []detection.Alert
	skipped := 0
	err := s.scan(ctx, func(a *detection.Alert) bool {
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
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return out, nil
}

// CountAlerts returns the number of matching alerts.
func (s *BadgerStore) CountAlerts(ctx context.Context, filter detection.AlertFilter) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	n := 0
	err := s.scan(ctx, func(a *detection.Alert) bool {
		if filter.Matches(a) {
			n++
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return n, nil
}

// RunGC reclaims value log space until nothing more can be rewritten.
func (s *BadgerStore) RunGC() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.config.InMemory {
		return nil
	}
	for {
		err := s.db.RunValueLogGC(s.config.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// GCInterval returns the configured GC interval.
func (s *BadgerStore) GCInterval() time.Duration {
	return s.config.GCInterval
}

// Close closes the database, giving up after the configured timeout.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("Alert journal closed")
		return nil
	case <-time.After(s.config.CloseTimeout):
		logging.Warn().Dur("timeout", s.config.CloseTimeout).Msg("BadgerDB close timed out")
		return fmt.Errorf("badgerdb close timeout after %v", s.config.CloseTimeout)
	}
}
