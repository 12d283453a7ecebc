// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package wal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"

	"github.com/tomtom215/cansentry/internal/detection"
	"github.com/tomtom215/cansentry/internal/logging"
)

const (
	prefixPending   = "pending:"
	prefixConfirmed = "confirmed:"
)

// Errors
var (
	// ErrWALClosed is returned when the WAL is closed.
	ErrWALClosed = errors.New("WAL is closed")

	// ErrNilAlert is returned when a nil alert is passed to Write.
	ErrNilAlert = errors.New("alert cannot be nil")

	// ErrEmptyEntryID is returned when an empty entry ID is provided.
	ErrEmptyEntryID = errors.New("entry ID cannot be empty")

	// ErrEntryNotFound is returned when an entry doesn't exist.
	ErrEntryNotFound = errors.New("entry not found")
)

// Entry is one alert awaiting or past delivery.
type Entry struct {
	ID            string           `json:"id"`
	Alert         *detection.Alert `json:"alert"`
	CreatedAt     time.Time        `json:"created_at"`
	Attempts      int              `json:"attempts"`
	LastAttemptAt time.Time        `json:"last_attempt_at,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
	Confirmed     bool             `json:"confirmed"`
	ConfirmedAt   *time.Time       `json:"confirmed_at,omitempty"`
}

// Stats is a point-in-time view of the log.
type Stats struct {
	PendingCount   int64 `json:"pending_count"`
	ConfirmedCount int64 `json:"confirmed_count"`
	TotalWrites    int64 `json:"total_writes"`
	TotalConfirms  int64 `json:"total_confirms"`
	TotalRetries   int64 `json:"total_retries"`
	DBSizeBytes    int64 `json:"db_size_bytes"`
}

// BadgerWAL stores entries under a pending or confirmed key prefix.
type BadgerWAL struct {
	db     *badger.DB
	config Config

	totalWrites   atomic.Int64
	totalConfirms atomic.Int64
	totalRetries  atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the log.
func Open(cfg Config) (*BadgerWAL, error) {
	cfg = cfg.withDefaults()

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.Compression = options.Snappy
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	w := &BadgerWAL{db: db, config: cfg}
	stats := w.Stats()
	walPendingEntries.Set(float64(stats.PendingCount))

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Int64("pending", stats.PendingCount).
		Msg("Alert WAL opened")
	return w, nil
}

// Config returns the effective configuration.
func (w *BadgerWAL) Config() Config {
	return w.config
}

func (w *BadgerWAL) checkOpen() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWALClosed
	}
	return nil
}

// Write persists alert as a pending entry and returns the entry ID, which
// is the alert ID when set.
func (w *BadgerWAL) Write(_ context.Context, alert *detection.Alert) (string, error) {
	if alert == nil {
		return "", ErrNilAlert
	}
	if err := w.checkOpen(); err != nil {
		return "", err
	}

	start := time.Now()
	id := alert.ID
	if id == "" {
		id = fmt.Sprintf("%020d", start.UnixNano())
	}
	entry := Entry{ID: id, Alert: alert, CreatedAt: start.UTC()}
	data, err := json.Marshal(&entry)
	if err != nil {
		walWriteFailures.Inc()
		return "", fmt.Errorf("marshal entry: %w", err)
	}

	err = w.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(prefixPending+id), data).WithTTL(w.config.EntryTTL))
	})
	if err != nil {
		walWriteFailures.Inc()
		return "", fmt.Errorf("write entry: %w", err)
	}

	w.totalWrites.Add(1)
	walWritesTotal.Inc()
	walPendingEntries.Inc()
	walWriteLatency.Observe(time.Since(start).Seconds())
	return id, nil
}

func getEntry(txn *badger.Txn, key []byte) (*Entry, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	var entry Entry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &entry, nil
}

// Confirm moves an entry from pending to confirmed.
func (w *BadgerWAL) Confirm(_ context.Context, entryID string) error {
	if entryID == "" {
		return ErrEmptyEntryID
	}
	if err := w.checkOpen(); err != nil {
		return err
	}

	pendingKey := []byte(prefixPending + entryID)
	err := w.db.Update(func(txn *badger.Txn) error {
		entry, err := getEntry(txn, pendingKey)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		entry.Confirmed = true
		entry.ConfirmedAt = &now
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal confirmed entry: %w", err)
		}

		confirmed := badger.NewEntry([]byte(prefixConfirmed+entryID), data).WithTTL(w.config.ConfirmedTTL)
		if err := txn.SetEntry(confirmed); err != nil {
			return fmt.Errorf("set confirmed entry: %w", err)
		}
		return txn.Delete(pendingKey)
	})
	if err != nil {
		return err
	}

	w.totalConfirms.Add(1)
	walConfirmsTotal.Inc()
	walPendingEntries.Dec()
	return nil
}

// GetPending returns all unconfirmed entries from one snapshot, oldest
// key first.
func (w *BadgerWAL) GetPending(ctx context.Context) ([]*Entry, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}

	var entries []*Entry
	err := w.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var entry Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("WAL failed to unmarshal entry")
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate pending entries: %w", err)
	}
	return entries, nil
}

// UpdateAttempt records a failed delivery.
func (w *BadgerWAL) UpdateAttempt(_ context.Context, entryID, lastError string) error {
	if entryID == "" {
		return ErrEmptyEntryID
	}
	if err := w.checkOpen(); err != nil {
		return err
	}

	key := []byte(prefixPending + entryID)
	err := w.db.Update(func(txn *badger.Txn) error {
		entry, err := getEntry(txn, key)
		if err != nil {
			return err
		}
		entry.Attempts++
		entry.LastAttemptAt = time.Now().UTC()
		entry.LastError = lastError

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		// Keep the original expiry so retries cannot extend an entry's life.
		remaining := time.Until(entry.CreatedAt.Add(w.config.EntryTTL))
		if remaining <= 0 {
			return txn.Delete(key)
		}
		return txn.SetEntry(badger.NewEntry(key, data).WithTTL(remaining))
	})
	if err != nil {
		return err
	}

	w.totalRetries.Add(1)
	walRetriesTotal.Inc()
	return nil
}

// DeleteEntry removes a pending or confirmed entry.
func (w *BadgerWAL) DeleteEntry(_ context.Context, entryID string) error {
	if entryID == "" {
		return ErrEmptyEntryID
	}
	if err := w.checkOpen(); err != nil {
		return err
	}

	pendingKey := []byte(prefixPending + entryID)
	confirmedKey := []byte(prefixConfirmed + entryID)
	wasPending := false
	err := w.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(pendingKey); err == nil {
			wasPending = true
			return txn.Delete(pendingKey)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get pending entry: %w", err)
		}
		if _, err := txn.Get(confirmedKey); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		} else if err != nil {
			return fmt.Errorf("get confirmed entry: %w", err)
		}
		return txn.Delete(confirmedKey)
	})
	if err == nil && wasPending {
		walPendingEntries.Dec()
	}
	return err
}

// Stats counts entries by prefix. A closed log reports zero.
func (w *BadgerWAL) Stats() Stats {
	if w.checkOpen() != nil {
		return Stats{}
	}

	var pending, confirmed int64
	if err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefixPending)); it.ValidForPrefix([]byte(prefixPending)); it.Next() {
			pending++
		}
		for it.Seek([]byte(prefixConfirmed)); it.ValidForPrefix([]byte(prefixConfirmed)); it.Next() {
			confirmed++
		}
		return nil
	}); err != nil {
		logging.Warn().Err(err).Msg("WAL failed to count entries")
	}

	lsm, vlog := w.db.Size()
	return Stats{
		PendingCount:   pending,
		ConfirmedCount: confirmed,
		TotalWrites:    w.totalWrites.Load(),
		TotalConfirms:  w.totalConfirms.Load(),
		TotalRetries:   w.totalRetries.Load(),
		DBSizeBytes:    lsm + vlog,
	}
}

// GCInterval reports how often RunGC should be called.
func (w *BadgerWAL) GCInterval() time.Duration {
	return w.config.GCInterval
}

// RunGC reclaims value-log space until Badger reports nothing to rewrite.
func (w *BadgerWAL) RunGC() error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if w.config.InMemory {
		return nil
	}
	for {
		err := w.db.RunValueLogGC(w.config.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close closes the database, giving up after CloseTimeout.
func (w *BadgerWAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- w.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("Alert WAL closed")
		return nil
	case <-time.After(w.config.CloseTimeout):
		return fmt.Errorf("badgerdb close timeout after %v", w.config.CloseTimeout)
	}
}
