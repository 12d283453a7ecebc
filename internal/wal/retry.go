// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package wal

import (
	"context"
	"math"
	"time"

	"github.com/tomtom215/cansentry/internal/detection"
	"github.com/tomtom215/cansentry/internal/logging"
)

// maxBackoff caps the exponential backoff.
const maxBackoff = 5 * time.Minute

// retryResult tracks the outcome of processing a single entry.
type retryResult int

const (
	retryResultSuccess retryResult = iota
	retryResultFailed
	retryResultExpired
	retryResultMaxRetried
	retryResultSkipped
)

// RetryLoop redelivers pending entries. It implements suture.Service and
// runs one pass immediately so entries left by a previous run are
// recovered at startup.
type RetryLoop struct {
	wal       *BadgerWAL
	publisher detection.Notifier
	config    Config
	now       func() time.Time
}

// NewRetryLoop creates a retry loop delivering to publisher.
func NewRetryLoop(w *BadgerWAL, publisher detection.Notifier) *RetryLoop {
	return &RetryLoop{
		wal:       w,
		publisher: publisher,
		config:    w.Config(),
		now:       time.Now,
	}
}

// Serve runs until ctx is canceled.
func (r *RetryLoop) Serve(ctx context.Context) error {
	logging.Info().
		Dur("interval", r.config.RetryInterval).
		Int("max_retries", r.config.MaxRetries).
		Msg("WAL retry loop started")

	r.retryPending(ctx)

	ticker := time.NewTicker(r.config.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("WAL retry loop stopped")
			return ctx.Err()
		case <-ticker.C:
			r.retryPending(ctx)
		}
	}
}

// String returns the service name for suture logging.
func (r *RetryLoop) String() string {
	return "wal-retry"
}

func (r *RetryLoop) retryPending(ctx context.Context) {
	entries, err := r.wal.GetPending(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logging.Error().Err(err).Msg("WAL retry: failed to get pending entries")
		}
		return
	}
	if len(entries) == 0 {
		return
	}

	var success, failed, expired, maxRetried int
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		switch r.processEntry(ctx, entry) {
		case retryResultSuccess:
			success++
		case retryResultFailed:
			failed++
		case retryResultExpired:
			expired++
		case retryResultMaxRetried:
			maxRetried++
		case retryResultSkipped:
		}
	}

	if success > 0 || failed > 0 || expired > 0 || maxRetried > 0 {
		logging.Info().
			Int("succeeded", success).
			Int("failed", failed).
			Int("expired", expired).
			Int("max_retried", maxRetried).
			Msg("WAL retry complete")
	}
}

func (r *RetryLoop) processEntry(ctx context.Context, entry *Entry) retryResult {
	if r.now().Sub(entry.CreatedAt) > r.config.EntryTTL {
		return r.drop(ctx, entry, "expired", retryResultExpired)
	}
	if r.config.MaxRetries > 0 && entry.Attempts >= r.config.MaxRetries {
		return r.drop(ctx, entry, "max_retries", retryResultMaxRetried)
	}
	if !r.isReadyForRetry(entry) {
		return retryResultSkipped
	}
	if !r.publisher.Enabled() {
		return retryResultSkipped
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.config.SendTimeout)
	err := r.publisher.Send(sendCtx, entry.Alert)
	cancel()
	if err != nil {
		logging.Debug().
			Err(err).
			Str("entry_id", entry.ID).
			Int("attempt", entry.Attempts+1).
			Msg("WAL retry: delivery failed")
		if updateErr := r.wal.UpdateAttempt(ctx, entry.ID, err.Error()); updateErr != nil {
			logging.Error().Err(updateErr).Str("entry_id", entry.ID).Msg("WAL retry: failed to update attempt")
		}
		return retryResultFailed
	}

	if err := r.wal.Confirm(ctx, entry.ID); err != nil {
		logging.Error().Err(err).Str("entry_id", entry.ID).Msg("WAL retry: failed to confirm entry")
		return retryResultFailed
	}
	return retryResultSuccess
}

func (r *RetryLoop) drop(ctx context.Context, entry *Entry, reason string, result retryResult) retryResult {
	logging.Warn().
		Str("entry_id", entry.ID).
		Int("attempts", entry.Attempts).
		Str("reason", reason).
		Msg("WAL retry: dropping undelivered alert")
	if err := r.wal.DeleteEntry(ctx, entry.ID); err != nil {
		logging.Error().Err(err).Str("entry_id", entry.ID).Msg("WAL retry: failed to delete entry")
	}
	walDropped.WithLabelValues(reason).Inc()
	return result
}

func (r *RetryLoop) isReadyForRetry(entry *Entry) bool {
	// Without a recorded attempt the first delivery may still be in flight.
	if entry.LastAttemptAt.IsZero() {
		return r.now().Sub(entry.CreatedAt) >= r.config.SendTimeout
	}
	return r.now().Sub(entry.LastAttemptAt) >= r.calculateBackoff(entry.Attempts)
}

// calculateBackoff returns base * 2^(attempts-1), capped at maxBackoff.
func (r *RetryLoop) calculateBackoff(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	if attempts > 50 {
		return maxBackoff
	}
	backoff := time.Duration(float64(r.config.RetryBackoff) * math.Pow(2, float64(attempts-1)))
	if backoff < 0 || backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}
