// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package wal

import (
	"context"
	"fmt"

	"github.com/tomtom215/cansentry/internal/detection"
	"github.com/tomtom215/cansentry/internal/logging"
)

// Outbox is a detection.Notifier that logs each alert before delegating to
// the wrapped notifier. A failed delivery stays pending for the RetryLoop
// and is not reported as an error.
type Outbox struct {
	wal  *BadgerWAL
	next detection.Notifier
}

// NewOutbox wraps next with the log.
func NewOutbox(w *BadgerWAL, next detection.Notifier) *Outbox {
	return &Outbox{wal: w, next: next}
}

// Name returns the wrapped notifier's name.
func (o *Outbox) Name() string { return o.next.Name() }

// Enabled reports whether both the log and the wrapped notifier are open.
func (o *Outbox) Enabled() bool {
	return o.wal.checkOpen() == nil && o.next.Enabled()
}

// Send persists alert, then attempts delivery once.
func (o *Outbox) Send(ctx context.Context, alert *detection.Alert) error {
	id, err := o.wal.Write(ctx, alert)
	if err != nil {
		// The log is unavailable; fall back to a direct delivery.
		logging.Warn().Err(err).Str("alert_id", alert.ID).Msg("WAL write failed, delivering without durability")
		return o.next.Send(ctx, alert)
	}

	if err := o.next.Send(ctx, alert); err != nil {
		if updateErr := o.wal.UpdateAttempt(ctx, id, err.Error()); updateErr != nil {
			return fmt.Errorf("record failed delivery of %s: %w", id, updateErr)
		}
		logging.Warn().Err(err).Str("entry_id", id).Msg("Alert delivery failed, queued for retry")
		return nil
	}
	return o.wal.Confirm(ctx, id)
}
