// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package detection

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/tomtom215/cansentry/internal/models"
)

// ErrAlertNotFound is returned by AlertStore.GetAlert for unknown IDs.
var ErrAlertNotFound = errors.New("alert not found")

// Reason identifies which check decided a verdict.
type Reason string

const (
	// ReasonNormal marks a frame that passed every check.
	ReasonNormal Reason = "normal"
	// ReasonBootstrap marks the first observation of an ID, accepted to seed state.
	ReasonBootstrap Reason = "bootstrap"

	ReasonUnknownID     Reason = "unknown_id"
	ReasonDLCMismatch   Reason = "dlc_mismatch"
	ReasonBitPattern    Reason = "bit_pattern"
	ReasonMissingSignal Reason = "missing_signal"
	ReasonValueRange    Reason = "value_range"
	ReasonChangeRate    Reason = "change_rate"
	ReasonRelation      Reason = "relation"
	ReasonTiming        Reason = "timing"
)

// AnomalyReasons lists every reason that marks a frame anomalous, in
// evaluation order.
var AnomalyReasons = []Reason{
	ReasonUnknownID,
	ReasonDLCMismatch,
	ReasonBitPattern,
	ReasonMissingSignal,
	ReasonValueRange,
	ReasonChangeRate,
	ReasonRelation,
	ReasonTiming,
}

// Severity indicates the severity level of an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AtLeast reports whether s is as severe as floor. An empty floor accepts
// everything.
func (s Severity) AtLeast(floor Severity) bool {
	return severityRank(s) >= severityRank(floor)
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Severity maps a reason to an alert severity. Structural violations
// (unknown IDs, wrong length, fixed bits) are the usual signature of frame
// injection and are critical; behavioural deviations are warnings.
func (r Reason) Severity() Severity {
	switch r {
	case ReasonUnknownID, ReasonDLCMismatch, ReasonBitPattern:
		return SeverityCritical
	case ReasonNormal, ReasonBootstrap:
		return SeverityInfo
	default:
		return SeverityWarning
	}
}

// Verdict is the classification of one frame.
type Verdict struct {
	Anomalous bool   `json:"anomalous"`
	Reason    Reason `json:"reason"`
	FrameID   uint32 `json:"frame_id"`
	// Signal and Value are set when a per-signal check decided the verdict.
	Signal    models.SignalID `json:"signal,omitempty"`
	Value     float64         `json:"value,omitempty"`
	HasSignal bool            `json:"-"`
	// Fallback is true when the frame had no message definition and was
	// decoded byte by byte.
	Fallback bool `json:"fallback,omitempty"`
}

// Alert is a persisted anomalous verdict.
type Alert struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id,omitempty"`
	FrameID    uint32    `json:"frame_id"`
	BusTime    float64   `json:"bus_time"`
	DetectedAt time.Time `json:"detected_at"`
	Reason     Reason    `json:"reason"`
	Severity   Severity  `json:"severity"`
	Signal     string    `json:"signal,omitempty"`
	Value      *float64  `json:"value,omitempty"`
	DLC        int       `json:"dlc"`
	Payload    string    `json:"payload"`
	// Burst is the number of anomalies for this frame ID within the burst
	// window, this one included.
	Burst   int64  `json:"burst"`
	Message string `json:"message"`
}

// AlertStore persists alerts.
type AlertStore interface {
	// SaveAlert persists a new alert.
	SaveAlert(ctx context.Context, alert *Alert) error

	// GetAlert retrieves an alert by ID. Unknown IDs yield ErrAlertNotFound.
	GetAlert(ctx context.Context, id string) (*Alert, error)

	// ListAlerts returns matching alerts, newest first.
	ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error)

	// CountAlerts returns the number of matching alerts, ignoring Limit and Offset.
	CountAlerts(ctx context.Context, filter AlertFilter) (int, error)
}

// AlertFilter defines filtering options for alert queries.
type AlertFilter struct {
	Reasons    []Reason   `json:"reasons,omitempty"`
	Severities []Severity `json:"severities,omitempty"`
	FrameID    *uint32    `json:"frame_id,omitempty"`
	Since      *time.Time `json:"since,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Offset     int        `json:"offset,omitempty"`
}

// Matches reports whether a satisfies every set criterion.
func (f *AlertFilter) Matches(a *Alert) bool {
	if f.FrameID != nil && a.FrameID != *f.FrameID {
		return false
	}
	if f.Since != nil && a.DetectedAt.Before(*f.Since) {
		return false
	}
	if len(f.Reasons) > 0 && !slices.Contains(f.Reasons, a.Reason) {
		return false
	}
	if len(f.Severities) > 0 && !slices.Contains(f.Severities, a.Severity) {
		return false
	}
	return true
}

// Notifier delivers alerts to an external channel.
type Notifier interface {
	// Send delivers an alert to the notification channel.
	Send(ctx context.Context, alert *Alert) error

	// Name returns the notifier name (e.g., "webhook", "eventbus").
	Name() string

	// Enabled returns whether this notifier is enabled.
	Enabled() bool
}

// AlertBroadcaster pushes alerts to live subscribers.
type AlertBroadcaster interface {
	BroadcastJSON(messageType string, data interface{})
}
