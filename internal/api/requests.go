// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/cansentry/internal/detection"
	"github.com/tomtom215/cansentry/internal/validation"
)

const (
	defaultAlertLimit = 100
	maxAlertLimit     = 1000
	maxFrameID        = 0x1FFFFFFF
)

// AlertsRequest holds the parsed /alerts query.
type AlertsRequest struct {
	Limit      int        `json:"limit" validate:"gte=1,lte=1000"`
	Offset     int        `json:"offset" validate:"gte=0"`
	Reasons    []string   `json:"reason" validate:"dive,oneof=unknown_id dlc_mismatch bit_pattern missing_signal value_range change_rate relation timing bootstrap"`
	Severities []string   `json:"severity" validate:"dive,oneof=info warning critical"`
	FrameID    *uint32    `json:"frame_id"`
	Since      *time.Time `json:"since"`
}

// parseAlertsRequest reads and validates the alert query parameters.
func parseAlertsRequest(r *http.Request) (*AlertsRequest, error) {
	q := r.URL.Query()
	req := &AlertsRequest{Limit: defaultAlertLimit}

	var err error
	if v := q.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("limit: %w", err)
		}
	}
	if v := q.Get("offset"); v != "" {
		if req.Offset, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("offset: %w", err)
		}
	}
	req.Reasons = splitValues(q["reason"])
	req.Severities = splitValues(q["severity"])
	if v := q.Get("frame_id"); v != "" {
		id, err := parseFrameID(v)
		if err != nil {
			return nil, err
		}
		req.FrameID = &id
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("since: %w", err)
		}
		req.Since = &since
	}

	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	return req, nil
}

// Filter converts the request to a store filter.
func (req *AlertsRequest) Filter() detection.AlertFilter {
	f := detection.AlertFilter{
		FrameID: req.FrameID,
		Since:   req.Since,
		Limit:   req.Limit,
		Offset:  req.Offset,
	}
	for _, r := range req.Reasons {
		f.Reasons = append(f.Reasons, detection.Reason(r))
	}
	for _, s := range req.Severities {
		f.Severities = append(f.Severities, detection.Severity(s))
	}
	return f
}

// splitValues accepts both repeated and comma separated parameters.
func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// parseFrameID accepts decimal or 0x-prefixed hex identifiers.
func parseFrameID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 0, 32)
	if err != nil || id > maxFrameID {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFrameID, s)
	}
	return uint32(id), nil
}
