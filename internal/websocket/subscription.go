// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package websocket

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/tomtom215/cansentry/internal/detection"
)

func subscriptionFromQuery(r *http.Request) (Subscription, error) {
	q := r.URL.Query()
	var sub Subscription

	if v := q.Get("min_severity"); v != "" {
		sev := detection.Severity(v)
		switch sev {
		case detection.SeverityInfo, detection.SeverityWarning, detection.SeverityCritical:
		default:
			return sub, fmt.Errorf("invalid min_severity %q", v)
		}
		sub.MinSeverity = sev
	}
	for _, v := range q["frame_id"] {
		id, err := strconv.ParseUint(v, 0, 32)
		if err != nil {
			return sub, fmt.Errorf("invalid frame_id %q: %w", v, err)
		}
		sub.FrameIDs = append(sub.FrameIDs, uint32(id))
	}
	for _, v := range q["reason"] {
		sub.Reasons = append(sub.Reasons, detection.Reason(v))
	}
	return sub, nil
}
