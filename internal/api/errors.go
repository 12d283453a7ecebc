// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package api

import "errors"

// Error codes returned in APIError.Code.
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeNotFound    = "NOT_FOUND"
	CodeInvalidID   = "INVALID_ID"
	CodeInternal    = "INTERNAL_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
	CodeRateLimited = "RATE_LIMITED"
	CodeMethod      = "METHOD_NOT_ALLOWED"
)

// ErrInvalidFrameID is returned for identifiers that do not parse or exceed
// the 29-bit extended range.
var ErrInvalidFrameID = errors.New("invalid frame id")
