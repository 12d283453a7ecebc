// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

// Package validation wraps go-playground/validator v10 with a shared
// instance and the tags used by the knowledge-base feed and configuration.
//
//	type signalDoc struct {
//	    Name string  `json:"name" validate:"required,signalname"`
//	    Rate float64 `json:"rate" validate:"gte=0"`
//	}
//
//	if err := validation.Struct(&doc); err != nil {
//	    return fmt.Errorf("knowledge base: %w", err)
//	}
package validation
