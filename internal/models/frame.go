// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package models

import (
	"encoding/hex"
	"strings"
)

// MaxPayload is the largest classic CAN payload in bytes.
const MaxPayload = 8

// LiveFrame is one observed CAN frame together with the signals decoded from
// it. Timestamp is the capture time in seconds.
type LiveFrame struct {
	ID        uint32           `json:"id"`
	DLC       int              `json:"dlc"`
	Timestamp float64          `json:"timestamp"`
	Data      [MaxPayload]byte `json:"-"`
	Signals   []DecodedSignal  `json:"signals,omitempty"`
}

// Payload returns the first DLC bytes of the frame.
func (f *LiveFrame) Payload() []byte {
	n := f.DLC
	if n < 0 {
		n = 0
	}
	if n > MaxPayload {
		n = MaxPayload
	}
	return f.Data[:n]
}

// PayloadHex returns the payload as upper-case hex, the way candump prints it.
func (f *LiveFrame) PayloadHex() string {
	return strings.ToUpper(hex.EncodeToString(f.Payload()))
}

// Signal returns the decoded value for id.
func (f *LiveFrame) Signal(id SignalID) (float64, bool) {
	for _, s := range f.Signals {
		if s.ID == id {
			return s.Value, true
		}
	}
	return 0, false
}

// CopyFrom overwrites f with src, reusing f's signal buffer.
func (f *LiveFrame) CopyFrom(src *LiveFrame) {
	f.ID = src.ID
	f.DLC = src.DLC
	f.Timestamp = src.Timestamp
	f.Data = src.Data
	f.Signals = append(f.Signals[:0], src.Signals...)
}
