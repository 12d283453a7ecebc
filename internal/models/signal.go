// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package models

import "fmt"

// SignalID identifies a signal by the frame that carries it and its bit
// geometry: frameID<<16 | startBit<<8 | length.
//
// It is the only join key between decoded frames and knowledge-base rules,
// so both sides must build it through EncodeSignalID. The encoding is
// injective for frame IDs up to 0xFFFF, start bits below 64 and lengths up
// to 32.
type SignalID uint32

// Limits of the SignalID domain.
const (
	MaxSignalFrameID  = 0xFFFF
	MaxSignalStartBit = 63
	MaxSignalLength   = 32
)

// EncodeSignalID packs a frame ID and bit geometry into a SignalID. Only the
// low 16 bits of frameID are kept.
func EncodeSignalID(frameID uint32, startBit, length uint8) SignalID {
	return SignalID((frameID&MaxSignalFrameID)<<16 | uint32(startBit)<<8 | uint32(length))
}

// ValidSignalGeometry reports whether the triple lies inside the domain on
// which EncodeSignalID is injective.
func ValidSignalGeometry(frameID uint32, startBit, length int) bool {
	return frameID <= MaxSignalFrameID &&
		startBit >= 0 && startBit <= MaxSignalStartBit &&
		length >= 1 && length <= MaxSignalLength
}

// FallbackSignalID is the ID given to payload byte i when a frame has no
// message definition. Extended frame IDs above 0xFFFF alias their low 16
// bits here (0x10100 and 0x100 share fallback IDs). Fallback signals only
// reach diagnostics: a frame without a rule is rejected before any signal
// lookup.
func FallbackSignalID(frameID uint32, byteIndex int) SignalID {
	return EncodeSignalID(frameID, uint8(byteIndex*8+1), 8)
}

// FrameID returns the frame the signal belongs to.
func (s SignalID) FrameID() uint32 { return uint32(s) >> 16 }

// StartBit returns the signal's start bit.
func (s SignalID) StartBit() uint8 { return uint8(uint32(s) >> 8) }

// Length returns the signal's width in bits.
func (s SignalID) Length() uint8 { return uint8(s) }

// String formats the ID the way signal names are written in rule feeds.
func (s SignalID) String() string {
	return fmt.Sprintf("Sig_0x%x_%d_%d", s.FrameID(), s.StartBit(), s.Length())
}

// DecodedSignal is one value extracted from a frame payload.
type DecodedSignal struct {
	ID    SignalID `json:"id"`
	Value float64  `json:"value"`
}
