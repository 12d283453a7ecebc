// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package dbc

import (
	"encoding/binary"

	"github.com/tomtom215/cansentry/internal/models"
)

// geometry returns the shift that aligns a signal's least significant bit
// with bit 0 of the packed payload scalar, or false when the signal does not
// fit in 64 bits.
func geometry(start, length int, order ByteOrder) (uint8, bool) {
	if start < 0 || start > 63 || length < 1 || length > models.MaxSignalLength {
		return 0, false
	}
	if order == LittleEndian {
		if start+length > 64 {
			return 0, false
		}
		return uint8(start), true
	}
	// Sawtooth start bit -> position counted from the most significant bit
	// of the big-endian scalar.
	msb := (start/8)*8 + 7 - start%8
	shift := 64 - msb - length
	if shift < 0 {
		return 0, false
	}
	return uint8(shift), true
}

func mask(length uint8) uint64 {
	if length >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << length) - 1
}

// pack loads the payload into 64-bit scalars. Bytes are left-aligned for
// the big-endian view and right-aligned for the little-endian view; bytes
// past the DLC read as zero.
func pack(f *models.LiveFrame) (be, le uint64) {
	var buf [models.MaxPayload]byte
	copy(buf[:], f.Payload())
	return binary.BigEndian.Uint64(buf[:]), binary.LittleEndian.Uint64(buf[:])
}

// Decode extracts the frame's signals, appending them to dst[:0], and
// returns the result. found reports whether a message definition existed;
// when it did not, every payload byte is returned as an 8-bit fallback
// signal. Decode never fails.
func (t *Table) Decode(f *models.LiveFrame, dst []models.DecodedSignal) (signals []models.DecodedSignal, found bool) {
	dst = dst[:0]
	msg, ok := t.messages.Lookup(f.ID)
	if !ok {
		for i, b := range f.Payload() {
			dst = append(dst, models.DecodedSignal{
				ID:    models.FallbackSignalID(f.ID, i),
				Value: float64(b),
			})
		}
		return dst, false
	}

	be, le := pack(f)
	for i := range msg.Signals {
		s := &msg.Signals[i]
		raw := be
		if s.ByteOrder == LittleEndian {
			raw = le
		}
		dst = append(dst, models.DecodedSignal{
			ID:    s.ID,
			Value: float64((raw >> s.Shift) & s.Mask),
		})
	}
	return dst, true
}
