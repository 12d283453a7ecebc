// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package dbc

import (
	"fmt"

	"github.com/tomtom215/cansentry/internal/cache"
	"github.com/tomtom215/cansentry/internal/models"
)

// ByteOrder is the bit layout of a signal inside the payload.
type ByteOrder uint8

const (
	// BigEndian is the Motorola layout (@0). Start bits use the DBC sawtooth
	// numbering.
	BigEndian ByteOrder = iota
	// LittleEndian is the Intel layout (@1).
	LittleEndian
)

func (o ByteOrder) String() string {
	if o == LittleEndian {
		return "little_endian"
	}
	return "big_endian"
}

// SignalDef is a signal's position inside its message. Shift and Mask are
// computed at load time so decoding is a single shift-and-mask.
type SignalDef struct {
	ID        models.SignalID `json:"id"`
	Name      string          `json:"name"`
	StartBit  uint8           `json:"start_bit"`
	Length    uint8           `json:"length"`
	ByteOrder ByteOrder       `json:"byte_order"`
	Shift     uint8           `json:"shift"`
	Mask      uint64          `json:"mask"`
}

// MessageDef describes one CAN message. Immutable after load.
type MessageDef struct {
	FrameID uint32      `json:"frame_id"`
	Name    string      `json:"name"`
	DLC     int         `json:"dlc"`
	Sender  string      `json:"sender,omitempty"`
	Signals []SignalDef `json:"signals"`
}

// Warning records a definition line that was skipped during parsing.
type Warning struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d: %s", w.Line, w.Reason)
}

// Table is the message-definition table. It is read-only after Parse and
// safe for concurrent decoding.
type Table struct {
	messages *cache.KeyedStore[*MessageDef]
	order    []uint32
	warnings []Warning
}

func newTable() *Table {
	return &Table{
		messages: cache.NewKeyedStore[*MessageDef](cache.DefaultBuckets, cache.NoRelease[*MessageDef]),
	}
}

// Lookup returns the definition for a frame ID.
func (t *Table) Lookup(frameID uint32) (*MessageDef, bool) {
	return t.messages.Lookup(frameID)
}

// Len returns the number of message definitions.
func (t *Table) Len() int {
	return t.messages.Len()
}

// Messages returns the definitions in file order.
func (t *Table) Messages() []*MessageDef {
	out := make([]*MessageDef, 0, len(t.order))
	for _, id := range t.order {
		if m, ok := t.messages.Lookup(id); ok {
			out = append(out, m)
		}
	}
	return out
}

// Warnings returns the lines skipped while parsing.
func (t *Table) Warnings() []Warning {
	return t.warnings
}
