// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package kb

import (
	"errors"
	"fmt"

	"github.com/tomtom215/cansentry/internal/cache"
	"github.com/tomtom215/cansentry/internal/models"
)

// Errors returned while building a knowledge base.
var (
	ErrDuplicateFrame    = errors.New("duplicate frame id")
	ErrInvalidSignalName = errors.New("invalid signal name")
	ErrUnknownFormat     = errors.New("unknown knowledge base format")
)

// Correlation is the expected co-movement of two related signals.
type Correlation uint8

const (
	Positive Correlation = iota + 1
	Negative
)

func (c Correlation) String() string {
	switch c {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return "none"
	}
}

// ParseCorrelation maps "positive"/"negative" to a Correlation.
func ParseCorrelation(s string) (Correlation, bool) {
	switch s {
	case "positive":
		return Positive, true
	case "negative":
		return Negative, true
	}
	return 0, false
}

// Range is an inclusive value range. Max doubles as the wrap-around modulus
// for the rate check.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies in [Min, Max].
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Interval bounds the gap between consecutive frames, in timestamp units.
type Interval struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// BitPattern constrains one payload byte: (b & Mask) must equal Expected.
// A zero Mask places no constraint.
type BitPattern struct {
	Mask     uint8 `json:"mask"`
	Expected uint8 `json:"expected"`
}

// Matches reports whether b satisfies the pattern.
func (p BitPattern) Matches(b byte) bool {
	return b&p.Mask == p.Expected
}

// Relation declares that a change of the owning signal implies a change of
// Target in the Correlation direction. TargetFrame is informational.
type Relation struct {
	TargetFrame  uint32          `json:"target_frame"`
	TargetSignal models.SignalID `json:"target_signal"`
	Correlation  Correlation     `json:"correlation"`
}

// SignalRule holds the expectations for one signal.
type SignalRule struct {
	ID        models.SignalID `json:"id"`
	Range     Range           `json:"range"`
	Rate      float64         `json:"rate"`
	Relations []Relation      `json:"relations,omitempty"`
}

// Frame holds every expectation for one CAN identifier.
type Frame struct {
	ID          uint32                        `json:"id"`
	DLC         int                           `json:"dlc"`
	BitPatterns [models.MaxPayload]BitPattern `json:"bit_patterns"`
	Signals     []SignalRule                  `json:"signals"`
	Periodic    bool                          `json:"periodic"`
	Interval    Interval                      `json:"interval"`
}

// KnowledgeBase maps frame IDs to their rules. It is read-only once loaded
// and may be shared between engines.
type KnowledgeBase struct {
	frames *cache.KeyedStore[*Frame]
	order  []uint32
}

// New returns an empty knowledge base.
func New() *KnowledgeBase {
	return &KnowledgeBase{
		frames: cache.NewKeyedStore[*Frame](cache.DefaultBuckets, cache.NoRelease[*Frame]),
	}
}

// Register adds f. Registering an ID twice fails with ErrDuplicateFrame.
func (k *KnowledgeBase) Register(f *Frame) error {
	if !k.frames.Insert(f.ID, f) {
		return fmt.Errorf("frame 0x%x: %w", f.ID, ErrDuplicateFrame)
	}
	k.order = append(k.order, f.ID)
	return nil
}

// Lookup returns the rules for a frame ID.
func (k *KnowledgeBase) Lookup(id uint32) (*Frame, bool) {
	return k.frames.Lookup(id)
}

// Len returns the number of frames.
func (k *KnowledgeBase) Len() int {
	return k.frames.Len()
}

// Frames returns the frames in registration order.
func (k *KnowledgeBase) Frames() []*Frame {
	out := make([]*Frame, 0, len(k.order))
	for _, id := range k.order {
		if f, ok := k.frames.Lookup(id); ok {
			out = append(out, f)
		}
	}
	return out
}
