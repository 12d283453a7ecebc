// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package detection

import (
	"strings"
	"testing"

	"github.com/tomtom215/cansentry/internal/dbc"
	"github.com/tomtom215/cansentry/internal/kb"
	"github.com/tomtom215/cansentry/internal/models"
)

// Frames 0x100 and 0x200 each carry one 8-bit signal in byte 0; 0x300
// carries two.
const testDBC = `
BO_ 256 PEDAL: 1 ECU
 SG_ Pedal : 7|8@0+ (1,0) [0|255] "" ECU

BO_ 512 SPEED: 1 ECU
 SG_ Speed : 7|8@0+ (1,0) [0|255] "" ECU

BO_ 768 DUAL: 2 ECU
 SG_ First : 7|8@0+ (1,0) [0|255] "" ECU
 SG_ Second : 15|8@0+ (1,0) [0|255] "" ECU
`

var (
	sigPedal  = models.EncodeSignalID(0x100, 7, 8)
	sigSpeed  = models.EncodeSignalID(0x200, 7, 8)
	sigFirst  = models.EncodeSignalID(0x300, 7, 8)
	sigSecond = models.EncodeSignalID(0x300, 15, 8)
)

func newTestTable(t *testing.T) *dbc.Table {
	t.Helper()
	table, err := dbc.Parse(strings.NewReader(testDBC))
	if err != nil {
		t.Fatalf("parse dbc: %v", err)
	}
	return table
}

func newTestEngine(t *testing.T, frames ...*kb.Frame) *Engine {
	t.Helper()
	k := kb.New()
	for _, f := range frames {
		if err := k.Register(f); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return NewEngine(k, newTestTable(t))
}

func frame(id uint32, ts float64, payload ...byte) *models.LiveFrame {
	f := &models.LiveFrame{ID: id, DLC: len(payload), Timestamp: ts}
	copy(f.Data[:], payload)
	return f
}

func oneSignalRule(id uint32, sig models.SignalID, r kb.Range, rate float64, rels ...kb.Relation) *kb.Frame {
	return &kb.Frame{
		ID:  id,
		DLC: 1,
		Signals: []kb.SignalRule{
			{ID: sig, Range: r, Rate: rate, Relations: rels},
		},
	}
}

func expectVerdict(t *testing.T, e *Engine, f *models.LiveFrame, want Reason) Verdict {
	t.Helper()
	v := e.Evaluate(f)
	if v.Reason != want {
		t.Fatalf("frame 0x%x @%v: reason = %q, want %q", f.ID, f.Timestamp, v.Reason, want)
	}
	wantAnomalous := want != ReasonNormal && want != ReasonBootstrap
	if v.Anomalous != wantAnomalous {
		t.Fatalf("frame 0x%x: anomalous = %v, want %v", f.ID, v.Anomalous, wantAnomalous)
	}
	return v
}

func TestEngine_Bootstrap(t *testing.T) {
	// Even a value far outside the range is accepted on first sight.
	e := newTestEngine(t, oneSignalRule(0x100, sigPedal, kb.Range{Min: 0, Max: 10}, 1))

	expectVerdict(t, e, frame(0x100, 1, 200), ReasonBootstrap)
	if e.TrackedIDs() != 1 {
		t.Errorf("TrackedIDs() = %d, want 1", e.TrackedIDs())
	}
	expectVerdict(t, e, frame(0x100, 2, 200), ReasonValueRange)
}

func TestEngine_UnknownID(t *testing.T) {
	e := newTestEngine(t)

	f := frame(0x7ff, 1, 0xAA, 0xBB)
	v := expectVerdict(t, e, f, ReasonUnknownID)
	if !v.Fallback {
		t.Error("expected fallback decode for an undefined message")
	}
	if len(f.Signals) != 2 || f.Signals[1].ID != models.FallbackSignalID(0x7ff, 1) || f.Signals[1].Value != 0xBB {
		t.Errorf("unexpected fallback signals: %+v", f.Signals)
	}
	if !e.Classify(frame(0x7ff, 2, 0)) {
		t.Error("expected unknown id to stay anomalous")
	}
	if e.TrackedIDs() != 0 {
		t.Error("unknown ids must not create state")
	}
}

func TestEngine_DLCGate(t *testing.T) {
	e := newTestEngine(t, oneSignalRule(0x100, sigPedal, kb.Range{Min: 0, Max: 255}, 255))

	expectVerdict(t, e, frame(0x100, 1, 5, 0), ReasonDLCMismatch)
	expectVerdict(t, e, frame(0x100, 2), ReasonDLCMismatch)
	// Rejected frames leave no state behind.
	expectVerdict(t, e, frame(0x100, 3, 5), ReasonBootstrap)
	expectVerdict(t, e, frame(0x100, 4, 5, 1, 2), ReasonDLCMismatch)
}

func TestEngine_BitPatternGate(t *testing.T) {
	rule := oneSignalRule(0x100, sigPedal, kb.Range{Min: 0, Max: 255}, 255)
	rule.BitPatterns[0] = kb.BitPattern{Mask: 0xF0, Expected: 0x40}
	e := newTestEngine(t, rule)

	expectVerdict(t, e, frame(0x100, 1, 0x4F), ReasonBootstrap)
	expectVerdict(t, e, frame(0x100, 2, 0x40), ReasonNormal)

	for bit := 4; bit < 8; bit++ {
		b := byte(0x40) ^ (1 << bit)
		expectVerdict(t, e, frame(0x100, 3, b), ReasonBitPattern)
	}
}

func TestEngine_RangeGate(t *testing.T) {
	tests := []struct {
		value byte
		want  Reason
	}{
		{10, ReasonNormal},
		{20, ReasonNormal},
		{15, ReasonNormal},
		{9, ReasonValueRange},
		{21, ReasonValueRange},
	}

	for _, tt := range tests {
		e := newTestEngine(t, oneSignalRule(0x100, sigPedal, kb.Range{Min: 10, Max: 20}, 255))
		expectVerdict(t, e, frame(0x100, 1, 15), ReasonBootstrap)
		v := expectVerdict(t, e, frame(0x100, 2, tt.value), tt.want)
		if tt.want == ReasonValueRange && (v.Signal != sigPedal || v.Value != float64(tt.value)) {
			t.Errorf("verdict should name the signal: %+v", v)
		}
	}
}

func TestEngine_ChangeRate(t *testing.T) {
	tests := []struct {
		name string
		last byte
		next byte
		rate float64
		max  float64
		want Reason
	}{
		{"within rate", 100, 104, 5, 255, ReasonNormal},
		{"at rate", 100, 105, 5, 255, ReasonNormal},
		{"jump up", 100, 150, 5, 255, ReasonChangeRate},
		{"jump down", 100, 50, 5, 255, ReasonChangeRate},
		{"counter wraps forward", 254, 0, 2, 255, ReasonNormal},
		{"counter wraps backward", 1, 254, 3, 255, ReasonNormal},
		{"wrapped band misses", 254, 100, 2, 255, ReasonChangeRate},
		{"constant signal changes", 10, 200, 0, 255, ReasonChangeRate},
		{"constant signal holds", 10, 10, 0, 255, ReasonNormal},
		{"wide rate reaches by wrapping", 10, 90, 70, 100, ReasonNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, oneSignalRule(0x100, sigPedal, kb.Range{Min: 0, Max: tt.max}, tt.rate))
			expectVerdict(t, e, frame(0x100, 1, tt.last), ReasonBootstrap)
			expectVerdict(t, e, frame(0x100, 2, tt.next), tt.want)
		})
	}
}

func TestOutsideTrajectory(t *testing.T) {
	tests := []struct {
		name                  string
		value, last, rate, mx float64
		want                  bool
	}{
		{"small change", 12, 10, 5, 100, false},
		{"inside unreachable arc", 50, 10, 5, 100, true},
		{"just past upper bound", 15.5, 10, 5, 100, true},
		{"wrapped upper bound is reachable", 2, 98, 5, 100, false},
		{"wrapped lower bound is reachable", 97, 1, 5, 100, false},
		{"exactly on minPos is not strictly inside", 95, 0, 5, 100, false},
		{"band wraps below zero", 50, 2, 5, 100, true},
		{"band covers circle", 60, 10, 50, 100, false},
		{"rate over half circle wraps down", 90, 10, 70, 100, false},
		{"rate over half circle wraps up", 5, 80, 70, 100, false},
		{"zero rate rejects change", 200, 10, 0, 255, true},
		{"zero rate rejects wrapped change", 0, 254, 0, 255, true},
		{"zero rate accepts no change", 10, 10, 0, 255, false},
		{"zero rate linear", 11, 10, 0, 0, true},
		{"linear above", 20, 10, 5, 0, true},
		{"linear below", 4, 10, 5, 0, true},
		{"linear within", 14, 10, 5, 0, false},
		{"negative max is linear", 20, 10, 5, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := outsideTrajectory(tt.value, tt.last, tt.value-tt.last, tt.rate, tt.mx)
			if got != tt.want {
				t.Errorf("outsideTrajectory(%v, last=%v, rate=%v, max=%v) = %v, want %v",
					tt.value, tt.last, tt.rate, tt.mx, got, tt.want)
			}
		})
	}
}

func TestEngine_RelationRoundTrip(t *testing.T) {
	newEngine := func(t *testing.T) *Engine {
		return newTestEngine(t,
			oneSignalRule(0x100, sigPedal, kb.Range{Min: 0, Max: 255}, 255,
				kb.Relation{TargetFrame: 0x200, TargetSignal: sigSpeed, Correlation: kb.Positive}),
			oneSignalRule(0x200, sigSpeed, kb.Range{Min: 0, Max: 255}, 255),
		)
	}

	t.Run("decrease after positive increase is anomalous", func(t *testing.T) {
		e := newEngine(t)
		expectVerdict(t, e, frame(0x100, 1, 10), ReasonBootstrap)
		expectVerdict(t, e, frame(0x200, 1, 50), ReasonBootstrap)

		expectVerdict(t, e, frame(0x100, 2, 20), ReasonNormal)
		if c, ok := e.Pending(sigSpeed); !ok || c != kb.Positive {
			t.Fatalf("expected positive flag for speed, got %v %v", c, ok)
		}

		v := expectVerdict(t, e, frame(0x200, 2, 40), ReasonRelation)
		if v.Signal != sigSpeed {
			t.Errorf("relation verdict should name the target: %+v", v)
		}
		if _, ok := e.Pending(sigSpeed); ok {
			t.Error("flag should be consumed even when the check fails")
		}
		expectVerdict(t, e, frame(0x200, 3, 30), ReasonNormal)
	})

	t.Run("increase after positive increase is normal", func(t *testing.T) {
		e := newEngine(t)
		expectVerdict(t, e, frame(0x100, 1, 10), ReasonBootstrap)
		expectVerdict(t, e, frame(0x200, 1, 50), ReasonBootstrap)
		expectVerdict(t, e, frame(0x100, 2, 20), ReasonNormal)
		expectVerdict(t, e, frame(0x200, 2, 60), ReasonNormal)
		if e.PendingRelations() != 0 {
			t.Errorf("PendingRelations() = %d, want 0", e.PendingRelations())
		}
		expectVerdict(t, e, frame(0x200, 3, 10), ReasonNormal)
	})

	t.Run("decrease of source expects decrease of target", func(t *testing.T) {
		e := newEngine(t)
		expectVerdict(t, e, frame(0x100, 1, 10), ReasonBootstrap)
		expectVerdict(t, e, frame(0x200, 1, 50), ReasonBootstrap)
		expectVerdict(t, e, frame(0x100, 2, 5), ReasonNormal)
		if c, _ := e.Pending(sigSpeed); c != kb.Negative {
			t.Fatalf("expected negative flag, got %v", c)
		}
		// A negative flag rejects a zero change.
		expectVerdict(t, e, frame(0x200, 2, 50), ReasonRelation)
	})
}

func TestEngine_FirstPendingWins(t *testing.T) {
	e := newTestEngine(t,
		&kb.Frame{
			ID:  0x300,
			DLC: 2,
			Signals: []kb.SignalRule{
				{ID: sigFirst, Range: kb.Range{Max: 255}, Rate: 255,
					Relations: []kb.Relation{{TargetSignal: sigSpeed, Correlation: kb.Positive}}},
				{ID: sigSecond, Range: kb.Range{Max: 255}, Rate: 255,
					Relations: []kb.Relation{{TargetSignal: sigSpeed, Correlation: kb.Negative}}},
			},
		},
		oneSignalRule(0x200, sigSpeed, kb.Range{Max: 255}, 255),
	)

	expectVerdict(t, e, frame(0x300, 1, 10, 10), ReasonBootstrap)
	expectVerdict(t, e, frame(0x200, 1, 50), ReasonBootstrap)

	// Both signals rise: First asks speed to rise, Second asks it to fall.
	expectVerdict(t, e, frame(0x300, 2, 20, 20), ReasonNormal)
	if c, _ := e.Pending(sigSpeed); c != kb.Positive {
		t.Fatalf("expected the first flag to win, got %v", c)
	}
	expectVerdict(t, e, frame(0x200, 2, 60), ReasonNormal)
}

func TestEngine_RuleOrderIndependentOfDecodeOrder(t *testing.T) {
	// Rules listed in the reverse of the decode order still match.
	e := newTestEngine(t, &kb.Frame{
		ID:  0x300,
		DLC: 2,
		Signals: []kb.SignalRule{
			{ID: sigSecond, Range: kb.Range{Max: 100}, Rate: 255},
			{ID: sigFirst, Range: kb.Range{Max: 100}, Rate: 255},
		},
	})

	expectVerdict(t, e, frame(0x300, 1, 1, 2), ReasonBootstrap)
	expectVerdict(t, e, frame(0x300, 2, 3, 4), ReasonNormal)
	v := expectVerdict(t, e, frame(0x300, 3, 200, 4), ReasonValueRange)
	if v.Signal != sigFirst {
		t.Errorf("expected First to fail, got %s", v.Signal)
	}
}

func TestEngine_MissingSignal(t *testing.T) {
	ghost := models.EncodeSignalID(0x100, 20, 4)
	e := newTestEngine(t, &kb.Frame{
		ID:      0x100,
		DLC:     1,
		Signals: []kb.SignalRule{{ID: ghost, Range: kb.Range{Max: 15}}},
	})

	expectVerdict(t, e, frame(0x100, 1, 1), ReasonBootstrap)
	v := expectVerdict(t, e, frame(0x100, 2, 1), ReasonMissingSignal)
	if v.Signal != ghost {
		t.Errorf("expected missing signal %s, got %s", ghost, v.Signal)
	}
}

func TestEngine_PeriodicTiming(t *testing.T) {
	rule := func() *kb.Frame {
		f := oneSignalRule(0x100, sigPedal, kb.Range{Max: 255}, 255)
		f.Periodic = true
		f.Interval = kb.Interval{Min: 10, Max: 20}
		return f
	}

	tests := []struct {
		next float64
		want Reason
	}{
		{115, ReasonNormal},
		{110, ReasonNormal},
		{120, ReasonNormal},
		{125, ReasonTiming},
		{105, ReasonTiming},
	}
	for _, tt := range tests {
		e := newTestEngine(t, rule())
		expectVerdict(t, e, frame(0x100, 100, 1), ReasonBootstrap)
		expectVerdict(t, e, frame(0x100, tt.next, 1), tt.want)
	}

	// The baseline moves even when the window check fails.
	e := newTestEngine(t, rule())
	expectVerdict(t, e, frame(0x100, 100, 1), ReasonBootstrap)
	expectVerdict(t, e, frame(0x100, 125, 1), ReasonTiming)
	expectVerdict(t, e, frame(0x100, 140, 1), ReasonNormal)
}

func TestEngine_ResetAndClose(t *testing.T) {
	e := newTestEngine(t,
		oneSignalRule(0x100, sigPedal, kb.Range{Max: 255}, 255,
			kb.Relation{TargetSignal: sigSpeed, Correlation: kb.Positive}),
		oneSignalRule(0x200, sigSpeed, kb.Range{Max: 255}, 255),
	)

	expectVerdict(t, e, frame(0x100, 1, 1), ReasonBootstrap)
	expectVerdict(t, e, frame(0x200, 1, 1), ReasonBootstrap)
	expectVerdict(t, e, frame(0x100, 2, 2), ReasonNormal)
	if e.TrackedIDs() != 2 || e.PendingRelations() != 1 {
		t.Fatalf("tracked=%d pending=%d", e.TrackedIDs(), e.PendingRelations())
	}

	e.Reset()
	if e.TrackedIDs() != 0 || e.PendingRelations() != 0 {
		t.Errorf("Reset left state: tracked=%d pending=%d", e.TrackedIDs(), e.PendingRelations())
	}
	if e.Released() != 2 {
		t.Errorf("Released() = %d, want 2", e.Released())
	}
	expectVerdict(t, e, frame(0x100, 3, 1), ReasonBootstrap)

	e.Close()
	e.Close()
	if e.Released() != 3 {
		t.Errorf("Released() = %d, want 3 (each record exactly once)", e.Released())
	}
}

func TestEngine_IndependentInstances(t *testing.T) {
	rule := oneSignalRule(0x100, sigPedal, kb.Range{Max: 255}, 255)
	k := kb.New()
	if err := k.Register(rule); err != nil {
		t.Fatal(err)
	}
	table := newTestTable(t)

	a := NewEngine(k, table)
	b := NewEngine(k, table, WithBuckets(7))

	expectVerdict(t, a, frame(0x100, 1, 1), ReasonBootstrap)
	expectVerdict(t, b, frame(0x100, 1, 1), ReasonBootstrap)
	expectVerdict(t, a, frame(0x100, 2, 1), ReasonNormal)
	if b.TrackedIDs() != 1 {
		t.Error("engines must not share state")
	}
}
