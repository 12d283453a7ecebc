// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package detection

import (
	"math"

	"github.com/tomtom215/cansentry/internal/cache"
	"github.com/tomtom215/cansentry/internal/dbc"
	"github.com/tomtom215/cansentry/internal/kb"
	"github.com/tomtom215/cansentry/internal/models"
)

// idState is the retained observation of one frame ID.
type idState struct {
	last models.LiveFrame
}

// Engine classifies frames against a knowledge base. It keeps per-ID state
// and pending correlation flags between calls.
//
// An Engine is single-threaded: calls must not overlap. Use a Monitor, or
// one Engine per bus, for concurrent ingestion. The knowledge base and the
// message table are only read and may be shared between engines.
type Engine struct {
	rules *kb.KnowledgeBase
	table *dbc.Table

	states  *cache.KeyedStore[*idState]
	pending *cache.KeyedStore[kb.Correlation]

	// prev holds the state being replaced during the current evaluation.
	prev models.LiveFrame
	// index maps the current frame's signal IDs to their positions.
	index map[models.SignalID]int

	released int
}

// Option configures an Engine.
type Option func(*Engine)

// WithBuckets sets the bucket count of the state and pending tables.
func WithBuckets(n int) Option {
	return func(e *Engine) {
		e.states = cache.NewKeyedStore[*idState](n, e.releaseState)
		e.pending = cache.NewKeyedStore[kb.Correlation](n, cache.NoRelease[kb.Correlation])
	}
}

// NewEngine creates an engine over a loaded knowledge base and message table.
func NewEngine(rules *kb.KnowledgeBase, table *dbc.Table, opts ...Option) *Engine {
	e := &Engine{
		rules: rules,
		table: table,
		index: make(map[models.SignalID]int, 16),
	}
	WithBuckets(cache.DefaultBuckets)(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// releaseState is the owning release policy of the state table.
func (e *Engine) releaseState(_ uint32, s *idState) {
	s.last.Signals = nil
	e.released++
}

// Classify reports whether f is anomalous.
func (e *Engine) Classify(f *models.LiveFrame) bool {
	return e.Evaluate(f).Anomalous
}

// Evaluate runs the checks on f in order and stops at the first failure.
// The decoded signals are written to f.Signals.
func (e *Engine) Evaluate(f *models.LiveFrame) Verdict {
	v := Verdict{FrameID: f.ID}

	rule, known := e.rules.Lookup(f.ID)

	var found bool
	f.Signals, found = e.table.Decode(f, f.Signals)
	v.Fallback = !found

	if !known {
		return v.fail(ReasonUnknownID)
	}
	if f.DLC != rule.DLC {
		return v.fail(ReasonDLCMismatch)
	}
	for i, b := range f.Payload() {
		if !rule.BitPatterns[i].Matches(b) {
			return v.fail(ReasonBitPattern)
		}
	}

	state, seen := e.states.Lookup(f.ID)
	if !seen {
		state = &idState{}
		state.last.CopyFrom(f)
		e.states.Insert(f.ID, state)
		v.Reason = ReasonBootstrap
		return v
	}

	// Rotate: prev is "last", the stored state becomes "this". The stored
	// timestamp is only advanced by the periodicity check.
	e.prev.CopyFrom(&state.last)
	state.last.Signals = append(state.last.Signals[:0], f.Signals...)
	state.last.DLC = f.DLC
	state.last.Data = f.Data

	clear(e.index)
	for i, s := range f.Signals {
		e.index[s.ID] = i
	}

	for i := range rule.Signals {
		if r, bad := e.checkSignal(&rule.Signals[i], f, &v); bad {
			return v.fail(r)
		}
	}

	if rule.Periodic {
		lo := state.last.Timestamp + rule.Interval.Min
		hi := state.last.Timestamp + rule.Interval.Max
		state.last.Timestamp = f.Timestamp
		if f.Timestamp < lo || f.Timestamp > hi {
			return v.fail(ReasonTiming)
		}
	}

	v.Reason = ReasonNormal
	return v
}

func (v *Verdict) fail(r Reason) Verdict {
	v.Anomalous = true
	v.Reason = r
	return *v
}

// checkSignal evaluates one signal rule. It returns the failing reason, if
// any, and records the offending signal in v.
func (e *Engine) checkSignal(sr *kb.SignalRule, f *models.LiveFrame, v *Verdict) (Reason, bool) {
	v.Signal = sr.ID
	v.HasSignal = true

	idx, ok := e.index[sr.ID]
	if !ok {
		return ReasonMissingSignal, true
	}
	value := f.Signals[idx].Value
	v.Value = value

	if !sr.Range.Contains(value) {
		return ReasonValueRange, true
	}

	last := e.previousValue(sr.ID, idx)
	delta := value - last

	if outsideTrajectory(value, last, delta, sr.Rate, sr.Range.Max) {
		return ReasonChangeRate, true
	}

	if want, pending := e.pending.Lookup(uint32(sr.ID)); pending {
		e.pending.Remove(uint32(sr.ID))
		if (want == kb.Positive && delta < 0) || (want == kb.Negative && delta >= 0) {
			return ReasonRelation, true
		}
	}

	for _, rel := range sr.Relations {
		expected := kb.Negative
		if (rel.Correlation == kb.Positive) == (delta > 0) {
			expected = kb.Positive
		}
		// First pending flag wins until the target consumes it.
		e.pending.Insert(uint32(rel.TargetSignal), expected)
	}

	v.HasSignal = false
	v.Signal = 0
	v.Value = 0
	return "", false
}

// previousValue returns the value id had in the previous observation. The
// decoder emits signals in a fixed order, so the same index is tried first.
func (e *Engine) previousValue(id models.SignalID, idx int) float64 {
	if idx < len(e.prev.Signals) && e.prev.Signals[idx].ID == id {
		return e.prev.Signals[idx].Value
	}
	v, _ := e.prev.Signal(id)
	return v
}

// outsideTrajectory reports whether a change of delta (from last to value)
// exceeds the allowed rate and lands on the unreachable part of the value
// space.
//
// With max > 0 values wrap modulo max. The reachable band around last runs
// from minPos = (last-rate) mod max up through maxPos = (last+rate) mod max;
// the open arc from maxPos up to minPos is unreachable. A rate of at least
// half the circle reaches every value; a rate of zero reaches only last.
// Without wrapping the unreachable region is everything above last+rate or
// below last-rate.
func outsideTrajectory(value, last, delta, rate, max float64) bool {
	if math.Abs(delta) <= rate {
		return false
	}
	if max <= 0 {
		return value > last+rate || value < last-rate
	}
	if 2*rate >= max {
		return false
	}
	if rate == 0 {
		return value != last
	}

	maxPos := wrap(last+rate, max)
	minPos := wrap(last-rate+max, max)
	if maxPos < minPos {
		return value > maxPos && value < minPos
	}
	return value > maxPos || value < minPos
}

func wrap(x, m float64) float64 {
	r := math.Mod(x, m)
	if r < 0 {
		r += m
	}
	return r
}

// TrackedIDs returns the number of frame IDs with retained state.
func (e *Engine) TrackedIDs() int {
	return e.states.Len()
}

// PendingRelations returns the number of unconsumed correlation flags.
func (e *Engine) PendingRelations() int {
	return e.pending.Len()
}

// Pending returns the flag pending for a target signal.
func (e *Engine) Pending(id models.SignalID) (kb.Correlation, bool) {
	return e.pending.Lookup(uint32(id))
}

// Released returns how many state records have been released so far.
func (e *Engine) Released() int {
	return e.released
}

// Reset drops all per-ID state and pending flags. The next frame of every ID
// bootstraps again.
func (e *Engine) Reset() {
	e.states.Clear()
	e.pending.Clear()
	e.prev = models.LiveFrame{}
	clear(e.index)
}

// Close releases every table. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.Reset()
}
