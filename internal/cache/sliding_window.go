// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package cache

import "sync"

// SlidingWindowCounter counts events over a trailing window of bus time.
// Time is supplied by the caller in seconds (the capture timestamp of the
// frame being processed) so replayed logs produce the same counts as live
// traffic.
//
// The window is split into fixed buckets held in a circular buffer:
//   - Add: O(1) amortised
//   - Count: O(k) where k = number of buckets
type SlidingWindowCounter struct {
	buckets    []int64
	bucketSize float64
	numBuckets int
	current    int
	// epoch is the bucket number (ts / bucketSize) of buckets[current].
	epoch   int64
	started bool
}

// NewSlidingWindowCounter creates a counter spanning window seconds divided
// into numBuckets buckets.
func NewSlidingWindowCounter(window float64, numBuckets int) *SlidingWindowCounter {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	if window <= 0 {
		window = 1
	}
	return &SlidingWindowCounter{
		buckets:    make([]int64, numBuckets),
		bucketSize: window / float64(numBuckets),
		numBuckets: numBuckets,
	}
}

// Add records delta events at bus time ts. Timestamps older than the current
// bucket are counted in the current bucket.
func (sw *SlidingWindowCounter) Add(ts float64, delta int64) {
	sw.advance(ts)
	sw.buckets[sw.current] += delta
}

// Count returns the number of events within the window ending at ts.
func (sw *SlidingWindowCounter) Count(ts float64) int64 {
	sw.advance(ts)
	var total int64
	for _, c := range sw.buckets {
		total += c
	}
	return total
}

// Reset clears all buckets.
func (sw *SlidingWindowCounter) Reset() {
	for i := range sw.buckets {
		sw.buckets[i] = 0
	}
	sw.current = 0
	sw.started = false
}

func (sw *SlidingWindowCounter) advance(ts float64) {
	epoch := int64(ts / sw.bucketSize)
	if !sw.started {
		sw.epoch = epoch
		sw.started = true
		return
	}
	elapsed := epoch - sw.epoch
	if elapsed <= 0 {
		return
	}
	if elapsed >= int64(sw.numBuckets) {
		for i := range sw.buckets {
			sw.buckets[i] = 0
		}
		sw.current = 0
	} else {
		for i := int64(0); i < elapsed; i++ {
			sw.current = (sw.current + 1) % sw.numBuckets
			sw.buckets[sw.current] = 0
		}
	}
	sw.epoch = epoch
}

// SlidingWindowStore keeps one SlidingWindowCounter per frame ID. It is used
// to track anomaly bursts per CAN identifier.
type SlidingWindowStore struct {
	mu         sync.Mutex
	counters   *KeyedStore[*SlidingWindowCounter]
	window     float64
	numBuckets int
}

// NewSlidingWindowStore creates a store whose counters span window seconds.
func NewSlidingWindowStore(window float64, numBuckets int) *SlidingWindowStore {
	return &SlidingWindowStore{
		counters:   NewKeyedStore[*SlidingWindowCounter](DefaultBuckets, nil),
		window:     window,
		numBuckets: numBuckets,
	}
}

// Add records one event for id at bus time ts and returns the updated count
// within the window.
func (s *SlidingWindowStore) Add(id uint32, ts float64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters.Lookup(id)
	if !ok {
		c = NewSlidingWindowCounter(s.window, s.numBuckets)
		s.counters.Insert(id, c)
	}
	c.Add(ts, 1)
	return c.Count(ts)
}

// Count returns the count for id within the window ending at ts.
func (s *SlidingWindowStore) Count(id uint32, ts float64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters.Lookup(id)
	if !ok {
		return 0
	}
	return c.Count(ts)
}

// Len returns the number of tracked IDs.
func (s *SlidingWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters.Len()
}

// Clear drops every counter.
func (s *SlidingWindowStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.Clear()
}
