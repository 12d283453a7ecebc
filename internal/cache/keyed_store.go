// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package cache

// DefaultBuckets is the bucket count used when a store is created with a
// non-positive size. CAN buses rarely carry more than a few hundred IDs, so
// chains stay short.
const DefaultBuckets = 50

// ReleaseFunc is invoked exactly once for every record leaving a KeyedStore,
// either through Remove or Clear.
type ReleaseFunc[V any] func(key uint32, value V)

// NoRelease is the release policy for tables that do not own their records.
func NoRelease[V any](uint32, V) {}

type keyedNode[V any] struct {
	key   uint32
	value V
	next  *keyedNode[V]
}

// KeyedStore maps 32-bit keys to records using a fixed bucket array with
// chaining. The table never resizes. Inserting an existing key fails
// instead of overwriting, which is what the detection engine relies on for
// first-writer-wins bookkeeping.
//
// KeyedStore is not safe for concurrent use; its owner serialises access.
type KeyedStore[V any] struct {
	buckets []*keyedNode[V]
	release ReleaseFunc[V]
	size    int
}

// NewKeyedStore creates a store with the given number of buckets and release
// policy. A nil release policy behaves like NoRelease.
func NewKeyedStore[V any](buckets int, release ReleaseFunc[V]) *KeyedStore[V] {
	if buckets <= 0 {
		buckets = DefaultBuckets
	}
	if release == nil {
		release = NoRelease[V]
	}
	return &KeyedStore[V]{
		buckets: make([]*keyedNode[V], buckets),
		release: release,
	}
}

func (s *KeyedStore[V]) bucket(key uint32) int {
	return int(key % uint32(len(s.buckets)))
}

// Insert stores value under key. It returns false and leaves the existing
// record untouched when key is already present.
func (s *KeyedStore[V]) Insert(key uint32, value V) bool {
	idx := s.bucket(key)
	for n := s.buckets[idx]; n != nil; n = n.next {
		if n.key == key {
			return false
		}
	}
	s.buckets[idx] = &keyedNode[V]{key: key, value: value, next: s.buckets[idx]}
	s.size++
	return true
}

// Lookup returns the record stored under key.
func (s *KeyedStore[V]) Lookup(key uint32) (V, bool) {
	for n := s.buckets[s.bucket(key)]; n != nil; n = n.next {
		if n.key == key {
			return n.value, true
		}
	}
	var zero V
	return zero, false
}

// Contains reports whether key is present.
func (s *KeyedStore[V]) Contains(key uint32) bool {
	_, ok := s.Lookup(key)
	return ok
}

// Remove deletes key, running the release policy on the removed record.
// It returns false when key was absent.
func (s *KeyedStore[V]) Remove(key uint32) bool {
	idx := s.bucket(key)
	var prev *keyedNode[V]
	for n := s.buckets[idx]; n != nil; n = n.next {
		if n.key != key {
			prev = n
			continue
		}
		if prev == nil {
			s.buckets[idx] = n.next
		} else {
			prev.next = n.next
		}
		s.size--
		s.release(n.key, n.value)
		return true
	}
	return false
}

// ForEach calls fn for every record until fn returns false. Iteration order
// is bucket order and is not stable across inserts.
func (s *KeyedStore[V]) ForEach(fn func(key uint32, value V) bool) {
	for _, head := range s.buckets {
		for n := head; n != nil; n = n.next {
			if !fn(n.key, n.value) {
				return
			}
		}
	}
}

// Len returns the number of stored records.
func (s *KeyedStore[V]) Len() int {
	return s.size
}

// Clear removes every record, releasing each one exactly once.
func (s *KeyedStore[V]) Clear() {
	for i, head := range s.buckets {
		for n := head; n != nil; {
			next := n.next
			s.release(n.key, n.value)
			n = next
		}
		s.buckets[i] = nil
	}
	s.size = 0
}
