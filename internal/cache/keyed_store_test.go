// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package cache

import "testing"

func TestKeyedStore_InsertLookup(t *testing.T) {
	s := NewKeyedStore[string](4, nil)

	if !s.Insert(0x20e, "a") {
		t.Fatal("Expected first insert to succeed")
	}
	if s.Insert(0x20e, "b") {
		t.Error("Expected duplicate insert to fail")
	}

	v, ok := s.Lookup(0x20e)
	if !ok || v != "a" {
		t.Errorf("Expected original value 'a', got %q (found=%v)", v, ok)
	}
	if _, ok := s.Lookup(0x20f); ok {
		t.Error("Expected missing key to be absent")
	}
	if s.Len() != 1 {
		t.Errorf("Expected len 1, got %d", s.Len())
	}
}

func TestKeyedStore_CollidingKeys(t *testing.T) {
	// With 2 buckets every even key lands in the same chain.
	s := NewKeyedStore[int](2, nil)
	keys := []uint32{0, 2, 4, 6, 8}
	for i, k := range keys {
		if !s.Insert(k, i) {
			t.Fatalf("Insert(%d) failed", k)
		}
	}

	if !s.Remove(4) {
		t.Fatal("Expected Remove(4) to succeed")
	}
	if s.Remove(4) {
		t.Error("Expected second Remove(4) to fail")
	}

	for i, k := range keys {
		v, ok := s.Lookup(k)
		if k == 4 {
			if ok {
				t.Error("Expected key 4 to be removed")
			}
			continue
		}
		if !ok || v != i {
			t.Errorf("Lookup(%d) = %d, %v; want %d, true", k, v, ok, i)
		}
	}
	if s.Len() != 4 {
		t.Errorf("Expected len 4, got %d", s.Len())
	}
}

func TestKeyedStore_ReleaseExactlyOnce(t *testing.T) {
	released := make(map[uint32]int)
	s := NewKeyedStore[*int](3, func(key uint32, _ *int) {
		released[key]++
	})

	for k := uint32(1); k <= 10; k++ {
		v := int(k)
		s.Insert(k, &v)
	}

	s.Remove(3)
	s.Remove(3)
	s.Clear()
	s.Clear()

	if len(released) != 10 {
		t.Fatalf("Expected 10 released records, got %d", len(released))
	}
	for k, n := range released {
		if n != 1 {
			t.Errorf("Key %d released %d times, want 1", k, n)
		}
	}
	if s.Len() != 0 {
		t.Errorf("Expected empty store after Clear, got %d", s.Len())
	}
}

func TestKeyedStore_ForEachStopsEarly(t *testing.T) {
	s := NewKeyedStore[int](0, NoRelease[int])
	for k := uint32(0); k < 20; k++ {
		s.Insert(k, int(k))
	}

	visited := 0
	s.ForEach(func(uint32, int) bool {
		visited++
		return visited < 5
	})
	if visited != 5 {
		t.Errorf("Expected ForEach to stop after 5 records, visited %d", visited)
	}

	sum := 0
	s.ForEach(func(_ uint32, v int) bool {
		sum += v
		return true
	})
	if sum != 190 {
		t.Errorf("Expected sum 190, got %d", sum)
	}
}

func TestKeyedStore_Contains(t *testing.T) {
	s := NewKeyedStore[struct{}](DefaultBuckets, nil)
	s.Insert(0x7ff, struct{}{})
	if !s.Contains(0x7ff) {
		t.Error("Expected Contains(0x7ff)")
	}
	if s.Contains(0x7fe) {
		t.Error("Expected !Contains(0x7fe)")
	}
}
