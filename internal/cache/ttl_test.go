// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package cache

import (
	"testing"
	"time"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(ttl time.Duration) (*TTLCache, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	c := New(ttl)
	c.now = clock.now
	c.stats.LastCleanup = clock.now()
	return c, clock
}

func TestTTLCache_SetGet(t *testing.T) {
	c, _ := newTestCache(time.Second)
	c.Set("a", 1)

	got, ok := c.Get("a")
	if !ok || got.(int) != 1 {
		t.Fatalf("Get(a) = %v, %v; want 1, true", got, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatal("Get(missing) should miss")
	}

	stats := c.GetStats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.TotalKeys != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if rate := c.HitRate(); rate != 50 {
		t.Errorf("HitRate() = %v, want 50", rate)
	}
}

func TestTTLCache_Expiry(t *testing.T) {
	c, clock := newTestCache(time.Second)
	c.Set("a", 1)
	c.SetWithTTL("b", 2, time.Hour)

	clock.advance(2 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Fatal("a should have expired")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("b has its own TTL and should still be cached")
	}
	if got := c.GetStats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestTTLCache_SweepOnSet(t *testing.T) {
	c, clock := newTestCache(time.Second)
	for _, k := range []string{"a", "b", "c"} {
		c.Set(k, k)
	}

	clock.advance(cleanupInterval)
	c.Set("d", "d")

	stats := c.GetStats()
	if stats.TotalKeys != 1 {
		t.Errorf("TotalKeys = %d, want 1 after sweep", stats.TotalKeys)
	}
	if stats.Evictions != 3 {
		t.Errorf("Evictions = %d, want 3", stats.Evictions)
	}
}

func TestTTLCache_DeleteClear(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("a should be deleted")
	}

	c.Clear()
	if _, ok := c.Get("b"); ok {
		t.Fatal("b should be cleared")
	}
	stats := c.GetStats()
	if stats.Evictions != 2 || stats.TotalKeys != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGenerateKey(t *testing.T) {
	type params struct {
		Limit  int    `json:"limit"`
		Reason string `json:"reason"`
	}
	k1 := GenerateKey("alerts", params{Limit: 10, Reason: "timing"})
	k2 := GenerateKey("alerts", params{Limit: 10, Reason: "timing"})
	k3 := GenerateKey("alerts", params{Limit: 20, Reason: "timing"})

	if k1 != k2 {
		t.Errorf("equal params produced %q and %q", k1, k2)
	}
	if k1 == k3 {
		t.Error("different params produced the same key")
	}
	if k1[:7] != "alerts:" {
		t.Errorf("key %q lacks method prefix", k1)
	}
}
