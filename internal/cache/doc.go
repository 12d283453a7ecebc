// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

/*
Package cache provides the in-memory tables used by detection and the API.

# Data Structures

  - KeyedStore: fixed-bucket chained table keyed by a 32-bit ID, with a
    release policy invoked once per record that leaves the table. The
    detection engine keeps per-frame and per-signal state in it and the
    knowledge base and message table index their definitions with it.
  - SlidingWindowStore: per-ID event counts over a trailing window of bus
    time, used for alert burst counts.
  - TTLCache: string-keyed cache with expiry, used by the API for alert
    query results.

# Thread Safety

KeyedStore and SlidingWindowCounter are not synchronised; the owning
component serialises access. SlidingWindowStore and TTLCache are safe for
concurrent use.

# Usage Example

	store := cache.NewKeyedStore[*state](cache.DefaultBuckets, cache.NoRelease[*state])
	if !store.Insert(0x20e, &state{}) {
	    // already tracked
	}
	s, ok := store.Lookup(0x20e)
*/
package cache
