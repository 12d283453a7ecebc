// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

// Package alerts provides detection.AlertStore implementations.
//
// MemoryStore keeps the most recent alerts in a bounded ring and suits
// offline replays and tests. BadgerStore journals every alert to BadgerDB so
// alerts survive restarts of serve mode:
//
//	alert:<unix-nanos>:<uuid>  ->  JSON alert
//	alert_id:<uuid>            ->  primary key
//
// Keys sort by detection time, so newest-first listings are a reverse
// prefix scan.
package alerts
