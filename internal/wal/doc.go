// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

// Package wal is a BadgerDB write-ahead log for alert delivery.
//
// An alert is persisted before it is handed to the downstream notifier
// (normally the event bus). A successful delivery confirms the entry; a
// failed one leaves it pending for the RetryLoop, which republishes with
// exponential backoff until the entry is delivered, expires or runs out of
// attempts. Pending entries survive a restart when the log is on disk.
//
//	alert -> WAL Write -> notifier.Send -> WAL Confirm
//	                            | (error)
//	                            v
//	                     RetryLoop (backoff)
//
// Outbox wraps a detection.Notifier so the monitor needs no knowledge of
// the log.
package wal
