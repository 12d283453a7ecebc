// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

// Package detection classifies CAN frames against a knowledge base of
// expected frame layouts and signal behaviour.
//
// Detection Architecture:
//
//	LiveFrame -> Engine.Evaluate -> Verdict
//	                                   |
//	                        Monitor (anomalous only)
//	                                   |
//	                    Alert -> AlertStore / Notifiers / Broadcaster
//
// Engine evaluates a frame in a fixed order and stops at the first failure:
//
//  1. Unknown ID: the frame has no knowledge-base entry
//  2. DLC: the length differs from the expected one
//  3. Bit patterns: fixed bits of a payload byte differ
//  4. Bootstrap: first observation of an ID is accepted and stored
//  5. Per signal: presence, range, change rate, pending correlation flags
//  6. Timing: periodic frames must arrive inside their interval
//
// Every frame is decoded before the checks run, so Verdict.Fallback and the
// frame's decoded signals are available even for unknown IDs.
//
// An Engine is not safe for concurrent use. Monitor wraps one engine with a
// mutex and is the type the ingest loop and the HTTP API share.
package detection
