// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

/*
Package models defines the data types shared across cansentry.

Key Types:
  - SignalID: frameID<<16 | startBit<<8 | length, the join key between the
    message-definition decoder and the knowledge base
  - DecodedSignal: one value extracted from a payload
  - LiveFrame: an observed frame with its decoded signals
  - APIResponse: standard HTTP response envelope

Signal IDs are built in exactly one place, EncodeSignalID. The decoder and the
rule loader both call it, so a rule written for Sig_0x20e_13_12 matches the
signal decoded from frame 0x20e starting at bit 13 with width 12:

	id := models.EncodeSignalID(0x20e, 13, 12) // 34475276

Thread Safety:

All types are plain values. Slices inside LiveFrame are owned by whoever
holds the frame; the detection engine copies what it retains.
*/
package models
