// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

/*
Package logging provides the zerolog-based global logger used by every
cansentry component.

# Quick Start

	logging.Init(logging.Config{Level: "info", Format: "json"})

	logging.Info().Str("dbc", path).Int("messages", n).Msg("Message definitions loaded")
	logging.Error().Err(err).Msg("Alert publish failed")

# Adapters

Third-party libraries log through the same stream:
  - SlogHandler / NewSlogLogger for sutureslog (supervisor events)
  - WatermillAdapter for the watermill alert bus

# Context

A run ID is attached to the context of every replay or serve session and an
HTTP request ID to every API request. Ctx(ctx) returns a logger carrying
both.

# Best Practices

Always terminate log chains with .Msg() or .Send():

	logging.Info().Str("key", "value").Msg("message")  // Correct
	logging.Info().Str("key", "value")                 // WRONG - log not emitted
*/
package logging
