// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package main

import (
	"fmt"

	"github.com/tomtom215/cansentry/internal/dbc"
	"github.com/tomtom215/cansentry/internal/kb"
	"github.com/tomtom215/cansentry/internal/logging"
)

// loadRules reads the message definitions and the knowledge base. Either one
// failing is fatal to the caller: there is no partial-rules mode.
func loadRules(dbcPath, kbPath string) (*dbc.Table, *kb.KnowledgeBase, error) {
	table, err := dbc.LoadFile(dbcPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load message definitions: %w", err)
	}

	rules, err := kb.LoadFile(kbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load knowledge base: %w", err)
	}

	logging.Info().
		Int("messages", table.Len()).
		Int("skipped_lines", len(table.Warnings())).
		Int("rule_frames", rules.Len()).
		Msg("Rules loaded")
	return table, rules, nil
}
