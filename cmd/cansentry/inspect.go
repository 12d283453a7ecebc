// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package main

import (
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cansentry/internal/dbc"
	"github.com/tomtom215/cansentry/internal/kb"
	"github.com/tomtom215/cansentry/internal/logging"
)

type inspectDump struct {
	Messages []*dbc.MessageDef `json:"messages"`
	Warnings []dbc.Warning     `json:"warnings"`
	Rules    []*kb.Frame       `json:"rules"`
}

func runInspect(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbcPath := fs.String("dbc", "", "message definition file (required)")
	kbPath := fs.String("kb", "", "knowledge base feed, .yaml or .json (required)")
	asJSON := fs.Bool("json", false, "print as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *dbcPath == "" || *kbPath == "" {
		fmt.Fprintln(stderr, "inspect: -dbc and -kb are required")
		fs.Usage()
		return 2
	}

	logging.Init(logging.Config{Level: "warn", Format: "console", Timestamp: true, Output: stderr})

	table, rules, err := loadRules(*dbcPath, *kbPath)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load rules")
		return 1
	}

	if *asJSON {
		dump := inspectDump{
			Messages: table.Messages(),
			Warnings: table.Warnings(),
			Rules:    rules.Frames(),
		}
		if dump.Warnings == nil {
			dump.Warnings = []dbc.Warning{}
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(dump); err != nil {
			logging.Error().Err(err).Msg("Failed to write dump")
			return 1
		}
		return 0
	}

	if err := writeInspect(stdout, table, rules); err != nil {
		logging.Error().Err(err).Msg("Failed to write dump")
		return 1
	}
	return 0
}

func writeInspect(w io.Writer, table *dbc.Table, rules *kb.KnowledgeBase) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "MESSAGES (%d)\n", table.Len())
	for _, m := range table.Messages() {
		fmt.Fprintf(tw, "0x%03X\t%s\tdlc=%d\t%s\n", m.FrameID, m.Name, m.DLC, m.Sender)
		for _, s := range m.Signals {
			fmt.Fprintf(tw, "\t  %s\t%s\tstart=%d len=%d %s\n", s.ID, s.Name, s.StartBit, s.Length, s.ByteOrder)
		}
	}

	if warnings := table.Warnings(); len(warnings) > 0 {
		fmt.Fprintf(tw, "\nSKIPPED LINES (%d)\n", len(warnings))
		for _, warn := range warnings {
			fmt.Fprintf(tw, "%s\n", warn)
		}
	}

	fmt.Fprintf(tw, "\nRULES (%d)\n", rules.Len())
	for _, f := range rules.Frames() {
		fmt.Fprintf(tw, "0x%03X\tdlc=%d", f.ID, f.DLC)
		if f.Periodic {
			fmt.Fprintf(tw, "\tinterval=[%g, %g]", f.Interval.Min, f.Interval.Max)
		}
		fmt.Fprintln(tw)
		for i, p := range f.BitPatterns {
			if p.Mask != 0 {
				fmt.Fprintf(tw, "\t  byte %d\tmask=%08b expect=%08b\n", i, p.Mask, p.Expected)
			}
		}
		for _, s := range f.Signals {
			fmt.Fprintf(tw, "\t  %s\trange=[%g, %g] rate=%g\n", s.ID, s.Range.Min, s.Range.Max, s.Rate)
			for _, rel := range s.Relations {
				fmt.Fprintf(tw, "\t    -> %s\t%s (frame 0x%03X)\n", rel.TargetSignal, rel.Correlation, rel.TargetFrame)
			}
		}
	}
	return tw.Flush()
}
