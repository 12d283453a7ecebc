// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cansentry/internal/cache"
	"github.com/tomtom215/cansentry/internal/detection"
	"github.com/tomtom215/cansentry/internal/ingest"
	"github.com/tomtom215/cansentry/internal/logging"
	"github.com/tomtom215/cansentry/internal/report"
)

type detectOptions struct {
	dbcPath   string
	kbPath    string
	input     string
	format    string
	asJSON    bool
	limit     int64
	buckets   int
	anomalies bool
}

func runDetect(args []string, stdout, stderr io.Writer) int {
	var opts detectOptions
	fs := flag.NewFlagSet("detect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.dbcPath, "dbc", "", "message definition file (required)")
	fs.StringVar(&opts.kbPath, "kb", "", "knowledge base feed, .yaml or .json (required)")
	fs.StringVar(&opts.input, "input", "", "frame log to replay (required)")
	fs.StringVar(&opts.format, "format", "", "input format: candump or pcap (default: from the file name)")
	fs.BoolVar(&opts.asJSON, "json", false, "print the summary as JSON")
	fs.Int64Var(&opts.limit, "limit", 0, "stop after this many frames, 0 for the whole log")
	fs.IntVar(&opts.buckets, "buckets", cache.DefaultBuckets, "bucket count of the engine tables")
	fs.BoolVar(&opts.anomalies, "anomalies", false, "print every anomalous frame before the summary")
	logLevel := fs.String("log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if opts.dbcPath == "" || opts.kbPath == "" || opts.input == "" {
		fmt.Fprintln(stderr, "detect: -dbc, -kb and -input are required")
		fs.Usage()
		return 2
	}
	if opts.format == "" {
		opts.format = ingest.KindFromPath(opts.input)
	}
	if opts.format != ingest.KindCandump && opts.format != ingest.KindPcap {
		fmt.Fprintf(stderr, "detect: format must be candump or pcap, got %q (use serve for live adapters)\n", opts.format)
		return 2
	}

	logging.Init(logging.Config{Level: *logLevel, Format: "console", Timestamp: true, Output: stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := detect(ctx, opts, stdout)
	if err != nil {
		logging.Error().Err(err).Msg("Detection failed")
		return 1
	}

	if opts.asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(summary)
	} else {
		err = summary.WriteText(stdout)
	}
	if err != nil {
		logging.Error().Err(err).Msg("Failed to write summary")
		return 1
	}
	return 0
}

// detect replays opts.input through a fresh engine. The engine is used
// directly rather than through a Monitor so the measured latency is the
// classification alone.
func detect(ctx context.Context, opts detectOptions, out io.Writer) (report.Summary, error) {
	table, rules, err := loadRules(opts.dbcPath, opts.kbPath)
	if err != nil {
		return report.Summary{}, err
	}

	src, err := ingest.Open(ingest.Config{Kind: opts.format, Path: opts.input})
	if err != nil {
		return report.Summary{}, err
	}
	defer src.Close()

	engine := detection.NewEngine(rules, table, detection.WithBuckets(opts.buckets))
	defer engine.Close()

	collector := report.NewCollector(src.Name())
	for n := int64(0); opts.limit <= 0 || n < opts.limit; n++ {
		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report.Summary{}, fmt.Errorf("read %s: %w", src.Name(), err)
		}

		start := time.Now()
		v := engine.Evaluate(&rec.Frame)
		collector.Add(rec, v, time.Since(start))

		if opts.anomalies && v.Anomalous {
			writeAnomaly(out, rec, v)
		}
	}

	if s, ok := src.(interface{ Skipped() int }); ok && s.Skipped() > 0 {
		logging.Warn().Int("lines", s.Skipped()).Str("source", src.Name()).Msg("Skipped unparseable records")
	}
	return collector.Summary(), nil
}

func writeAnomaly(w io.Writer, rec *ingest.Record, v detection.Verdict) {
	line := fmt.Sprintf("%.6f  %03X  [%d] %-16s  %-14s", rec.Frame.Timestamp, rec.Frame.ID, rec.Frame.DLC, rec.Frame.PayloadHex(), v.Reason)
	if v.HasSignal {
		line += fmt.Sprintf("  %s=%g", v.Signal, v.Value)
	}
	if rec.Label != ingest.LabelUnknown {
		line += "  label=" + rec.Label.String()
	}
	fmt.Fprintln(w, line)
}
