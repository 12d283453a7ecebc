// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/cansentry/internal/detection"
	"github.com/tomtom215/cansentry/internal/ingest"
	"github.com/tomtom215/cansentry/internal/logging"
	"github.com/tomtom215/cansentry/internal/metrics"
	"github.com/tomtom215/cansentry/internal/models"
	"github.com/tomtom215/cansentry/internal/report"
)

// FrameProcessor classifies frames. Satisfied by *detection.Monitor.
type FrameProcessor interface {
	Process(ctx context.Context, f *models.LiveFrame) (detection.Verdict, *detection.Alert)
}

// SourceOpener opens the frame source. It is called on every (re)start so a
// serial adapter that dropped off the bus is reopened.
type SourceOpener func() (ingest.Source, error)

// DetectionService reads frames from a source and feeds them to a monitor.
//
// When a finite source is exhausted the service stops for good. With
// ExitOnEOF set it also calls the shutdown callback so the whole tree ends.
//
// Example usage:
//
//	svc := services.NewDetectionService(
//	    func() (ingest.Source, error) { return ingest.Open(cfg.Input) },
//	    monitor,
//	    services.WithExitOnEOF(cancel),
//	)
//	tree.AddIngestService(svc)
type DetectionService struct {
	open      SourceOpener
	processor FrameProcessor
	exitOnEOF bool
	shutdown  func()
	runID     string
	name      string

	processed atomic.Int64

	mu      sync.Mutex
	summary *report.Summary
}

// DetectionOption configures a DetectionService.
type DetectionOption func(*DetectionService)

// WithExitOnEOF calls shutdown once the source is exhausted.
func WithExitOnEOF(shutdown func()) DetectionOption {
	return func(d *DetectionService) {
		d.exitOnEOF = true
		d.shutdown = shutdown
	}
}

// WithRunID tags every log line of the service with the monitor's run ID.
func WithRunID(id string) DetectionOption {
	return func(d *DetectionService) {
		d.runID = id
	}
}

// NewDetectionService creates a detection service.
func NewDetectionService(open SourceOpener, processor FrameProcessor, opts ...DetectionOption) *DetectionService {
	d := &DetectionService{
		open:      open,
		processor: processor,
		name:      "detection",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Processed returns the number of frames handled across restarts.
func (d *DetectionService) Processed() int64 {
	return d.processed.Load()
}

// Summary returns the report of the last completed replay, if any.
func (d *DetectionService) Summary() (report.Summary, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.summary == nil {
		return report.Summary{}, false
	}
	return *d.summary, true
}

// Serve implements suture.Service.
func (d *DetectionService) Serve(ctx context.Context) error {
	if d.runID != "" {
		ctx = logging.ContextWithRunID(ctx, d.runID)
	}
	src, err := d.open()
	if err != nil {
		return fmt.Errorf("open frame source: %w", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logging.Warn().Err(cerr).Str("source", src.Name()).Msg("failed to close frame source")
		}
	}()

	logger := logging.Ctx(ctx)
	logger.Info().Str("source", src.Name()).Msg("detection started")
	collector := report.NewCollector(src.Name())

	for {
		rec, err := src.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			summary := collector.Summary()
			d.mu.Lock()
			d.summary = &summary
			d.mu.Unlock()

			logger.Info().
				Str("source", src.Name()).
				Int64("frames", summary.Frames).
				Int64("anomalies", summary.Anomalies).
				Float64("bus_span_seconds", summary.BusSpan).
				Msg("frame source exhausted")

			if d.exitOnEOF && d.shutdown != nil {
				d.shutdown()
			}
			return suture.ErrDoNotRestart
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			metrics.RecordIngestError(src.Name(), "read")
			return fmt.Errorf("read %s: %w", src.Name(), err)
		}

		start := time.Now()
		verdict, _ := d.processor.Process(ctx, &rec.Frame)
		collector.Add(rec, verdict, time.Since(start))
		d.processed.Add(1)
	}
}

// String implements fmt.Stringer for logging.
func (d *DetectionService) String() string {
	return d.name
}
