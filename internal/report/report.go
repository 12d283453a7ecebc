// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

// Package report summarises a replay: verdict counts, detection quality
// against labelled logs and per-frame detection latency.
package report

import (
	"fmt"
	"io"
	"math"
	"slices"
	"sort"
	"text/tabwriter"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/tomtom215/cansentry/internal/detection"
	"github.com/tomtom215/cansentry/internal/ingest"
)

// Confusion counts labelled frames by outcome. Attack is the positive class.
type Confusion struct {
	TruePositive  int64 `json:"true_positive"`
	FalsePositive int64 `json:"false_positive"`
	TrueNegative  int64 `json:"true_negative"`
	FalseNegative int64 `json:"false_negative"`
}

// Total returns the number of labelled frames.
func (c Confusion) Total() int64 {
	return c.TruePositive + c.FalsePositive + c.TrueNegative + c.FalseNegative
}

// Precision is TP / (TP + FP), or 0 when nothing was flagged.
func (c Confusion) Precision() float64 {
	return ratio(c.TruePositive, c.TruePositive+c.FalsePositive)
}

// Recall is TP / (TP + FN), or 0 when there were no attacks.
func (c Confusion) Recall() float64 {
	return ratio(c.TruePositive, c.TruePositive+c.FalseNegative)
}

// F1 is the harmonic mean of precision and recall.
func (c Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is the share of labelled frames classified correctly.
func (c Confusion) Accuracy() float64 {
	return ratio(c.TruePositive+c.TrueNegative, c.Total())
}

func ratio(a, b int64) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// Latency describes detection time per frame in microseconds.
type Latency struct {
	MeanUS   float64 `json:"mean_us"`
	StdDevUS float64 `json:"stddev_us"`
	P50US    float64 `json:"p50_us"`
	P99US    float64 `json:"p99_us"`
	MaxUS    float64 `json:"max_us"`
	TotalMS  float64 `json:"total_ms"`
}

// Summary is the result of a replay.
type Summary struct {
	Source      string           `json:"source"`
	Frames      int64            `json:"frames"`
	Anomalies   int64            `json:"anomalies"`
	AnomalyRate float64          `json:"anomaly_rate"`
	Fallbacks   int64            `json:"fallbacks"`
	ByReason    map[string]int64 `json:"by_reason"`
	BusSpan     float64          `json:"bus_span_seconds"`
	Labelled    bool             `json:"labelled"`
	Confusion   *Confusion       `json:"confusion,omitempty"`
	Precision   float64          `json:"precision,omitempty"`
	Recall      float64          `json:"recall,omitempty"`
	F1          float64          `json:"f1,omitempty"`
	Accuracy    float64          `json:"accuracy,omitempty"`
	Latency     Latency          `json:"latency"`
	WallTime    time.Duration    `json:"wall_time_ns"`
}

// Collector accumulates verdicts. It is not safe for concurrent use.
type Collector struct {
	source    string
	started   time.Time
	frames    int64
	anomalies int64
	fallbacks int64
	byReason  map[detection.Reason]int64
	confusion Confusion
	latencies []float64
	firstBus  float64
	lastBus   float64
}

// NewCollector creates a collector for the named source.
func NewCollector(source string) *Collector {
	return &Collector{
		source:   source,
		started:  time.Now(),
		byReason: make(map[detection.Reason]int64),
	}
}

// Add records one classified frame.
func (c *Collector) Add(rec *ingest.Record, v detection.Verdict, elapsed time.Duration) {
	if c.frames == 0 {
		c.firstBus = rec.Frame.Timestamp
	}
	c.lastBus = rec.Frame.Timestamp
	c.frames++
	c.byReason[v.Reason]++
	if v.Anomalous {
		c.anomalies++
	}
	if v.Fallback {
		c.fallbacks++
	}
	c.latencies = append(c.latencies, float64(elapsed.Nanoseconds())/1e3)

	switch rec.Label {
	case ingest.LabelAttack:
		if v.Anomalous {
			c.confusion.TruePositive++
		} else {
			c.confusion.FalseNegative++
		}
	case ingest.LabelBenign:
		if v.Anomalous {
			c.confusion.FalsePositive++
		} else {
			c.confusion.TrueNegative++
		}
	}
}

// Summary computes the summary of everything added so far.
func (c *Collector) Summary() Summary {
	s := Summary{
		Source:      c.source,
		Frames:      c.frames,
		Anomalies:   c.anomalies,
		AnomalyRate: ratio(c.anomalies, c.frames),
		Fallbacks:   c.fallbacks,
		ByReason:    make(map[string]int64, len(c.byReason)),
		BusSpan:     c.lastBus - c.firstBus,
		WallTime:    time.Since(c.started),
		Latency:     latencyOf(c.latencies),
	}
	for r, n := range c.byReason {
		s.ByReason[string(r)] = n
	}
	if c.confusion.Total() > 0 {
		conf := c.confusion
		s.Labelled = true
		s.Confusion = &conf
		s.Precision = conf.Precision()
		s.Recall = conf.Recall()
		s.F1 = conf.F1()
		s.Accuracy = conf.Accuracy()
	}
	return s
}

func latencyOf(samples []float64) Latency {
	if len(samples) == 0 {
		return Latency{}
	}
	sorted := slices.Clone(samples)
	sort.Float64s(sorted)

	var l Latency
	l.MeanUS, l.StdDevUS = stat.MeanStdDev(sorted, nil)
	if math.IsNaN(l.StdDevUS) {
		l.StdDevUS = 0
	}
	l.P50US = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	l.P99US = stat.Quantile(0.99, stat.Empirical, sorted, nil)
	l.MaxUS = sorted[len(sorted)-1]
	l.TotalMS = floats.Sum(sorted) / 1e3
	return l
}

// WriteText prints a human-readable summary.
func (s Summary) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "source\t%s\n", s.Source)
	fmt.Fprintf(tw, "frames\t%d\n", s.Frames)
	fmt.Fprintf(tw, "anomalies\t%d (%.2f%%)\n", s.Anomalies, 100*s.AnomalyRate)
	fmt.Fprintf(tw, "undefined messages\t%d\n", s.Fallbacks)
	fmt.Fprintf(tw, "bus span\t%.3fs\n", s.BusSpan)

	reasons := make([]string, 0, len(s.ByReason))
	for r := range s.ByReason {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(tw, "  %s\t%d\n", r, s.ByReason[r])
	}

	if s.Confusion != nil {
		c := s.Confusion
		fmt.Fprintf(tw, "confusion\tTP=%d FP=%d TN=%d FN=%d\n",
			c.TruePositive, c.FalsePositive, c.TrueNegative, c.FalseNegative)
		fmt.Fprintf(tw, "precision\t%.4f\n", s.Precision)
		fmt.Fprintf(tw, "recall\t%.4f\n", s.Recall)
		fmt.Fprintf(tw, "f1\t%.4f\n", s.F1)
		fmt.Fprintf(tw, "accuracy\t%.4f\n", s.Accuracy)
	}

	fmt.Fprintf(tw, "latency mean\t%.2fus (sd %.2f)\n", s.Latency.MeanUS, s.Latency.StdDevUS)
	fmt.Fprintf(tw, "latency p50/p99/max\t%.2f / %.2f / %.2f us\n", s.Latency.P50US, s.Latency.P99US, s.Latency.MaxUS)
	fmt.Fprintf(tw, "detection time\t%.3fms\n", s.Latency.TotalMS)
	fmt.Fprintf(tw, "wall time\t%s\n", s.WallTime.Round(time.Millisecond))
	return tw.Flush()
}
