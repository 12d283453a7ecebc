// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package wal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for WAL operations
var (
	walWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cansentry_wal_writes_total",
		Help: "Total number of alerts written to the WAL",
	})

	walConfirmsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cansentry_wal_confirms_total",
		Help: "Total number of WAL entries confirmed as delivered",
	})

	walRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cansentry_wal_retries_total",
		Help: "Total number of failed delivery attempts recorded",
	})

	walPendingEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cansentry_wal_pending_entries",
		Help: "Current number of undelivered WAL entries",
	})

	walWriteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cansentry_wal_write_latency_seconds",
		Help:    "WAL write latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	walWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cansentry_wal_write_failures_total",
		Help: "Total number of failed WAL writes",
	})

	// walDropped counts entries abandoned without delivery, by reason.
	walDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cansentry_wal_dropped_total",
		Help: "WAL entries dropped without delivery",
	}, []string{"reason"})
)
