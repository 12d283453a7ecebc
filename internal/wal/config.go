// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package wal

import "time"

// Config configures the alert write-ahead log.
type Config struct {
	// Enabled routes event bus alerts through the log.
	Enabled bool   `koanf:"enabled" json:"enabled"`
	Path    string `koanf:"path" json:"path" validate:"required_if=Enabled true InMemory false"`
	// InMemory keeps entries only for the life of the process.
	InMemory   bool `koanf:"in_memory" json:"in_memory"`
	SyncWrites bool `koanf:"sync_writes" json:"sync_writes"`

	RetryInterval time.Duration `koanf:"retry_interval" json:"retry_interval"`
	// MaxRetries drops an entry after this many failed deliveries.
	MaxRetries int `koanf:"max_retries" json:"max_retries" validate:"gte=0"`
	// RetryBackoff is the base of the exponential backoff.
	RetryBackoff time.Duration `koanf:"retry_backoff" json:"retry_backoff"`
	// EntryTTL drops undelivered entries older than this.
	EntryTTL time.Duration `koanf:"entry_ttl" json:"entry_ttl"`
	// ConfirmedTTL is how long delivered entries are kept for inspection.
	ConfirmedTTL time.Duration `koanf:"confirmed_ttl" json:"confirmed_ttl"`
	// SendTimeout bounds one delivery attempt.
	SendTimeout time.Duration `koanf:"send_timeout" json:"send_timeout"`

	// GCInterval is how often value-log GC runs for an on-disk log.
	GCInterval   time.Duration `koanf:"gc_interval" json:"gc_interval"`
	GCRatio      float64       `koanf:"gc_ratio" json:"gc_ratio" validate:"gte=0,lt=1"`
	CloseTimeout time.Duration `koanf:"close_timeout" json:"close_timeout"`
}

// DefaultConfig favours durability over throughput.
func DefaultConfig() Config {
	return Config{
		SyncWrites:    true,
		RetryInterval: 30 * time.Second,
		MaxRetries:    100,
		RetryBackoff:  5 * time.Second,
		EntryTTL:      24 * time.Hour,
		ConfirmedTTL:  time.Hour,
		SendTimeout:   10 * time.Second,
		GCInterval:    10 * time.Minute,
		GCRatio:       0.5,
		CloseTimeout:  30 * time.Second,
	}
}

// withDefaults fills zero durations so a partially set Config is usable.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.EntryTTL <= 0 {
		c.EntryTTL = d.EntryTTL
	}
	if c.ConfirmedTTL <= 0 {
		c.ConfirmedTTL = d.ConfirmedTTL
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.GCRatio == 0 {
		c.GCRatio = d.GCRatio
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = d.CloseTimeout
	}
	return c
}
