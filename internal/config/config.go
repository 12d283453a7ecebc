// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package config

import (
	"time"

	"github.com/tomtom215/cansentry/internal/alerts"
	"github.com/tomtom215/cansentry/internal/cache"
	"github.com/tomtom215/cansentry/internal/detection"
	"github.com/tomtom215/cansentry/internal/eventbus"
	"github.com/tomtom215/cansentry/internal/ingest"
	"github.com/tomtom215/cansentry/internal/logging"
	"github.com/tomtom215/cansentry/internal/wal"
)

// Config is the complete cansentry configuration.
type Config struct {
	Logging   LoggingConfig           `koanf:"logging"`
	Input     ingest.Config           `koanf:"input"`
	Rules     RulesConfig             `koanf:"rules"`
	Detection DetectionConfig         `koanf:"detection"`
	Alerts    AlertsConfig            `koanf:"alerts"`
	EventBus  eventbus.Config         `koanf:"eventbus"`
	Outbox    wal.Config              `koanf:"outbox"`
	Webhook   detection.WebhookConfig `koanf:"webhook"`
	API       APIConfig               `koanf:"api"`
}

// LoggingConfig mirrors logging.Config for file and env loading.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Logging converts to the logging package's configuration.
func (c LoggingConfig) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Level
	cfg.Format = c.Format
	cfg.Caller = c.Caller
	return cfg
}

// RulesConfig locates the message definitions and the knowledge base.
type RulesConfig struct {
	DBCPath string `koanf:"dbc_path" validate:"required"`
	KBPath  string `koanf:"kb_path" validate:"required"`
}

// DetectionConfig tunes the engine and the monitor around it.
type DetectionConfig struct {
	// Buckets sizes the engine's keyed tables.
	Buckets int                     `koanf:"buckets" validate:"gte=1"`
	Monitor detection.MonitorConfig `koanf:"monitor"`
}

// Alert store backends.
const (
	AlertBackendMemory = "memory"
	AlertBackendBadger = "badger"
	AlertBackendNone   = "none"
)

// AlertsConfig selects where alerts are journaled.
type AlertsConfig struct {
	Backend string `koanf:"backend" validate:"oneof=memory badger none"`
	// Capacity bounds the memory backend.
	Capacity int `koanf:"capacity" validate:"gte=1"`
	// Badger is validated only when selected.
	Badger alerts.BadgerConfig `koanf:"badger" validate:"-"`
}

// APIConfig configures the HTTP API and websocket stream.
type APIConfig struct {
	Enabled    bool   `koanf:"enabled"`
	ListenAddr string `koanf:"listen_addr" validate:"required_if=Enabled true"`
	// CORSOrigins also gates websocket origins.
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	// StatsInterval is how often stats_update is pushed to websocket
	// clients. Zero disables the push.
	StatsInterval time.Duration `koanf:"stats_interval"`
	// AlertsCacheTTL caches alert query results. Zero disables caching.
	AlertsCacheTTL time.Duration `koanf:"alerts_cache_ttl"`
	// Relay feeds websocket clients from the event bus instead of the local
	// monitor, for API-only deployments.
	Relay bool `koanf:"relay"`
}

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Input: ingest.Config{
			Kind: ingest.KindCandump,
			Serial: ingest.SerialConfig{
				BaudRate:    115200,
				Bitrate:     500000,
				ReadTimeout: 100 * time.Millisecond,
			},
		},
		Detection: DetectionConfig{
			Buckets: cache.DefaultBuckets,
			Monitor: detection.DefaultMonitorConfig(),
		},
		Alerts: AlertsConfig{
			Backend:  AlertBackendMemory,
			Capacity: alerts.DefaultMemoryCapacity,
			Badger: alerts.BadgerConfig{
				GCInterval:   10 * time.Minute,
				GCRatio:      0.5,
				CloseTimeout: 5 * time.Second,
			},
		},
		EventBus: eventbus.DefaultConfig(),
		Outbox:   wal.DefaultConfig(),
		Webhook: detection.WebhookConfig{
			RateLimitMs: 500,
			Timeout:     10 * time.Second,
		},
		API: APIConfig{
			Enabled:           true,
			ListenAddr:        ":8080",
			CORSOrigins:       []string{},
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			StatsInterval:     5 * time.Second,
			AlertsCacheTTL:    2 * time.Second,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}
