// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package eventbus

import "time"

// DefaultTopic is the topic alerts are published on.
const DefaultTopic = "cansentry.alerts"

// Config configures the alert bus.
type Config struct {
	Enabled        bool                 `koanf:"enabled" json:"enabled"`
	Topic          string               `koanf:"topic" json:"topic" validate:"required_if=Enabled true"`
	NATS           NATSConfig           `koanf:"nats" json:"nats"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker" json:"circuit_breaker"`
	// BufferSize is the per-subscriber buffer of the in-process channel.
	BufferSize int64 `koanf:"buffer_size" json:"buffer_size" validate:"gte=0"`
}

// NATSConfig selects a NATS server instead of the in-process channel.
type NATSConfig struct {
	Enabled       bool          `koanf:"enabled" json:"enabled"`
	URL           string        `koanf:"url" json:"url" validate:"required_if=Enabled true"`
	MaxReconnects int           `koanf:"max_reconnects" json:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait" json:"reconnect_wait"`
	// ReconnectBuffer is the number of bytes buffered while disconnected.
	ReconnectBuffer int `koanf:"reconnect_buffer" json:"reconnect_buffer"`
	// Embedded starts a local server; URL is then replaced by its address.
	Embedded EmbeddedConfig `koanf:"embedded" json:"embedded"`
}

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	Name             string        `koanf:"name" json:"name"`
	MaxRequests      uint32        `koanf:"max_requests" json:"max_requests"`
	Interval         time.Duration `koanf:"interval" json:"interval"`
	Timeout          time.Duration `koanf:"timeout" json:"timeout"`
	FailureThreshold uint32        `koanf:"failure_threshold" json:"failure_threshold" validate:"gte=1"`
}

// DefaultConfig returns an in-process bus.
func DefaultConfig() Config {
	return Config{
		Topic:          DefaultTopic,
		BufferSize:     256,
		CircuitBreaker: DefaultCircuitBreakerConfig("eventbus"),
		NATS: NATSConfig{
			URL:             "nats://127.0.0.1:4222",
			MaxReconnects:   -1,
			ReconnectWait:   2 * time.Second,
			ReconnectBuffer: 8 * 1024 * 1024,
			Embedded: EmbeddedConfig{
				Host:         "127.0.0.1",
				Port:         4222,
				ReadyTimeout: 10 * time.Second,
			},
		},
	}
}

// DefaultCircuitBreakerConfig returns production defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}
