// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/tomtom215/cansentry/internal/ingest"
	"github.com/tomtom215/cansentry/internal/logging"
	"github.com/tomtom215/cansentry/internal/validation"
)

// Validate checks struct constraints and the rules that span sections.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}

	var errs []error
	if c.Alerts.Backend == AlertBackendBadger {
		if err := validation.Struct(&c.Alerts.Badger); err != nil {
			errs = append(errs, fmt.Errorf("alerts.badger: %w", err))
		}
	}
	if c.Input.Kind == ingest.KindSLCAN {
		if _, err := c.Input.Serial.Normalize(); err != nil {
			errs = append(errs, fmt.Errorf("input.serial: %w", err))
		}
	}
	if c.API.Relay && !c.EventBus.Enabled {
		errs = append(errs, errors.New("api.relay requires eventbus.enabled"))
	}
	if c.API.Relay && !c.EventBus.NATS.Enabled {
		errs = append(errs, errors.New("api.relay requires eventbus.nats.enabled: the in-process bus has no remote publishers"))
	}
	if c.EventBus.NATS.Embedded.Enabled && !c.EventBus.NATS.Enabled {
		errs = append(errs, errors.New("eventbus.nats.embedded requires eventbus.nats.enabled"))
	}
	if c.Outbox.Enabled && !c.EventBus.Enabled {
		errs = append(errs, errors.New("outbox.enabled requires eventbus.enabled"))
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		errs = append(errs, errors.New("webhook.url is required when webhook.enabled"))
	}
	return errors.Join(errs...)
}

// ShouldWarnAboutCORS reports a wildcard CORS origin.
func (c *Config) ShouldWarnAboutCORS() bool {
	return slices.Contains(c.API.CORSOrigins, "*")
}

// LogSummary writes the effective configuration at info level, without
// header values or credentials.
func (c *Config) LogSummary() {
	logging.Info().
		Str("input_kind", c.Input.Kind).
		Str("input_path", c.Input.Path).
		Str("dbc", c.Rules.DBCPath).
		Str("kb", c.Rules.KBPath).
		Str("alert_backend", c.Alerts.Backend).
		Bool("eventbus", c.EventBus.Enabled).
		Bool("nats", c.EventBus.NATS.Enabled).
		Bool("outbox", c.Outbox.Enabled).
		Bool("webhook", c.Webhook.Enabled).
		Bool("api", c.API.Enabled).
		Str("listen_addr", c.API.ListenAddr).
		Msg("configuration loaded")
}
