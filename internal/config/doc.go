// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

/*
Package config loads cansentry configuration with koanf.

Sources are layered, later ones winning:

 1. Built-in defaults (defaultConfig)
 2. A YAML file: $CONFIG_PATH, ./cansentry.yaml, ./cansentry.yml or
    /etc/cansentry/config.yaml, whichever exists first
 3. Environment variables
 4. Overrides passed by the caller, typically command line flags

Environment variables use the CANSENTRY_ prefix with a double underscore
between sections, so CANSENTRY_INPUT__EXIT_ON_EOF=true sets
input.exit_on_eof. A few short aliases are also accepted:

	LOG_LEVEL   logging.level
	LOG_FORMAT  logging.format
	HTTP_ADDR   api.listen_addr
	NATS_URL    eventbus.nats.url (and enables NATS)

List values such as api.cors_origins may be given as comma separated
strings.

Example file:

	input:
	  kind: candump
	  path: /var/log/can/drive.log
	rules:
	  dbc_path: /etc/cansentry/vehicle.dbc
	  kb_path: /etc/cansentry/kb.yaml
	alerts:
	  backend: badger
	  badger:
	    path: /var/lib/cansentry/alerts
	    retention: 168h
	api:
	  listen_addr: ":8080"
	  cors_origins: ["https://dash.example"]

The loaded configuration is validated with go-playground/validator through
internal/validation. Load fails with every violated constraint listed.
*/
package config
