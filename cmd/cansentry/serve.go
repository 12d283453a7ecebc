// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/cansentry/internal/alerts"
	"github.com/tomtom215/cansentry/internal/api"
	"github.com/tomtom215/cansentry/internal/config"
	"github.com/tomtom215/cansentry/internal/detection"
	"github.com/tomtom215/cansentry/internal/eventbus"
	"github.com/tomtom215/cansentry/internal/ingest"
	"github.com/tomtom215/cansentry/internal/logging"
	"github.com/tomtom215/cansentry/internal/supervisor"
	"github.com/tomtom215/cansentry/internal/supervisor/services"
	"github.com/tomtom215/cansentry/internal/wal"
	ws "github.com/tomtom215/cansentry/internal/websocket"
)

// serveFlags are the command-line overrides of serve. Only flags that were
// set on the command line are applied.
type serveFlags struct {
	set      map[string]bool
	input    string
	format   string
	dbcPath  string
	kbPath   string
	addr     string
	logLevel string
	exitEOF  bool
}

func (f *serveFlags) apply(c *config.Config) {
	if f.set["input"] {
		c.Input.Path = f.input
		if !f.set["format"] {
			c.Input.Kind = ingest.KindFromPath(f.input)
		}
	}
	if f.set["format"] {
		c.Input.Kind = f.format
	}
	if f.set["dbc"] {
		c.Rules.DBCPath = f.dbcPath
	}
	if f.set["kb"] {
		c.Rules.KBPath = f.kbPath
	}
	if f.set["addr"] {
		c.API.ListenAddr = f.addr
	}
	if f.set["log-level"] {
		c.Logging.Level = f.logLevel
	}
	if f.set["exit-on-eof"] {
		c.Input.ExitOnEOF = f.exitEOF
	}
}

func runServe(args []string, stderr io.Writer) int {
	flags := serveFlags{set: make(map[string]bool)}
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file (default: $CONFIG_PATH, ./cansentry.yaml, /etc/cansentry/config.yaml)")
	fs.StringVar(&flags.input, "input", "", "frame source: log file, capture or serial device")
	fs.StringVar(&flags.format, "format", "", "source kind: candump, pcap or slcan (default: from the path)")
	fs.StringVar(&flags.dbcPath, "dbc", "", "message definition file")
	fs.StringVar(&flags.kbPath, "kb", "", "knowledge base feed")
	fs.StringVar(&flags.addr, "addr", "", "HTTP listen address")
	fs.StringVar(&flags.logLevel, "log-level", "", "log level")
	fs.BoolVar(&flags.exitEOF, "exit-on-eof", false, "stop once a finite source is exhausted")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	fs.Visit(func(f *flag.Flag) { flags.set[f.Name] = true })

	cfg, err := config.Load(*configPath, flags.apply)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(cfg.Logging.Logging())

	return serve(cfg)
}

//nolint:gocyclo // sequential wiring of the supervisor tree
func serve(cfg *config.Config) int {
	logging.Info().Str("version", version).Msg("Starting cansentry with supervisor tree")
	cfg.LogSummary()

	if cfg.ShouldWarnAboutCORS() {
		logging.Warn().Msg("CORS allows any origin (api.cors_origins contains *); websocket origins are unchecked too")
	}
	if cfg.API.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (api.rate_limit_disabled=true)")
	}

	table, rules, err := loadRules(cfg.Rules.DBCPath, cfg.Rules.KBPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load rules")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore, journal, err := openAlertStore(cfg.Alerts)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to open alert store")
		return 1
	}
	defer func() {
		if err := closeStore(); err != nil {
			logging.Error().Err(err).Msg("Error closing alert store")
		}
	}()

	if cfg.EventBus.Enabled && cfg.EventBus.NATS.Embedded.Enabled {
		embedded, err := eventbus.NewEmbeddedServer(cfg.EventBus.NATS.Embedded)
		if err != nil {
			logging.Error().Err(err).Msg("Failed to start embedded NATS server")
			return 1
		}
		defer func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
			defer cancelShutdown()
			if err := embedded.Shutdown(shutdownCtx); err != nil {
				logging.Error().Err(err).Msg("Error stopping embedded NATS server")
			}
		}()
		cfg.EventBus.NATS.URL = embedded.ClientURL()
		logging.Info().Str("url", embedded.ClientURL()).Msg("Embedded NATS server started")
	}

	var publisher *eventbus.AlertPublisher
	if cfg.EventBus.Enabled {
		publisher, err = eventbus.NewAlertPublisher(cfg.EventBus, logging.NewWatermillAdapter())
		if err != nil {
			logging.Error().Err(err).Msg("Failed to create alert bus")
			return 1
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing alert bus")
			}
		}()
	}

	hub := ws.NewHub()

	monitorOpts := []detection.MonitorOption{}
	if store != nil {
		monitorOpts = append(monitorOpts, detection.WithAlertStore(store))
	}
	if cfg.API.Enabled && !cfg.API.Relay {
		monitorOpts = append(monitorOpts, detection.WithBroadcaster(hub))
	}
	engine := detection.NewEngine(rules, table, detection.WithBuckets(cfg.Detection.Buckets))
	monitor := detection.NewMonitor(engine, cfg.Detection.Monitor, monitorOpts...)
	// Closed before the publisher and the store so in-flight notifications
	// complete first.
	defer func() {
		if err := monitor.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing monitor")
		}
	}()
	logging.Info().Str("run_id", monitor.RunID()).Msg("Detection engine initialized")

	var outbox *wal.BadgerWAL
	if publisher != nil {
		var notifier detection.Notifier = publisher
		if cfg.Outbox.Enabled {
			outbox, err = wal.Open(cfg.Outbox)
			if err != nil {
				logging.Error().Err(err).Msg("Failed to open alert WAL")
				return 1
			}
			// Registered after the monitor's Close, so it runs first and
			// in-flight sends finish before the log closes.
			defer func() {
				if err := outbox.Close(); err != nil {
					logging.Error().Err(err).Msg("Error closing alert WAL")
				}
			}()
			notifier = wal.NewOutbox(outbox, publisher)
		}
		monitor.RegisterNotifier(notifier)
		logging.Info().Str("topic", publisher.Topic()).Bool("outbox", outbox != nil).Msg("Alert bus notifier registered")
	}
	if cfg.Webhook.Enabled {
		monitor.RegisterNotifier(detection.NewWebhookNotifier(cfg.Webhook))
		logging.Info().Int("rate_limit_ms", cfg.Webhook.RateLimitMs).Msg("Webhook notifier registered")
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.API.ShutdownTimeout,
	})
	if err != nil {
		logging.Error().Err(err).Msg("Failed to create supervisor tree")
		return 1
	}

	// === INGEST LAYER ===

	detectionOpts := []services.DetectionOption{services.WithRunID(monitor.RunID())}
	if cfg.Input.ExitOnEOF {
		detectionOpts = append(detectionOpts, services.WithExitOnEOF(cancel))
	}
	input := cfg.Input
	detectionSvc := services.NewDetectionService(
		func() (ingest.Source, error) { return ingest.Open(input) },
		monitor,
		detectionOpts...,
	)
	tree.AddIngestService(detectionSvc)
	if journal != nil {
		tree.AddIngestService(services.NewGCService("alert-journal-gc", journal))
	}
	if outbox != nil {
		tree.AddIngestService(wal.NewRetryLoop(outbox, publisher))
		if !cfg.Outbox.InMemory {
			tree.AddIngestService(services.NewGCService("alert-wal-gc", outbox))
		}
	}

	// === API LAYER ===

	if cfg.API.Enabled {
		tree.AddAPIService(services.NewWebSocketHubService(hub))
		if cfg.API.Relay {
			tree.AddAPIService(ws.NewAlertRelay(hub, publisher))
			logging.Info().Msg("Websocket clients fed from the alert bus")
		}
		if cfg.API.StatsInterval > 0 {
			tree.AddAPIService(services.NewStatsBroadcastService(monitor, hub, cfg.API.StatsInterval))
		}

		server := newHTTPServer(cfg, api.Dependencies{
			Rules:          rules,
			Messages:       table,
			Monitor:        monitor,
			Alerts:         store,
			Hub:            hub,
			Checks:         readinessChecks(publisher),
			Version:        version,
			AlertsCacheTTL: cfg.API.AlertsCacheTTL,
			AllowedOrigins: cfg.API.CORSOrigins,
		})
		tree.AddAPIService(services.NewHTTPServerService(server, cfg.API.ShutdownTimeout))
		logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")
	}

	// === START SUPERVISOR TREE ===

	logging.Info().Msg("Starting supervisor tree...")
	exitCode := 0
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
		exitCode = 1
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	stats := monitor.Stats()
	event := logging.Info().
		Int64("frames", stats.Frames).
		Int64("anomalies", stats.Anomalies).
		Int64("store_errors", stats.StoreErrors)
	if summary, ok := detectionSvc.Summary(); ok && summary.Labelled {
		event = event.Float64("precision", summary.Precision).Float64("recall", summary.Recall)
	}
	event.Msg("Application stopped gracefully")
	return exitCode
}

// openAlertStore returns a nil store for the none backend. journal is set
// only for the badger backend, which needs periodic value-log GC.
func openAlertStore(cfg config.AlertsConfig) (store detection.AlertStore, closeFn func() error, journal *alerts.BadgerStore, err error) {
	switch cfg.Backend {
	case config.AlertBackendBadger:
		journal, err = alerts.OpenBadgerStore(cfg.Badger)
		if err != nil {
			return nil, nil, nil, err
		}
		return journal, journal.Close, journal, nil
	case config.AlertBackendNone:
		return nil, func() error { return nil }, nil, nil
	default:
		mem := alerts.NewMemoryStore(cfg.Capacity)
		return mem, mem.Close, nil, nil
	}
}

// readinessChecks reports not-ready while the alert bus breaker is open.
func readinessChecks(publisher *eventbus.AlertPublisher) map[string]api.ReadinessCheck {
	checks := map[string]api.ReadinessCheck{}
	if publisher != nil {
		checks["alert_bus"] = func(context.Context) error {
			if state := publisher.BreakerState(); state == "open" {
				return errors.New("alert bus circuit breaker is open")
			}
			return nil
		}
	}
	return checks
}

func newHTTPServer(cfg *config.Config, deps api.Dependencies) *http.Server {
	mw := api.DefaultChiMiddlewareConfig()
	mw.CORSAllowedOrigins = cfg.API.CORSOrigins
	mw.RateLimitRequests = cfg.API.RateLimitRequests
	mw.RateLimitWindow = cfg.API.RateLimitWindow
	mw.RateLimitDisabled = cfg.API.RateLimitDisabled

	router := api.NewRouter(api.NewHandler(deps), mw)
	return &http.Server{
		Addr:         cfg.API.ListenAddr,
		Handler:      router.Setup(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
}
