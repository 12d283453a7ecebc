// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package detection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tomtom215/cansentry/internal/cache"
	"github.com/tomtom215/cansentry/internal/logging"
	"github.com/tomtom215/cansentry/internal/metrics"
	"github.com/tomtom215/cansentry/internal/models"
)

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	// BurstWindow is the bus-time window, in seconds, over which anomalies
	// of one frame ID are counted into Alert.Burst.
	BurstWindow float64 `koanf:"burst_window" json:"burst_window" validate:"gt=0"`
	// LogRate caps anomaly warnings per second. Zero disables anomaly logging.
	LogRate float64 `koanf:"log_rate" json:"log_rate" validate:"gte=0"`
	// NotifyTimeout bounds a single notifier delivery.
	NotifyTimeout time.Duration `koanf:"notify_timeout" json:"notify_timeout"`
	// AlertBootstrap records first observations of IDs as info alerts.
	AlertBootstrap bool `koanf:"alert_bootstrap" json:"alert_bootstrap"`
}

// DefaultMonitorConfig returns the defaults used by serve and detect.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		BurstWindow:   1.0,
		LogRate:       5,
		NotifyTimeout: 10 * time.Second,
	}
}

// Stats is a snapshot of monitor counters.
type Stats struct {
	RunID            string           `json:"run_id"`
	StartedAt        time.Time        `json:"started_at"`
	Frames           int64            `json:"frames"`
	Anomalies        int64            `json:"anomalies"`
	ByReason         map[Reason]int64 `json:"by_reason"`
	Fallbacks        int64            `json:"fallbacks"`
	StoreErrors      int64            `json:"store_errors"`
	LastBusTime      float64          `json:"last_bus_time"`
	TrackedIDs       int              `json:"tracked_ids"`
	PendingRelations int              `json:"pending_relations"`
}

// Monitor serialises access to an Engine and turns anomalous verdicts into
// alerts that are stored, forwarded to notifiers and broadcast.
type Monitor struct {
	mu     sync.Mutex
	engine *Engine
	config MonitorConfig
	runID  string

	store       AlertStore
	broadcaster AlertBroadcaster
	notifiers   []Notifier
	bursts      *cache.SlidingWindowStore
	logLimiter  *rate.Limiter

	stats   Stats
	pending sync.WaitGroup
}

// MonitorOption configures optional Monitor collaborators.
type MonitorOption func(*Monitor)

// WithAlertStore persists alerts to store.
func WithAlertStore(store AlertStore) MonitorOption {
	return func(m *Monitor) { m.store = store }
}

// WithBroadcaster pushes alerts to live subscribers.
func WithBroadcaster(b AlertBroadcaster) MonitorOption {
	return func(m *Monitor) { m.broadcaster = b }
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) MonitorOption {
	return func(m *Monitor) { m.runID = id }
}

// NewMonitor wraps engine. The monitor owns the engine and closes it on Close.
func NewMonitor(engine *Engine, config MonitorConfig, opts ...MonitorOption) *Monitor {
	if config.BurstWindow <= 0 {
		config.BurstWindow = DefaultMonitorConfig().BurstWindow
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = DefaultMonitorConfig().NotifyTimeout
	}

	m := &Monitor{
		engine: engine,
		config: config,
		bursts: cache.NewSlidingWindowStore(config.BurstWindow, 10),
	}
	if config.LogRate > 0 {
		m.logLimiter = rate.NewLimiter(rate.Limit(config.LogRate), int(config.LogRate)+1)
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.runID == "" {
		m.runID = logging.GenerateRunID()
	}
	m.stats = Stats{
		RunID:     m.runID,
		StartedAt: time.Now(),
		ByReason:  make(map[Reason]int64),
	}
	return m
}

// RunID identifies this monitor's alerts.
func (m *Monitor) RunID() string {
	return m.runID
}

// RegisterNotifier adds a notification channel.
func (m *Monitor) RegisterNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, n)
	logging.Info().Str("notifier", n.Name()).Bool("enabled", n.Enabled()).Msg("Registered alert notifier")
}

// Process classifies f. Anomalous frames produce an alert, which is also
// returned. Delivery failures are logged and never change the verdict.
func (m *Monitor) Process(ctx context.Context, f *models.LiveFrame) (Verdict, *Alert) {
	m.mu.Lock()
	start := time.Now()
	verdict := m.engine.Evaluate(f)
	elapsed := time.Since(start)

	m.stats.Frames++
	m.stats.ByReason[verdict.Reason]++
	m.stats.LastBusTime = f.Timestamp
	if verdict.Fallback {
		m.stats.Fallbacks++
	}
	metrics.RecordVerdict(verdict.Anomalous, string(verdict.Reason), verdict.Fallback, elapsed)
	metrics.UpdateEngineGauges(m.engine.TrackedIDs(), m.engine.PendingRelations())

	var alert *Alert
	if verdict.Anomalous || (m.config.AlertBootstrap && verdict.Reason == ReasonBootstrap) {
		var burst int64
		if verdict.Anomalous {
			m.stats.Anomalies++
			burst = m.bursts.Add(f.ID, f.Timestamp)
		}
		alert = m.newAlert(f, verdict, burst)
	}
	notifiers := m.enabledNotifiers()
	m.mu.Unlock()

	if alert == nil {
		return verdict, nil
	}

	m.logAnomaly(ctx, alert)
	m.persist(ctx, alert)
	m.notify(ctx, alert, notifiers)
	if m.broadcaster != nil {
		m.broadcaster.BroadcastJSON(EventTypeAlert, alert)
	}
	return verdict, alert
}

func (m *Monitor) newAlert(f *models.LiveFrame, v Verdict, burst int64) *Alert {
	a := &Alert{
		ID:         uuid.New().String(),
		RunID:      m.runID,
		FrameID:    f.ID,
		BusTime:    f.Timestamp,
		DetectedAt: time.Now(),
		Reason:     v.Reason,
		Severity:   v.Reason.Severity(),
		DLC:        f.DLC,
		Payload:    f.PayloadHex(),
		Burst:      burst,
	}
	if v.HasSignal {
		value := v.Value
		a.Signal = v.Signal.String()
		a.Value = &value
		a.Message = fmt.Sprintf("frame 0x%X: %s on %s (value %g)", f.ID, v.Reason, a.Signal, value)
	} else {
		a.Message = fmt.Sprintf("frame 0x%X: %s", f.ID, v.Reason)
	}
	return a
}

// enabledNotifiers must be called with mu held.
func (m *Monitor) enabledNotifiers() []Notifier {
	out := make([]Notifier, 0, len(m.notifiers))
	for _, n := range m.notifiers {
		if n.Enabled() {
			out = append(out, n)
		}
	}
	return out
}

func (m *Monitor) logAnomaly(ctx context.Context, a *Alert) {
	if m.logLimiter == nil || a.Severity == SeverityInfo || !m.logLimiter.Allow() {
		return
	}
	logging.Ctx(ctx).Warn().
		Str("alert_id", a.ID).
		Str("frame_id", fmt.Sprintf("0x%X", a.FrameID)).
		Str("reason", string(a.Reason)).
		Str("signal", a.Signal).
		Str("payload", a.Payload).
		Float64("bus_time", a.BusTime).
		Int64("burst", a.Burst).
		Msg("Anomalous frame")
}

func (m *Monitor) persist(ctx context.Context, a *Alert) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveAlert(ctx, a); err != nil {
		m.mu.Lock()
		m.stats.StoreErrors++
		m.mu.Unlock()
		metrics.AlertStoreErrors.Inc()
		logging.Error().Err(err).Str("alert_id", a.ID).Msg("failed to persist alert")
	}
}

func (m *Monitor) notify(ctx context.Context, a *Alert, notifiers []Notifier) {
	for _, n := range notifiers {
		m.pending.Add(1)
		go func(n Notifier) {
			defer m.pending.Done()
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.NotifyTimeout)
			defer cancel()
			err := n.Send(sendCtx, a)
			metrics.RecordAlertPublish(n.Name(), err)
			if err != nil {
				logging.Error().Err(err).Str("notifier", n.Name()).Str("alert_id", a.ID).Msg("failed to send alert")
			}
		}(n)
	}
}

// Flush waits for in-flight notifier deliveries.
func (m *Monitor) Flush() {
	m.pending.Wait()
}

// Stats returns a snapshot of the counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stats
	s.ByReason = make(map[Reason]int64, len(m.stats.ByReason))
	for r, n := range m.stats.ByReason {
		s.ByReason[r] = n
	}
	s.TrackedIDs = m.engine.TrackedIDs()
	s.PendingRelations = m.engine.PendingRelations()
	return s
}

// Reset drops engine state and burst counters. Counters in Stats are kept.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engine.Reset()
	m.bursts.Clear()
}

// Close waits for deliveries and releases the engine.
func (m *Monitor) Close() error {
	m.Flush()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engine.Close()
	m.bursts.Clear()
	return nil
}
