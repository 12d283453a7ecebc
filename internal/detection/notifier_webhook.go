// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package detection

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// EventTypeAlert is the event type carried by alert deliveries.
const EventTypeAlert = "detection_alert"

// WebhookNotifier posts alerts to an HTTP endpoint.
type WebhookNotifier struct {
	mu          sync.RWMutex
	webhookURL  string
	headers     map[string]string
	enabled     bool
	minSeverity Severity

	client  *http.Client
	limiter *rate.Limiter
}

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	URL     string            `koanf:"url" json:"url" validate:"omitempty,url"`
	Headers map[string]string `koanf:"headers" json:"headers,omitempty"`
	Enabled bool              `koanf:"enabled" json:"enabled"`
	// RateLimitMs is the minimum spacing between deliveries.
	RateLimitMs int `koanf:"rate_limit_ms" json:"rate_limit_ms" validate:"gte=0"`
	// MinSeverity drops alerts below this severity. Empty sends everything.
	MinSeverity Severity      `koanf:"min_severity" json:"min_severity" validate:"omitempty,oneof=info warning critical"`
	Timeout     time.Duration `koanf:"timeout" json:"timeout"`
}

// WebhookPayload is the JSON body sent to the endpoint.
type WebhookPayload struct {
	Alert     *Alert    `json:"alert"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(config WebhookConfig) *WebhookNotifier {
	spacing := time.Duration(config.RateLimitMs) * time.Millisecond
	if spacing <= 0 {
		spacing = 500 * time.Millisecond
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebhookNotifier{
		webhookURL:  config.URL,
		headers:     maps.Clone(config.Headers),
		enabled:     config.Enabled,
		minSeverity: config.MinSeverity,
		client:      &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Every(spacing), 1),
	}
}

// Name returns the notifier name.
func (n *WebhookNotifier) Name() string {
	return "webhook"
}

// Enabled returns whether this notifier is enabled.
func (n *WebhookNotifier) Enabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled && n.webhookURL != ""
}

// SetEnabled enables or disables the notifier.
func (n *WebhookNotifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// SetWebhookURL updates the endpoint.
func (n *WebhookNotifier) SetWebhookURL(url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.webhookURL = url
}

// SetHeaders replaces the custom headers.
func (n *WebhookNotifier) SetHeaders(headers map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.headers = maps.Clone(headers)
}

// Send delivers an alert. It blocks while the rate limiter is saturated.
func (n *WebhookNotifier) Send(ctx context.Context, alert *Alert) error {
	n.mu.RLock()
	if !n.enabled || n.webhookURL == "" {
		n.mu.RUnlock()
		return nil
	}
	webhookURL := n.webhookURL
	headers := maps.Clone(n.headers)
	minSeverity := n.minSeverity
	n.mu.RUnlock()

	if !alert.Severity.AtLeast(minSeverity) {
		return nil
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(WebhookPayload{
		Alert:     alert,
		EventType: EventTypeAlert,
		Timestamp: time.Now(),
		Source:    "cansentry",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
