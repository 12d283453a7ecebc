// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/cansentry/internal/detection"
	"github.com/tomtom215/cansentry/internal/logging"
)

func testAlert() *detection.Alert {
	return &detection.Alert{
		ID:         "3f0c6f53-6f3a-4a55-9a69-0d4f0d1c2b7e",
		RunID:      "ab12cd34",
		FrameID:    0x20e,
		BusTime:    3.5,
		DetectedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Reason:     detection.ReasonBitPattern,
		Severity:   detection.SeverityCritical,
		DLC:        8,
		Payload:    "4E2003A0C63F8FFF",
	}
}

func TestAlertPublisher_InProcessRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	p, err := NewAlertPublisher(cfg, logging.NewWatermillAdapter())
	if err != nil {
		t.Fatalf("NewAlertPublisher() error = %v", err)
	}
	defer p.Close()

	if p.Name() != "eventbus" {
		t.Errorf("Name() = %q, want eventbus", p.Name())
	}
	if !p.Enabled() {
		t.Error("publisher should be enabled")
	}
	if p.Topic() != DefaultTopic {
		t.Errorf("Topic() = %q, want %q", p.Topic(), DefaultTopic)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := p.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := p.Send(context.Background(), testAlert()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case msg := <-messages:
		msg.Ack()
		metadata := map[string]string{
			MetadataReason:   "bit_pattern",
			MetadataSeverity: "critical",
			MetadataFrameID:  "526",
			MetadataRunID:    "ab12cd34",
		}
		for key, want := range metadata {
			if got := msg.Metadata.Get(key); got != want {
				t.Errorf("metadata %s = %q, want %q", key, got, want)
			}
		}

		got, err := DecodeMessage(msg)
		if err != nil {
			t.Fatalf("DecodeMessage() error = %v", err)
		}
		if got.ID != testAlert().ID {
			t.Errorf("ID = %q, want %q", got.ID, testAlert().ID)
		}
		if got.Payload != "4E2003A0C63F8FFF" {
			t.Errorf("Payload = %q, want 4E2003A0C63F8FFF", got.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for alert message")
	}
}

func TestAlertPublisher_Closed(t *testing.T) {
	p, err := NewAlertPublisher(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewAlertPublisher() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if p.Enabled() {
		t.Error("closed publisher should not be enabled")
	}
	if err := p.Send(context.Background(), testAlert()); !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("Send() error = %v, want ErrPublisherClosed", err)
	}
	if _, err := p.Subscribe(context.Background()); !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("Subscribe() error = %v, want ErrPublisherClosed", err)
	}
}

type failingPublisher struct {
	calls int
}

func (f *failingPublisher) Publish(string, ...*message.Message) error {
	f.calls++
	return errors.New("broker unavailable")
}

func (f *failingPublisher) Close() error { return nil }

func TestAlertPublisher_CircuitBreakerOpens(t *testing.T) {
	failing := &failingPublisher{}
	cbCfg := DefaultCircuitBreakerConfig("test-breaker")
	cbCfg.FailureThreshold = 2
	cbCfg.Timeout = time.Minute

	p := &AlertPublisher{
		cfg:       Config{Topic: DefaultTopic},
		publisher: failing,
		breaker:   NewCircuitBreaker(cbCfg),
		logger:    logging.NewWatermillAdapter(),
		shared:    true,
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := p.Send(ctx, testAlert()); err == nil {
			t.Fatalf("Send() #%d should fail", i+1)
		}
	}
	if state := p.BreakerState(); state != "open" {
		t.Errorf("BreakerState() = %q, want open", state)
	}

	if err := p.Send(ctx, testAlert()); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Send() error = %v, want ErrOpenState", err)
	}
	if failing.calls != 2 {
		t.Errorf("broker calls = %d, want 2: open breaker must not reach the broker", failing.calls)
	}
}

func TestNewMessage_GeneratesIDWhenMissing(t *testing.T) {
	a := testAlert()
	a.ID = ""
	a.RunID = ""
	msg, err := NewMessage(a)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	if msg.UUID == "" {
		t.Error("message UUID should be generated")
	}
	if got := msg.Metadata.Get(MetadataRunID); got != "" {
		t.Errorf("run ID metadata = %q, want empty", got)
	}
}
