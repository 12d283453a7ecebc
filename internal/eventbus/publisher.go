// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/cansentry/internal/detection"
	"github.com/tomtom215/cansentry/internal/logging"
)

// ErrPublisherClosed is returned after Close.
var ErrPublisherClosed = errors.New("publisher is closed")

// Metadata keys set on every alert message.
const (
	MetadataReason   = "reason"
	MetadataSeverity = "severity"
	MetadataFrameID  = "frame_id"
	MetadataRunID    = "run_id"
)

// AlertPublisher publishes alerts as JSON watermill messages. It implements
// detection.Notifier.
type AlertPublisher struct {
	cfg       Config
	publisher message.Publisher
	// subscriber is the matching subscriber for the configured backend.
	subscriber message.Subscriber
	// shared is set when publisher and subscriber are one pub/sub.
	shared  bool
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// NewAlertPublisher connects to the configured backend.
func NewAlertPublisher(cfg Config, logger watermill.LoggerAdapter) (*AlertPublisher, error) {
	if logger == nil {
		logger = logging.NewWatermillAdapter()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}

	p := &AlertPublisher{
		cfg:     cfg,
		breaker: NewCircuitBreaker(cfg.CircuitBreaker),
		logger:  logger,
	}

	if !cfg.NATS.Enabled {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: cfg.BufferSize}, logger)
		p.publisher = ch
		p.subscriber = ch
		p.shared = true
		logging.Info().Str("topic", cfg.Topic).Msg("Alert bus using in-process channel")
		return p, nil
	}

	natsOpts := natsOptions(cfg.NATS, logger)
	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.NATS.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}
	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.NATS.URL,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		SubscribersCount: 1,
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		pub.Close()
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}
	p.publisher = pub
	p.subscriber = sub

	logging.Info().Str("url", cfg.NATS.URL).Str("topic", cfg.Topic).Msg("Alert bus using NATS")
	return p, nil
}

func natsOptions(cfg NATSConfig, logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
}

// Name returns the notifier name.
func (p *AlertPublisher) Name() string { return "eventbus" }

// Enabled reports whether the publisher accepts alerts.
func (p *AlertPublisher) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}

// Topic returns the topic alerts are published on.
func (p *AlertPublisher) Topic() string { return p.cfg.Topic }

// NewMessage converts an alert into a watermill message.
func NewMessage(alert *detection.Alert) (*message.Message, error) {
	payload, err := json.Marshal(alert)
	if err != nil {
		return nil, fmt.Errorf("marshal alert: %w", err)
	}
	id := alert.ID
	if id == "" {
		id = watermill.NewUUID()
	}
	msg := message.NewMessage(id, payload)
	msg.Metadata.Set(MetadataReason, string(alert.Reason))
	msg.Metadata.Set(MetadataSeverity, string(alert.Severity))
	msg.Metadata.Set(MetadataFrameID, strconv.FormatUint(uint64(alert.FrameID), 10))
	if alert.RunID != "" {
		msg.Metadata.Set(MetadataRunID, alert.RunID)
	}
	return msg, nil
}

// DecodeMessage is the inverse of NewMessage.
func DecodeMessage(msg *message.Message) (*detection.Alert, error) {
	var alert detection.Alert
	if err := json.Unmarshal(msg.Payload, &alert); err != nil {
		return nil, fmt.Errorf("unmarshal alert: %w", err)
	}
	return &alert, nil
}

// Send publishes alert through the circuit breaker.
func (p *AlertPublisher) Send(ctx context.Context, alert *detection.Alert) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	msg, err := NewMessage(alert)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)

	_, err = p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.publisher.Publish(p.cfg.Topic, msg)
	})
	if err != nil {
		return fmt.Errorf("publish alert %s: %w", alert.ID, err)
	}
	return nil
}

// Subscribe returns the alert stream of the configured backend.
func (p *AlertPublisher) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPublisherClosed
	}
	return p.subscriber.Subscribe(ctx, p.cfg.Topic)
}

// BreakerState returns the circuit breaker state name.
func (p *AlertPublisher) BreakerState() string {
	return p.breaker.State().String()
}

// Close closes the publisher and subscriber.
func (p *AlertPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if err := p.publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	if !p.shared {
		if err := p.subscriber.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
