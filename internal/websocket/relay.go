// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package websocket

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/cansentry/internal/eventbus"
	"github.com/tomtom215/cansentry/internal/logging"
	"github.com/tomtom215/cansentry/internal/metrics"
)

// AlertSubscriber yields alert messages from the event bus.
type AlertSubscriber interface {
	Subscribe(ctx context.Context) (<-chan *message.Message, error)
}

// AlertRelay forwards alerts published on the event bus to websocket
// clients. It lets an API process serve alerts produced by a detector
// running elsewhere.
type AlertRelay struct {
	hub        *Hub
	subscriber AlertSubscriber
}

// NewAlertRelay creates a relay from subscriber to hub.
func NewAlertRelay(hub *Hub, subscriber AlertSubscriber) *AlertRelay {
	return &AlertRelay{hub: hub, subscriber: subscriber}
}

// Serve relays messages until ctx is done or the subscription closes.
func (r *AlertRelay) Serve(ctx context.Context) error {
	messages, err := r.subscriber.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to alerts: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.relay(msg)
		}
	}
}

func (r *AlertRelay) relay(msg *message.Message) {
	alert, err := eventbus.DecodeMessage(msg)
	if err != nil {
		// Poison messages are acked so they are not redelivered forever.
		metrics.RecordIngestError("relay", "decode")
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping undecodable alert message")
		msg.Ack()
		return
	}
	r.hub.BroadcastJSON(MessageTypeDetectionAlert, alert)
	msg.Ack()
}

// String implements fmt.Stringer for supervisor logging.
func (r *AlertRelay) String() string {
	return "alert-relay"
}
