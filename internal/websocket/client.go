// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package websocket

import (
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/cansentry/internal/detection"
	"github.com/tomtom215/cansentry/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var clientIDCounter atomic.Uint64

// Subscription narrows the alerts a client receives. The zero value
// receives everything.
type Subscription struct {
	MinSeverity detection.Severity `json:"min_severity,omitempty"`
	FrameIDs    []uint32           `json:"frame_ids,omitempty"`
	Reasons     []detection.Reason `json:"reasons,omitempty"`
}

// Matches reports whether a passes the subscription.
func (s *Subscription) Matches(a *detection.Alert) bool {
	if !a.Severity.AtLeast(s.MinSeverity) {
		return false
	}
	if len(s.FrameIDs) > 0 && !slices.Contains(s.FrameIDs, a.FrameID) {
		return false
	}
	if len(s.Reasons) > 0 && !slices.Contains(s.Reasons, a.Reason) {
		return false
	}
	return true
}

// inbound is a message received from a client.
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	mu           sync.RWMutex
	subscription Subscription
}

// NewClient creates a client with a unique ID.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		conn: conn,
		send: make(chan Message, 256),
	}
}

// ID returns the client's identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// Subscription returns the client's current subscription.
func (c *Client) Subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscription
}

// SetSubscription replaces the client's subscription.
func (c *Client) SetSubscription(s Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscription = s
}

// Accepts reports whether the client wants message. Only alerts are
// filtered.
func (c *Client) Accepts(message Message) bool {
	if message.Type != MessageTypeDetectionAlert {
		return true
	}
	alert, ok := message.Data.(*detection.Alert)
	if !ok {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscription.Matches(alert)
}

// handle processes one client message and returns the reply, if any.
func (c *Client) handle(raw []byte) (Message, bool) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		logging.Debug().Err(err).Uint64("client_id", c.id).Msg("ignoring malformed websocket message")
		return Message{}, false
	}

	switch msg.Type {
	case MessageTypePing:
		return Message{Type: MessageTypePong}, true
	case MessageTypeSubscribe:
		var sub Subscription
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &sub); err != nil {
				logging.Debug().Err(err).Uint64("client_id", c.id).Msg("ignoring malformed subscription")
				return Message{}, false
			}
		}
		c.SetSubscription(sub)
		return Message{Type: MessageTypeSubscribed, Data: sub}, true
	default:
		return Message{}, false
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Msg("unexpected websocket close error")
			}
			return
		}
		if reply, ok := c.handle(raw); ok {
			select {
			case c.send <- reply:
			default:
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := MarshalMessage(message)
			if err != nil {
				logging.Error().Err(err).Str("message_type", message.Type).Msg("failed to marshal websocket message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logging.Debug().Err(err).Uint64("client_id", c.id).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// ServeWS upgrades r and registers the resulting client with hub. An
// optional subscription may be given with the min_severity, frame_id and
// reason query parameters.
func ServeWS(hub *Hub, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) (*Client, error) {
	sub, err := subscriptionFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, err
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	client := NewClient(hub, conn)
	client.SetSubscription(sub)
	hub.Register <- client
	client.Start()
	return client, nil
}
