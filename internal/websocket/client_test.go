// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/cansentry/internal/detection"
)

// setupServer serves ServeWS for hub and returns the server.
func setupServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	upgrader := &websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = ServeWS(hub, upgrader, w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readMessage(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid message %s: %v", data, err)
	}
	return msg
}

func writeMessage(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
}

func TestClient_Constants(t *testing.T) {
	if pingPeriod >= pongWait {
		t.Errorf("pingPeriod %v must be shorter than pongWait %v", pingPeriod, pongWait)
	}
	if maxMessageSize <= 0 {
		t.Error("maxMessageSize must be positive")
	}
}

func TestNewClient_UniqueIDs(t *testing.T) {
	hub := NewHub()
	a, b := NewClient(hub, nil), NewClient(hub, nil)
	if a.ID() == b.ID() {
		t.Errorf("client IDs collide: %d", a.ID())
	}
	if cap(a.send) != 256 {
		t.Errorf("send buffer = %d, want 256", cap(a.send))
	}
}

func TestSubscription_Matches(t *testing.T) {
	alert := testAlert(0x100, detection.ReasonChangeRate)

	tests := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{"zero value", Subscription{}, true},
		{"severity met", Subscription{MinSeverity: detection.SeverityWarning}, true},
		{"severity too low", Subscription{MinSeverity: detection.SeverityCritical}, false},
		{"frame listed", Subscription{FrameIDs: []uint32{0x100, 0x200}}, true},
		{"frame not listed", Subscription{FrameIDs: []uint32{0x200}}, false},
		{"reason listed", Subscription{Reasons: []detection.Reason{detection.ReasonChangeRate}}, true},
		{"reason not listed", Subscription{Reasons: []detection.Reason{detection.ReasonTiming}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.Matches(alert); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClient_Handle(t *testing.T) {
	c := NewClient(NewHub(), nil)

	reply, ok := c.handle([]byte(`{"type":"ping"}`))
	if !ok || reply.Type != MessageTypePong {
		t.Errorf("ping reply = %+v, %v", reply, ok)
	}

	reply, ok = c.handle([]byte(`{"type":"subscribe","data":{"min_severity":"critical","frame_ids":[512]}}`))
	if !ok || reply.Type != MessageTypeSubscribed {
		t.Fatalf("subscribe reply = %+v, %v", reply, ok)
	}
	sub := c.Subscription()
	if sub.MinSeverity != detection.SeverityCritical || len(sub.FrameIDs) != 1 || sub.FrameIDs[0] != 512 {
		t.Errorf("subscription = %+v", sub)
	}

	// An empty subscribe resets the filter.
	if _, ok := c.handle([]byte(`{"type":"subscribe"}`)); !ok {
		t.Fatal("empty subscribe should be acknowledged")
	}
	if sub := c.Subscription(); sub.MinSeverity != "" || sub.FrameIDs != nil {
		t.Errorf("subscription not reset: %+v", sub)
	}

	for _, raw := range []string{`not json`, `{"type":"unknown"}`, `{"type":"subscribe","data":"bad"}`} {
		if _, ok := c.handle([]byte(raw)); ok {
			t.Errorf("handle(%s) should produce no reply", raw)
		}
	}
}

func TestSubscriptionFromQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?min_severity=warning&frame_id=0x100&frame_id=512&reason=timing", nil)
	sub, err := subscriptionFromQuery(r)
	if err != nil {
		t.Fatalf("subscriptionFromQuery() error = %v", err)
	}
	if sub.MinSeverity != detection.SeverityWarning {
		t.Errorf("MinSeverity = %q", sub.MinSeverity)
	}
	if len(sub.FrameIDs) != 2 || sub.FrameIDs[0] != 0x100 || sub.FrameIDs[1] != 512 {
		t.Errorf("FrameIDs = %v", sub.FrameIDs)
	}
	if len(sub.Reasons) != 1 || sub.Reasons[0] != detection.ReasonTiming {
		t.Errorf("Reasons = %v", sub.Reasons)
	}

	for _, q := range []string{"min_severity=loud", "frame_id=xyz", "frame_id=0x1FFFFFFFF"} {
		r := httptest.NewRequest(http.MethodGet, "/ws?"+q, nil)
		if _, err := subscriptionFromQuery(r); err == nil {
			t.Errorf("%s: expected error", q)
		}
	}
}

func TestServeWS_RejectsBadQuery(t *testing.T) {
	hub := setupHub(t)
	server := setupServer(t, hub)

	resp, err := http.Get(server.URL + "?min_severity=loud")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestClient_Integration(t *testing.T) {
	hub := setupHub(t)
	server := setupServer(t, hub)
	conn := dial(t, server, "")
	waitFor(t, func() bool { return hub.GetClientCount() == 1 })

	writeMessage(t, conn, `{"type":"ping"}`)
	if msg := readMessage(t, conn); msg.Type != MessageTypePong {
		t.Fatalf("got %q, want pong", msg.Type)
	}

	writeMessage(t, conn, `{"type":"subscribe","data":{"reasons":["dlc_mismatch"]}}`)
	if msg := readMessage(t, conn); msg.Type != MessageTypeSubscribed {
		t.Fatalf("got %q, want subscribed", msg.Type)
	}

	hub.BroadcastJSON(MessageTypeDetectionAlert, testAlert(0x100, detection.ReasonValueRange))
	hub.BroadcastJSON(MessageTypeDetectionAlert, testAlert(0x101, detection.ReasonDLCMismatch))

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeDetectionAlert {
		t.Fatalf("got %q, want detection_alert", msg.Type)
	}
	var alert detection.Alert
	if err := json.Unmarshal(msg.Data, &alert); err != nil {
		t.Fatal(err)
	}
	if alert.FrameID != 0x101 || alert.Reason != detection.ReasonDLCMismatch {
		t.Errorf("filtered alert = %+v", alert)
	}
}

func TestClient_QuerySubscription(t *testing.T) {
	hub := setupHub(t)
	server := setupServer(t, hub)
	conn := dial(t, server, "?min_severity=critical")
	waitFor(t, func() bool { return hub.GetClientCount() == 1 })

	hub.BroadcastJSON(MessageTypeDetectionAlert, testAlert(0x100, detection.ReasonTiming))
	hub.BroadcastJSON(MessageTypeStatsUpdate, map[string]int{"frames": 1})

	if msg := readMessage(t, conn); msg.Type != MessageTypeStatsUpdate {
		t.Errorf("got %q, warning alert should have been filtered", msg.Type)
	}
}

func TestClient_DisconnectUnregisters(t *testing.T) {
	hub := setupHub(t)
	server := setupServer(t, hub)
	conn := dial(t, server, "")
	waitFor(t, func() bool { return hub.GetClientCount() == 1 })

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	waitFor(t, func() bool { return hub.GetClientCount() == 0 })
}

func TestClient_HubShutdownClosesConnection(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.RunWithContext(ctx) }()

	server := setupServer(t, hub)
	conn := dial(t, server, "")
	waitFor(t, func() bool { return hub.GetClientCount() == 1 })

	cancel()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to close")
	}
}
