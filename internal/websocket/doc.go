// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

/*
Package websocket streams detection alerts and monitor statistics to
connected dashboards.

A Hub owns the set of clients and fans messages out to them. Each Client runs
a read and a write goroutine over a gorilla/websocket connection. Clients may
narrow what they receive with a Subscription, set either through query
parameters on the upgrade request or with a subscribe message:

	{"type": "subscribe", "data": {"min_severity": "critical", "frame_ids": [256]}}

Only detection_alert messages are filtered. stats_update and pong replies are
always delivered.

Message types:

  - detection_alert: an anomalous frame (data is a detection.Alert)
  - stats_update: periodic monitor statistics
  - subscribe / subscribed: subscription change and its acknowledgement
  - ping / pong: application level keepalive

The Hub implements detection.AlertBroadcaster through BroadcastJSON, so a
Monitor in the same process pushes alerts directly. AlertRelay covers the
split deployment where detection runs elsewhere and alerts arrive over the
event bus.

Slow clients whose send buffer fills are disconnected rather than allowed to
stall the hub.
*/
package websocket
