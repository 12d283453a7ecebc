// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

/*
Package services adapts cansentry components to suture.Service.

Each wrapper translates a component's own lifecycle into Serve(ctx) error and
implements fmt.Stringer so suture can name it in events:

  - DetectionService: reads an ingest.Source and feeds a monitor
  - HTTPServerService: ListenAndServe with graceful Shutdown
  - WebSocketHubService: websocket.Hub.RunWithContext
  - StatsBroadcastService: periodic stats_update messages to the hub
  - GCService: periodic alert journal garbage collection

Services that finish their work return suture.ErrDoNotRestart. Returning any
other error makes suture restart the service with backoff.
*/
package services
