// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

/*
Package supervisor runs the long-lived parts of cansentry under suture v4.

The tree separates frame processing from the serving surface:

	cansentry
	├── ingest-layer
	│   ├── DetectionService      source -> monitor
	│   └── GCService             alert journal GC (badger backend)
	└── api-layer
	    ├── WebSocketHubService
	    ├── AlertRelay            event bus -> hub (api.relay)
	    ├── StatsBroadcastService
	    └── HTTPServerService

A failing HTTP listener is restarted without interrupting detection, and a
serial adapter that drops off is reopened without disconnecting dashboards.
Supervisor events are logged through sutureslog over the zerolog-backed
slog handler.

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddIngestService(detectionSvc)
	tree.AddAPIService(httpSvc)
	err = tree.Serve(ctx)
*/
package supervisor
