// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

/*
Package supervisor runs the long-lived parts of `platebook serve` under a
suture v4 supervision tree.

	platebook (root)
	├── maintenance-layer
	│   └── safety-purge
	├── messaging-layer
	│   └── websocket-hub
	└── api-layer
	    └── http-server

A service that returns an error is restarted with suture's backoff; one
that keeps failing only affects its own layer. Supervisor events (restarts,
backoff, timeouts) are written through the zerolog-backed slog adapter from
internal/logging.

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddMaintenanceService(services.NewSafetyPurgeService(svc, time.Hour))
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, 15*time.Second))
	err = tree.Serve(ctx)

The service wrappers live in the services subpackage.
*/
package supervisor
