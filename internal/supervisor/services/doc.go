// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

/*
Package services adapts Platebook's long-running components to suture's
Serve(ctx) error contract.

  - HTTPServerService: ListenAndServe plus graceful Shutdown with a timeout.
  - WebSocketHubService: delegates to websocket.Hub.RunWithContext.
  - SafetyPurgeService: calls backup.Service.PurgeSafetyBackups on a ticker.

Each wrapper depends on a one-method interface rather than the concrete
type, so tests drive them with small fakes. Serve returns ctx.Err() on
normal shutdown; any other error makes the supervisor restart the service.
*/
package services
