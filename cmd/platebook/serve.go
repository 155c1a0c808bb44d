// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package main

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/platebook/internal/api"
	"github.com/tomtom215/platebook/internal/backup"
	"github.com/tomtom215/platebook/internal/logging"
	"github.com/tomtom215/platebook/internal/supervisor"
	"github.com/tomtom215/platebook/internal/supervisor/services"
	ws "github.com/tomtom215/platebook/internal/websocket"
)

// restartGrace lets the response and completion broadcast reach clients
// before the server stops for a restart.
const restartGrace = 2 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API with live progress over WebSocket",
		Long: `Run the local HTTP API.

Export, import and restore requests run on the request and stream progress to
every client connected to /api/v1/ws. Expired safety backups are purged on
backup.purge_interval.

With --exit-on-restart the server stops after an import or restore and exits
with status 75 so a process manager starts it again on the new data.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationDaemon: ""},
		RunE: func(cmd *cobra.Command, args []string) error {
			exitOnRestart, _ := cmd.Flags().GetBool("exit-on-restart")
			return serve(cmd.Context(), getApp(cmd), exitOnRestart)
		},
	}
	cmd.Flags().Bool("exit-on-restart", false, "Exit with status 75 after an import or restore replaces live state")
	return cmd
}

func serve(ctx context.Context, a *app, exitOnRestart bool) error {
	cfg := a.cfg
	svc := a.svc

	logging.Info().
		Str("version", version).
		Str("data_dir", cfg.Storage.DataDir).
		Str("database", cfg.Storage.DatabasePath).
		Str("compression", cfg.Backup.Compression).
		Msg("Starting Platebook server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := ws.NewHub()
	svc.SetProgressObserver(hub.BroadcastProgress)
	defer svc.SetProgressObserver(nil)

	var restartRequested atomic.Bool
	requestRestart := func(op backup.Operation) {
		if !exitOnRestart {
			logging.Warn().Str("operation", string(op)).
				Msg("Live state replaced; clients must reload their data")
			return
		}
		if restartRequested.Swap(true) {
			return
		}
		logging.Warn().Str("operation", string(op)).Msg("Live state replaced; stopping for restart")
		time.AfterFunc(restartGrace, cancel)
	}

	handler := api.NewHandler(svc, hub, api.Options{
		UploadDir:       cfg.Storage.StagingDir,
		MaxUploadBytes:  cfg.Server.MaxUploadBytes,
		UploadRateBytes: cfg.Server.UploadRateBytes,
		AllowedOrigins:  cfg.Server.CORSOrigins,
		RequestRestart:  requestRestart,
		Version:         version,
	})
	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins:       cfg.Server.CORSOrigins,
		RateLimitRequests: cfg.Server.RateLimitRequests,
		RateLimitWindow:   cfg.Server.RateLimitWindow,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return err
	}
	tree.AddMaintenanceService(services.NewSafetyPurgeService(svc, cfg.Backup.PurgeInterval))
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	if err := <-tree.ServeBackground(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, s := range unstopped {
		logging.Warn().Str("service", s.Name).Msg("Service failed to stop within timeout")
	}

	if restartRequested.Load() {
		logging.Info().Msg("Server stopped for restart")
		return &exitError{code: ExitRestart}
	}
	logging.Info().Msg("Server stopped gracefully")
	return nil
}
