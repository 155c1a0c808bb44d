// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

// Package metrics defines Platebook's Prometheus instrumentation.
//
// Metrics are registered on the default registry at package init and served
// by the API's /metrics endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Backup engine
	BackupOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platebook_backup_operations_total",
			Help: "Total number of export, import and restore operations by result",
		},
		[]string{"operation", "result"}, // result: success, failure, busy, rolled_back, rollback_failed
	)

	BackupOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "platebook_backup_operation_duration_seconds",
			Help:    "Duration of backup operations in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"operation"},
	)

	BackupInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "platebook_backup_in_progress",
			Help: "1 while an operation of the given kind is running",
		},
		[]string{"operation"},
	)

	BackupLastArchiveBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "platebook_backup_last_archive_bytes",
			Help: "Size of the most recently written export archive",
		},
	)

	BackupLastSuccessTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "platebook_backup_last_success_timestamp_seconds",
			Help: "Unix time of the last successful operation",
		},
		[]string{"operation"},
	)

	SafetyBackupsPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "platebook_safety_backups_purged_total",
			Help: "Total number of expired safety backups deleted",
		},
	)

	// WebSocket
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "platebook_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "platebook_websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	// HTTP API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platebook_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "platebook_api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordBackupOperation records the outcome and duration of one operation.
func RecordBackupOperation(operation, result string, duration time.Duration) {
	BackupOperationsTotal.WithLabelValues(operation, result).Inc()
	BackupOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if result == "success" {
		BackupLastSuccessTimestamp.WithLabelValues(operation).Set(float64(time.Now().Unix()))
	}
}

// TrackBackupInProgress flips the in-progress gauge for operation.
func TrackBackupInProgress(operation string, running bool) {
	if running {
		BackupInProgress.WithLabelValues(operation).Set(1)
		return
	}
	BackupInProgress.WithLabelValues(operation).Set(0)
}

// RecordSafetyPurge adds n purged safety backups.
func RecordSafetyPurge(n int) {
	if n > 0 {
		SafetyBackupsPurgedTotal.Add(float64(n))
	}
}

// RecordAPIRequest records an API request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
