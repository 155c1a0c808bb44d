// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

/*
Package middleware provides the HTTP middleware shared by Platebook's API.

  - RequestID: X-Request-ID propagation and logging context
  - PrometheusMetrics: request counts and latency by chi route pattern
  - Compression: gzip for JSON responses via klauspost/compress/gzhttp

All three use the http.HandlerFunc signature; the api package adapts them
to chi's func(http.Handler) http.Handler.
*/
package middleware
