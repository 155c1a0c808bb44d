// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package middleware

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

// Compression gzips responses for clients that accept it. Small bodies and
// already-compressed content types are passed through by gzhttp.
//
// Do not wrap archive downloads or the WebSocket endpoint.
func Compression(next http.HandlerFunc) http.HandlerFunc {
	return gzhttp.GzipHandler(next)
}
