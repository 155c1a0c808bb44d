// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

// Command platebook exports, imports and restores Platebook's local state,
// and serves the same operations over a local HTTP/WebSocket API.
//
// Usage:
//
//	platebook [--config FILE] [--json] [--quiet] <command>
//
// Commands:
//
//	serve             run the HTTP API, progress socket and safety purge
//	export            write a new backup archive
//	import FILE       replace live state with an archive
//	restore-previous  undo the last import from its safety backup
//	status            show the last export and safety backup
//	exports           list export archives
//	verify FILE       check an archive without importing it
//	purge             delete expired safety backups
//
// Every command except verify runs startup recovery first, so an import
// interrupted by a crash is rolled back before anything else happens.
package main

import (
	"os"
)

// Set at build time with -ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	os.Exit(Execute())
}
