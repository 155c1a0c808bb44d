// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrIntegrity is wrapped by IntegrityCheck when the file is not a healthy
// SQLite database.
var ErrIntegrity = errors.New("database integrity check failed")

// IntegrityCheck opens the database file at path on a private connection,
// runs PRAGMA integrity_check and returns its user_version. It is used on
// staged databases before they replace live state, so it never touches the
// live handle.
func IntegrityCheck(ctx context.Context, path string) (version int, err error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, closeErr)
		}
	}()
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only=ON"); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	rows, err := conn.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("%w: %v", ErrIntegrity, err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	_ = rows.Close()

	if len(problems) > 0 {
		if len(problems) > 5 {
			problems = append(problems[:5], "...")
		}
		return 0, fmt.Errorf("%w: %s", ErrIntegrity, strings.Join(problems, "; "))
	}

	version, err = schemaVersion(ctx, conn)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return version, nil
}
