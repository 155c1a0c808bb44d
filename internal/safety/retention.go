// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package safety

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultRetention is how long a safety backup is kept after an import.
const DefaultRetention = 24 * time.Hour

// RetentionPolicy decides which safety backups PurgeExpired removes.
type RetentionPolicy struct {
	// MaxAge is the retention window; older backups are purged.
	MaxAge time.Duration

	// KeepLatest backups are always kept regardless of age.
	KeepLatest int
}

// DefaultRetentionPolicy keeps safety backups for 24 hours.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{MaxAge: DefaultRetention}
}

// PurgeExpired deletes safety backups older than policy.MaxAge, along with
// stale .partial directories left by interrupted Create calls. It is best
// effort: failures are logged and never returned. The number of removed
// directories is returned.
func (m *Manager) PurgeExpired(policy RetentionPolicy) int {
	if policy.MaxAge <= 0 {
		policy.MaxAge = DefaultRetention
	}
	now := m.now()
	cutoff := now.Add(-policy.MaxAge)

	records, err := m.List()
	if err != nil {
		m.logger.Warn().Err(err).Msg("Listing safety backups for purge failed")
		return 0
	}

	keep := make(map[string]bool, len(records))
	for i := 0; i < policy.KeepLatest && i < len(records); i++ {
		keep[records[i].Location] = true
	}

	purged := 0
	for _, rec := range records {
		if keep[rec.Location] || rec.CreatedAt.After(cutoff) {
			continue
		}
		if err := os.RemoveAll(rec.Location); err != nil {
			m.logger.Warn().Err(err).Str("location", rec.Location).Msg("Deleting expired safety backup failed")
			continue
		}
		purged++
		m.logger.Info().
			Str("id", rec.ID).
			Dur("age", now.Sub(rec.CreatedAt)).
			Msg("Expired safety backup deleted")
	}

	purged += m.purgeLeftovers(now, cutoff, records)
	return purged
}

// purgeLeftovers removes .partial directories past the grace period and
// safety-* directories without a readable manifest past the cutoff.
func (m *Manager) purgeLeftovers(now, cutoff time.Time, valid []*Record) int {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn().Err(err).Msg("Listing recovery root failed")
		}
		return 0
	}

	known := make(map[string]bool, len(valid))
	for _, rec := range valid {
		known[filepath.Base(rec.Location)] = true
	}

	purged := 0
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || known[name] {
			continue
		}

		var limit time.Time
		switch {
		case strings.HasPrefix(name, partialPrefix):
			limit = now.Add(-partialGrace)
		case strings.HasPrefix(name, dirPrefix):
			limit = cutoff
		default:
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(limit) {
			continue
		}
		path := filepath.Join(m.root, name)
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn().Err(err).Str("path", path).Msg("Deleting leftover safety directory failed")
			continue
		}
		purged++
	}
	return purged
}
