// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package safety

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tomtom215/platebook/internal/fsstore"
)

// Restore copies the safety backup rec back over live state. The database
// is copied next to the live file and renamed into place; the images
// directory is rebuilt beside the live one and swapped in. Anything that
// held the live database open must have closed it first.
//
// Restore does not stop on context cancellation once it has started
// touching live files; pass a non-cancellable context when rolling back.
func (m *Manager) Restore(ctx context.Context, rec Record) error {
	loaded, err := m.Load(rec.Location)
	if err != nil {
		return err
	}

	if err := m.restoreDatabase(loaded); err != nil {
		return err
	}
	if err := m.restoreImages(ctx, loaded); err != nil {
		return err
	}

	m.logger.Info().
		Str("id", loaded.ID).
		Str("location", loaded.Location).
		Msg("Live state restored from safety backup")
	return nil
}

func (m *Manager) restoreDatabase(rec *Record) error {
	live := m.live.DatabasePath

	if !rec.HasDatabase {
		for _, p := range append([]string{live}, sidecars(live)...) {
			if err := fsstore.Remove(p); err != nil {
				return fmt.Errorf("removing live database: %w", err)
			}
		}
		return nil
	}

	tmp := live + ".restore-tmp"
	if err := fsstore.CopyFile(filepath.Join(rec.Location, databaseFile), tmp); err != nil {
		_ = fsstore.Remove(tmp)
		return fmt.Errorf("copying database from safety backup: %w", err)
	}
	for _, p := range sidecars(live) {
		if err := fsstore.Remove(p); err != nil {
			_ = fsstore.Remove(tmp)
			return fmt.Errorf("removing database sidecar: %w", err)
		}
	}
	if err := os.Rename(tmp, live); err != nil {
		_ = fsstore.Remove(tmp)
		return fmt.Errorf("replacing live database: %w", err)
	}
	return nil
}

func (m *Manager) restoreImages(ctx context.Context, rec *Record) error {
	live := m.live.ImagesDir

	if !rec.HasImages {
		return fsstore.RemoveAll(live)
	}

	tmp := live + ".restore-tmp"
	if err := fsstore.RemoveAll(tmp); err != nil {
		return err
	}
	if err := fsstore.CopyDir(ctx, filepath.Join(rec.Location, imagesDirName), tmp, m.workers); err != nil {
		_ = fsstore.RemoveAll(tmp)
		return fmt.Errorf("copying images from safety backup: %w", err)
	}
	if err := fsstore.RemoveAll(live); err != nil {
		_ = fsstore.RemoveAll(tmp)
		return fmt.Errorf("removing live images: %w", err)
	}
	if err := os.Rename(tmp, live); err != nil {
		return fmt.Errorf("replacing live images: %w", err)
	}
	return nil
}

func sidecars(dbPath string) []string {
	out := make([]string, 0, len(sidecarSuffixes))
	for _, suffix := range sidecarSuffixes {
		out = append(out, dbPath+suffix)
	}
	return out
}
