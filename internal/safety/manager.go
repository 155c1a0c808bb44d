// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

/*
manager.go - Safety Backups

A safety backup is a plain copy of live state taken immediately before an
import destroys it:

	<root>/
	├── .partial-<uuid>/              (being written, never valid)
	└── safety-20260115-093000-1a2b3c4d/
	    ├── manifest.json
	    ├── database.sqlite
	    └── images/

The directory only gets its final safety-* name after every file and the
manifest have been written and synced, so a crash mid-copy leaves at most
a .partial-* directory which List ignores and PurgeExpired removes.
*/
//nolint:staticcheck // File documentation, not package doc

// Package safety takes, restores and expires pre-import copies of live state.
package safety

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/platebook/internal/fsstore"
	"github.com/tomtom215/platebook/internal/logging"
)

const (
	manifestFile  = "manifest.json"
	databaseFile  = "database.sqlite"
	imagesDirName = "images"

	dirPrefix     = "safety-"
	partialPrefix = ".partial-"

	// partialGrace protects a .partial directory that may still be in use.
	partialGrace = time.Hour
)

var (
	// ErrNotFound is returned when a location holds no completed safety backup.
	ErrNotFound = errors.New("safety backup not found")

	// ErrOutsideRoot is returned for locations not managed by this Manager.
	ErrOutsideRoot = errors.New("safety backup location is outside the recovery root")
)

// sidecarSuffixes mirrors the files SQLite keeps next to a WAL-mode database.
var sidecarSuffixes = []string{"-wal", "-shm", "-journal"}

// LiveState names the files a safety backup covers.
type LiveState struct {
	DatabasePath string
	ImagesDir    string
}

// Record describes a completed safety backup. It is also the manifest
// stored inside the backup directory.
type Record struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	HasDatabase  bool      `json:"hasDatabase"`
	HasImages    bool      `json:"hasImages"`
	DatabaseSize int64     `json:"databaseSize"`
	ImageCount   int       `json:"imageCount"`
	ImagesSize   int64     `json:"imagesSize"`

	// Location is the backup directory; derived on load, never stored.
	Location string `json:"-"`
}

// Config configures a Manager.
type Config struct {
	// Root is the recovery directory holding all safety backups.
	Root string

	Live LiveState

	// CopyWorkers bounds concurrent image copies.
	CopyWorkers int
}

// Manager creates, restores and purges safety backups under one root.
type Manager struct {
	root    string
	live    LiveState
	workers int
	now     func() time.Time
	logger  zerolog.Logger
}

// NewManager returns a Manager for cfg.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Root == "" {
		return nil, errors.New("safety: recovery root is required")
	}
	if cfg.Live.DatabasePath == "" || cfg.Live.ImagesDir == "" {
		return nil, errors.New("safety: live database path and images directory are required")
	}
	if cfg.CopyWorkers <= 0 {
		cfg.CopyWorkers = fsstore.DefaultCopyWorkers
	}
	return &Manager{
		root:    filepath.Clean(cfg.Root),
		live:    cfg.Live,
		workers: cfg.CopyWorkers,
		now:     time.Now,
		logger:  logging.WithComponent("safety"),
	}, nil
}

// Root returns the recovery root.
func (m *Manager) Root() string {
	return m.root
}

// Create copies the live database file and the live images directory into
// a new safety backup. The caller must have checkpointed the database so
// that the main file is complete. On failure nothing is left that List
// would report.
func (m *Manager) Create(ctx context.Context) (_ *Record, err error) {
	if err := fsstore.EnsureDir(m.root); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	rec := &Record{ID: id, CreatedAt: m.now().UTC()}
	partial := filepath.Join(m.root, partialPrefix+id)

	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(partial); rmErr != nil {
				m.logger.Warn().Err(rmErr).Str("path", partial).Msg("Removing partial safety backup failed")
			}
		}
	}()

	if err := fsstore.EnsureDir(partial); err != nil {
		return nil, err
	}

	if info, statErr := os.Stat(m.live.DatabasePath); statErr == nil {
		if err := fsstore.CopyFile(m.live.DatabasePath, filepath.Join(partial, databaseFile)); err != nil {
			return nil, fmt.Errorf("copying database: %w", err)
		}
		rec.HasDatabase = true
		rec.DatabaseSize = info.Size()
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("stat live database: %w", statErr)
	}

	if fsstore.Exists(m.live.ImagesDir) {
		dst := filepath.Join(partial, imagesDirName)
		if err := fsstore.CopyDir(ctx, m.live.ImagesDir, dst, m.workers); err != nil {
			return nil, fmt.Errorf("copying images: %w", err)
		}
		files, err := fsstore.ListFiles(dst)
		if err != nil {
			return nil, err
		}
		size, err := fsstore.DirSize(dst)
		if err != nil {
			return nil, err
		}
		rec.HasImages = true
		rec.ImageCount = len(files)
		rec.ImagesSize = size
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := fsstore.WriteFileAtomic(filepath.Join(partial, manifestFile), data); err != nil {
		return nil, err
	}

	final := filepath.Join(m.root, fmt.Sprintf("%s%s-%s", dirPrefix, rec.CreatedAt.Format("20060102-150405"), id[:8]))
	if err := os.Rename(partial, final); err != nil {
		return nil, fmt.Errorf("finalizing safety backup: %w", err)
	}
	rec.Location = final

	m.logger.Info().
		Str("id", rec.ID).
		Str("location", final).
		Int64("database_bytes", rec.DatabaseSize).
		Int("images", rec.ImageCount).
		Msg("Safety backup created")
	return rec, nil
}

// Load reads the manifest of the safety backup at location.
func (m *Manager) Load(location string) (*Record, error) {
	location = filepath.Clean(location)
	if !fsstore.IsWithin(m.root, location) || location == m.root {
		return nil, fmt.Errorf("%w: %s", ErrOutsideRoot, location)
	}

	data, err := os.ReadFile(filepath.Join(location, manifestFile)) //nolint:gosec // location checked against root
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding manifest %s: %w", location, err)
	}
	rec.Location = location
	return &rec, nil
}

// List returns every completed safety backup, newest first.
func (m *Manager) List() ([]*Record, error) {
	entries, err := os.ReadDir(m.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", m.root, err)
	}

	var records []*Record
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), dirPrefix) {
			continue
		}
		rec, err := m.Load(filepath.Join(m.root, entry.Name()))
		if err != nil {
			m.logger.Debug().Err(err).Str("dir", entry.Name()).Msg("Skipping unreadable safety backup")
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// Latest returns the newest completed safety backup, or nil if none exist.
func (m *Manager) Latest() (*Record, error) {
	records, err := m.List()
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

// Discard deletes a safety backup, e.g. the one taken for a cancelled import.
func (m *Manager) Discard(rec Record) error {
	if _, err := m.Load(rec.Location); err != nil {
		return err
	}
	return fsstore.RemoveAll(rec.Location)
}
