// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package backup

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/tomtom215/platebook/internal/archive"
	"github.com/tomtom215/platebook/internal/fsstore"
	"github.com/tomtom215/platebook/internal/safety"
)

// Config holds the filesystem layout and tuning of a Service. The live
// database path comes from the LiveDatabase handle itself.
type Config struct {
	// ImagesDir is the live images directory.
	ImagesDir string

	// ExportDir receives export archives.
	ExportDir string

	// SafetyDir is the recovery root for safety backups and the import journal.
	SafetyDir string

	// StagingDir holds private scratch space for snapshots and extraction.
	// It must be on the same filesystem as the live state for the
	// replacement to be a rename.
	StagingDir string

	// AppVersion is recorded in archive metadata and export records.
	AppVersion string

	Compression      archive.Compression
	CompressionLevel int
	MaxMemberSize    int64

	// CopyWorkers bounds concurrent file copies for safety backups.
	CopyWorkers int

	// SafetyRetention is how long safety backups are kept.
	SafetyRetention time.Duration

	// KeepLatestSafety safety backups survive purging regardless of age.
	KeepLatestSafety int
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	var errs []error
	for name, dir := range map[string]string{
		"images dir":  c.ImagesDir,
		"export dir":  c.ExportDir,
		"safety dir":  c.SafetyDir,
		"staging dir": c.StagingDir,
	} {
		if dir == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("backup config: %w", err)
	}

	if c.SafetyDir != "" && c.StagingDir != "" &&
		(fsstore.IsWithin(c.SafetyDir, c.StagingDir) || fsstore.IsWithin(c.StagingDir, c.SafetyDir)) {
		return errors.New("backup config: staging dir and safety dir must not contain each other")
	}
	if fsstore.IsWithin(c.ImagesDir, c.StagingDir) || fsstore.IsWithin(c.ImagesDir, c.SafetyDir) {
		return errors.New("backup config: staging and safety dirs must be outside the images dir")
	}

	if c.Compression == "" {
		c.Compression = archive.CompressionZstd
	}
	if _, err := archive.ParseCompression(string(c.Compression)); err != nil {
		return fmt.Errorf("backup config: %w", err)
	}
	if c.AppVersion == "" {
		c.AppVersion = "dev"
	}
	if c.CopyWorkers <= 0 {
		c.CopyWorkers = fsstore.DefaultCopyWorkers
	}
	if c.SafetyRetention <= 0 {
		c.SafetyRetention = safety.DefaultRetention
	}
	if c.KeepLatestSafety < 0 {
		c.KeepLatestSafety = 0
	}

	c.ImagesDir = filepath.Clean(c.ImagesDir)
	c.ExportDir = filepath.Clean(c.ExportDir)
	c.SafetyDir = filepath.Clean(c.SafetyDir)
	c.StagingDir = filepath.Clean(c.StagingDir)
	return nil
}

// retentionPolicy converts the retention settings for the safety manager.
func (c *Config) retentionPolicy() safety.RetentionPolicy {
	return safety.RetentionPolicy{MaxAge: c.SafetyRetention, KeepLatest: c.KeepLatestSafety}
}
