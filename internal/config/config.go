// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

/*
Package config loads Platebook's configuration.

Sources are layered, later ones overriding earlier ones:

 1. Built-in defaults (defaultConfig)
 2. A YAML file: --config, else CONFIG_PATH, else the first of DefaultConfigPaths
 3. Environment variables

Environment variables use the PLATEBOOK_ prefix with "__" between nested
keys, e.g. PLATEBOOK_BACKUP__COMPRESSION=gzip or
PLATEBOOK_SERVER__PORT=8080. A few short aliases (LOG_LEVEL, LOG_FORMAT,
HTTP_HOST, HTTP_PORT, DATA_DIR) are accepted as well.

# Storage layout

Only storage.data_dir is required. Everything else defaults beneath it:

	<data_dir>/platebook.db   live database
	<data_dir>/images         live images
	<data_dir>/exports        export archives
	<data_dir>/recovery       safety backups and the import journal
	<data_dir>/.staging       scratch space for snapshots and extraction

Staging must share a filesystem with the live state so that moving an
extracted archive into place is a rename.
*/
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tomtom215/platebook/internal/fsstore"
	"github.com/tomtom215/platebook/internal/validation"
)

// Config is the complete application configuration.
type Config struct {
	Storage StorageConfig `koanf:"storage"`
	Backup  BackupConfig  `koanf:"backup"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

// StorageConfig locates live state and the engine's working directories.
type StorageConfig struct {
	DataDir      string `koanf:"data_dir" validate:"required"`
	DatabasePath string `koanf:"database_path"`
	ImagesDir    string `koanf:"images_dir"`
	ExportDir    string `koanf:"export_dir"`
	SafetyDir    string `koanf:"safety_dir"`
	StagingDir   string `koanf:"staging_dir"`
}

// BackupConfig tunes export, import and safety-backup retention.
type BackupConfig struct {
	// Compression of new exports: none, gzip or zstd. Imports auto-detect.
	Compression string `koanf:"compression" validate:"compression"`

	// CompressionLevel: 0 for the library default, 1-9 for gzip, 1-22 for zstd.
	CompressionLevel int `koanf:"compression_level" validate:"min=0,max=22"`

	// MaxMemberSize bounds any single archive member on import.
	MaxMemberSize int64 `koanf:"max_member_size" validate:"min=0"`

	CopyWorkers int `koanf:"copy_workers" validate:"min=1,max=64"`

	// SafetyRetention is how long pre-import safety backups are kept.
	SafetyRetention time.Duration `koanf:"safety_retention" validate:"gt=0"`

	KeepLatestSafety int `koanf:"keep_latest_safety" validate:"min=0"`

	// PurgeInterval is how often the server purges expired safety backups.
	PurgeInterval time.Duration `koanf:"purge_interval" validate:"gt=0"`
}

// ServerConfig configures the local HTTP API.
type ServerConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	// MaxUploadBytes caps the body of an import upload.
	MaxUploadBytes int64 `koanf:"max_upload_bytes" validate:"min=1"`

	// UploadRateBytes throttles import uploads in bytes per second; 0 disables.
	UploadRateBytes int `koanf:"upload_rate_bytes" validate:"min=0"`

	// CORSOrigins lists browser origins allowed to call the API and open
	// the progress socket. Empty allows same-origin only.
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitRequests bounds mutating backup requests per client IP per
	// RateLimitWindow; 0 disables.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level     string `koanf:"level" validate:"loglevel"`
	Format    string `koanf:"format" validate:"oneof=json console"`
	Caller    bool   `koanf:"caller"`
	Timestamp bool   `koanf:"timestamp"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Validate fills derived storage paths and checks every field.
func (c *Config) Validate() error {
	c.Storage.resolve()

	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	s := c.Storage
	if fsstore.IsWithin(s.SafetyDir, s.StagingDir) || fsstore.IsWithin(s.StagingDir, s.SafetyDir) {
		return errors.New("storage.staging_dir and storage.safety_dir must not contain each other")
	}
	for name, dir := range map[string]string{
		"storage.export_dir":  s.ExportDir,
		"storage.safety_dir":  s.SafetyDir,
		"storage.staging_dir": s.StagingDir,
	} {
		if fsstore.IsWithin(s.ImagesDir, dir) {
			return fmt.Errorf("%s must be outside storage.images_dir", name)
		}
	}
	if s.DatabasePath == s.ImagesDir || fsstore.IsWithin(s.ImagesDir, s.DatabasePath) {
		return errors.New("storage.database_path must be outside storage.images_dir")
	}
	return nil
}

func (s *StorageConfig) resolve() {
	if s.DataDir == "" {
		return
	}
	s.DataDir = filepath.Clean(s.DataDir)
	def := func(p *string, name string) {
		if *p == "" {
			*p = filepath.Join(s.DataDir, name)
		}
		*p = filepath.Clean(*p)
	}
	def(&s.DatabasePath, "platebook.db")
	def(&s.ImagesDir, "images")
	def(&s.ExportDir, "exports")
	def(&s.SafetyDir, "recovery")
	def(&s.StagingDir, ".staging")
}
