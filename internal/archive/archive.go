// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

/*
archive.go - Backup Archive Format

A Platebook backup is a single tar stream, optionally wrapped in gzip or
zstd, holding exactly three logical members:

	platebook-backup-20260115-093000.tar.zst
	├── database.sqlite      (snapshot of the live database)
	├── images/
	│   ├── 0b1c...-ramen.jpg
	│   └── ...
	└── metadata.json        (versions, timestamp, per-member sha256)

The metadata document is written last so that checksums can be computed
while the binary members stream through. Decoders read every member,
then verify sizes and checksums against the metadata before exposing
anything to the caller.

Compression is detected from the stream's magic bytes on decode, so an
archive written with any setting can be restored with any other.
*/
//nolint:staticcheck // File documentation, not package doc

// Package archive encodes and decodes Platebook backup archives.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"
)

const (
	// FormatVersion is written into every archive. Decoders reject newer versions.
	FormatVersion = 1

	// DatabaseMember is the member name of the database snapshot.
	DatabaseMember = "database.sqlite"
	// MetadataMember is the member name of the metadata document.
	MetadataMember = "metadata.json"
	// ImagesPrefix prefixes every image member.
	ImagesPrefix = "images/"

	// DefaultMaxMemberSize bounds any single member (1GB).
	DefaultMaxMemberSize int64 = 1 << 30

	memberMode = 0o640
)

// Compression selects the stream compression applied around the tar container.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// Extension returns the file extension used for archives with this compression.
func (c Compression) Extension() string {
	switch c {
	case CompressionGzip:
		return ".tar.gz"
	case CompressionZstd:
		return ".tar.zst"
	default:
		return ".tar"
	}
}

// ParseCompression converts a configuration string to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return CompressionNone, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("unsupported compression %q (use none, gzip or zstd)", s)
	}
}

// Member describes one binary member recorded in the metadata.
type Member struct {
	// Name is the original file name (images) or DatabaseMember.
	Name string `json:"name"`

	// Size in bytes.
	Size int64 `json:"size"`

	// SHA256 is the hex-encoded digest of the member content.
	SHA256 string `json:"sha256"`
}

// Metadata is the metadata.json document.
type Metadata struct {
	FormatVersion int `json:"formatVersion"`

	// AppVersion is the version of Platebook that produced the archive.
	AppVersion string `json:"appVersion"`

	// SchemaVersion is the database's PRAGMA user_version at export time.
	SchemaVersion int `json:"schemaVersion"`

	ExportedAt time.Time `json:"exportedAt"`

	Compression Compression `json:"compression"`

	Database Member   `json:"database"`
	Images   []Member `json:"images"`
}

// Source is a binary member to be encoded.
type Source struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// FileSource returns a Source reading the file at p under the given name.
func FileSource(name, p string) (Source, error) {
	info, err := os.Stat(p)
	if err != nil {
		return Source{}, fmt.Errorf("stat %s: %w", p, err)
	}
	return Source{
		Name: name,
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(p) //nolint:gosec // paths come from configuration
		},
	}, nil
}

// BytesSource returns a Source over an in-memory blob.
func BytesSource(name string, data []byte) Source {
	return Source{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// Blob is a decoded in-memory member.
type Blob struct {
	Name string
	Data []byte
}

// Bundle is the fully decoded content of an archive.
type Bundle struct {
	Metadata Metadata
	Database []byte
	Images   []Blob
}

// Config configures a Codec.
type Config struct {
	// Compression applied by Encode. Decode auto-detects.
	Compression Compression

	// Level is the compression level; 0 selects the library default.
	// For gzip this is 1-9, for zstd 1-22 mapped to the nearest encoder level.
	Level int

	// MaxMemberSize bounds any single member on decode. 0 selects DefaultMaxMemberSize.
	MaxMemberSize int64
}

// Codec encodes and decodes backup archives. It is safe for concurrent use.
type Codec struct {
	cfg Config
}

// NewCodec returns a Codec for cfg.
func NewCodec(cfg Config) *Codec {
	if cfg.Compression == "" {
		cfg.Compression = CompressionNone
	}
	if cfg.MaxMemberSize <= 0 {
		cfg.MaxMemberSize = DefaultMaxMemberSize
	}
	return &Codec{cfg: cfg}
}

// Compression returns the compression applied by Encode.
func (c *Codec) Compression() Compression {
	return c.cfg.Compression
}

// ValidImageName reports whether name can be stored as an image member:
// a plain file name without directory components.
func ValidImageName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return false
	}
	return path.Clean(name) == name
}
