// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var errInvalidImageName = errors.New("image name must be a plain file name")

// Input is everything Encode needs to write an archive.
type Input struct {
	Database      Source
	Images        []Source
	AppVersion    string
	SchemaVersion int
	ExportedAt    time.Time
}

// archiveWriters holds the tar writer and the compression layer beneath it.
type archiveWriters struct {
	tarWriter *tar.Writer
	closers   []io.Closer
}

// Close closes the writers innermost first, returning the first error.
func (aw *archiveWriters) Close() error {
	var firstErr error
	for i := len(aw.closers) - 1; i >= 0; i-- {
		if err := aw.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Codec) setupArchiveWriters(w io.Writer) (*archiveWriters, error) {
	aw := &archiveWriters{}
	dest := w

	switch c.cfg.Compression {
	case CompressionGzip:
		level := c.cfg.Level
		if level == 0 {
			level = gzip.DefaultCompression
		}
		gz, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, fmt.Errorf("create gzip writer: %w", err)
		}
		aw.closers = append(aw.closers, gz)
		dest = gz
	case CompressionZstd:
		opts := []zstd.EOption{zstd.WithEncoderConcurrency(1)}
		if c.cfg.Level > 0 {
			opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.cfg.Level)))
		}
		zw, err := zstd.NewWriter(w, opts...)
		if err != nil {
			return nil, fmt.Errorf("create zstd writer: %w", err)
		}
		aw.closers = append(aw.closers, zw)
		dest = zw
	}

	aw.tarWriter = tar.NewWriter(dest)
	aw.closers = append(aw.closers, aw.tarWriter)
	return aw, nil
}

// Encode writes a complete archive for in to w and returns the metadata it
// recorded. onImage, if set, is called after each image member with the
// number of images written so far and the total.
//
// On error the bytes already written to w are not a usable archive; the
// caller must discard them. A read failure of any member is reported as
// an *EncodingError.
func (c *Codec) Encode(ctx context.Context, w io.Writer, in Input, onImage func(done, total int)) (_ *Metadata, err error) {
	images := make([]Source, len(in.Images))
	copy(images, in.Images)
	sort.Slice(images, func(i, j int) bool { return images[i].Name < images[j].Name })

	seen := make(map[string]struct{}, len(images))
	for _, img := range images {
		if !ValidImageName(img.Name) {
			return nil, &EncodingError{Member: ImagesPrefix + img.Name, Err: errInvalidImageName}
		}
		if _, dup := seen[img.Name]; dup {
			return nil, &EncodingError{Member: ImagesPrefix + img.Name, Err: errors.New("duplicate image name")}
		}
		seen[img.Name] = struct{}{}
	}

	exportedAt := in.ExportedAt.UTC()
	meta := &Metadata{
		FormatVersion: FormatVersion,
		AppVersion:    in.AppVersion,
		SchemaVersion: in.SchemaVersion,
		ExportedAt:    exportedAt,
		Compression:   c.cfg.Compression,
		Images:        make([]Member, 0, len(images)),
	}

	aw, err := c.setupArchiveWriters(w)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := aw.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("finish archive: %w", closeErr)
		}
	}()

	dbMember, err := addSourceToArchive(aw.tarWriter, DatabaseMember, in.Database, exportedAt)
	if err != nil {
		return nil, err
	}
	meta.Database = dbMember

	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("encode cancelled: %w", err)
		}
		member, err := addSourceToArchive(aw.tarWriter, ImagesPrefix+img.Name, img, exportedAt)
		if err != nil {
			return nil, err
		}
		meta.Images = append(meta.Images, member)
		if onImage != nil {
			onImage(i+1, len(images))
		}
	}

	if err := addMetadataToArchive(aw.tarWriter, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// EncodeBytes is the in-memory form of Encode. It returns nil and an error
// if any member fails; a partial archive is never returned.
func (c *Codec) EncodeBytes(database []byte, meta Metadata, images []Blob) ([]byte, error) {
	in := Input{
		Database:      BytesSource(DatabaseMember, database),
		AppVersion:    meta.AppVersion,
		SchemaVersion: meta.SchemaVersion,
		ExportedAt:    meta.ExportedAt,
	}
	for _, img := range images {
		in.Images = append(in.Images, BytesSource(img.Name, img.Data))
	}

	var buf bytes.Buffer
	if _, err := c.Encode(context.Background(), &buf, in, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// addSourceToArchive streams src into tw under name, hashing as it goes.
func addSourceToArchive(tw *tar.Writer, name string, src Source, modTime time.Time) (Member, error) {
	if src.Open == nil {
		return Member{}, &EncodingError{Member: name, Err: errors.New("no content")}
	}
	r, err := src.Open()
	if err != nil {
		return Member{}, &EncodingError{Member: name, Err: err}
	}
	defer func() { _ = r.Close() }()

	header := &tar.Header{
		Name:     name,
		Size:     src.Size,
		Mode:     memberMode,
		ModTime:  modTime,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(header); err != nil {
		return Member{}, fmt.Errorf("write header for %s: %w", name, err)
	}

	hasher := sha256.New()
	n, err := io.CopyN(io.MultiWriter(tw, hasher), r, src.Size)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("short read: got %d of %d bytes", n, src.Size)
		}
		return Member{}, &EncodingError{Member: name, Err: err}
	}

	return Member{
		Name:   strings.TrimPrefix(name, ImagesPrefix),
		Size:   n,
		SHA256: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func addMetadataToArchive(tw *tar.Writer, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	header := &tar.Header{
		Name:     MetadataMember,
		Size:     int64(len(data)),
		Mode:     memberMode,
		ModTime:  meta.ExportedAt,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write metadata header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}
