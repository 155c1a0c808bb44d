// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const maxMetadataSize = 16 << 20

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Extracted describes an archive materialized into a staging directory.
type Extracted struct {
	Metadata     Metadata
	Dir          string
	DatabasePath string
	ImagesDir    string
}

// memberSink receives the content of binary members as they are read.
// abort is called once if decoding fails.
type memberSink interface {
	create(name string) (io.WriteCloser, error)
	abort()
}

type observedMember struct {
	size int64
	sum  string
}

// Decode reads a whole archive into memory. Nothing is returned unless
// every member is present and matches its recorded checksum.
func (c *Codec) Decode(r io.Reader) (*Bundle, error) {
	sink := &memorySink{blobs: make(map[string]*bytes.Buffer)}
	meta, err := c.readArchive(context.Background(), r, sink)
	if err != nil {
		return nil, err
	}

	bundle := &Bundle{
		Metadata: *meta,
		Database: sink.blobs[DatabaseMember].Bytes(),
		Images:   make([]Blob, 0, len(meta.Images)),
	}
	for _, img := range meta.Images {
		bundle.Images = append(bundle.Images, Blob{
			Name: img.Name,
			Data: sink.blobs[ImagesPrefix+img.Name].Bytes(),
		})
	}
	return bundle, nil
}

// DecodeBytes is Decode over an in-memory archive.
func (c *Codec) DecodeBytes(data []byte) (*Bundle, error) {
	return c.Decode(bytes.NewReader(data))
}

// Extract streams the archive into dir, which must not exist or be empty.
// The database lands at dir/database.sqlite and images under dir/images.
// On any failure dir is removed, so a caller never sees a partial extraction.
//
// Archive problems are reported as *InvalidArchiveError or
// *CorruptArchiveError; anything else is a local filesystem failure.
func (c *Codec) Extract(ctx context.Context, r io.Reader, dir string) (*Extracted, error) {
	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		return nil, fmt.Errorf("staging directory %s is not empty", dir)
	}
	imagesDir := filepath.Join(dir, strings.TrimSuffix(ImagesPrefix, "/"))
	if err := os.MkdirAll(imagesDir, 0o750); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	sink := &dirSink{dir: dir}
	meta, err := c.readArchive(ctx, r, sink)
	if err != nil {
		return nil, err
	}
	return &Extracted{
		Metadata:     *meta,
		Dir:          dir,
		DatabasePath: filepath.Join(dir, DatabaseMember),
		ImagesDir:    imagesDir,
	}, nil
}

// Verify reads the whole archive, checking structure and checksums without
// keeping any content, and returns its metadata.
func (c *Codec) Verify(ctx context.Context, r io.Reader) (*Metadata, error) {
	return c.readArchive(ctx, r, discardSink{})
}

func (c *Codec) readArchive(ctx context.Context, r io.Reader, sink memberSink) (_ *Metadata, err error) {
	defer func() {
		if err != nil {
			sink.abort()
		}
	}()

	stream, closeStream, err := openDecompressor(r)
	if err != nil {
		return nil, err
	}
	defer closeStream()

	tr := tar.NewReader(stream)
	seen := make(map[string]observedMember)
	var metaBytes []byte
	haveMeta := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("decode cancelled: %w", err)
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, corrupt("", err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeReg:
		default:
			return nil, invalid(hdr.Name, "unsupported entry type %q", hdr.Typeflag)
		}

		name, err := memberName(hdr.Name)
		if err != nil {
			return nil, err
		}
		if hdr.Size < 0 || hdr.Size > c.cfg.MaxMemberSize {
			return nil, invalid(name, "size %d exceeds limit %d", hdr.Size, c.cfg.MaxMemberSize)
		}

		if name == MetadataMember {
			if haveMeta {
				return nil, invalid(name, "duplicate member")
			}
			if hdr.Size > maxMetadataSize {
				return nil, invalid(name, "metadata larger than %d bytes", maxMetadataSize)
			}
			metaBytes, err = io.ReadAll(tr)
			if err != nil {
				return nil, corrupt(name, err)
			}
			haveMeta = true
			continue
		}

		if _, dup := seen[name]; dup {
			return nil, invalid(name, "duplicate member")
		}
		obs, err := copyMember(tr, sink, name)
		if err != nil {
			return nil, err
		}
		seen[name] = obs
	}

	if !haveMeta {
		return nil, invalid(MetadataMember, "missing mandatory member")
	}
	if _, ok := seen[DatabaseMember]; !ok {
		return nil, invalid(DatabaseMember, "missing mandatory member")
	}

	var meta Metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, corrupt(MetadataMember, err)
	}
	if meta.FormatVersion < 1 || meta.FormatVersion > FormatVersion {
		return nil, invalid(MetadataMember, "unsupported format version %d", meta.FormatVersion)
	}
	if err := verifyMembers(&meta, seen); err != nil {
		return nil, err
	}
	return &meta, nil
}

// openDecompressor sniffs the compression from the stream's magic bytes.
func openDecompressor(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	magic, _ := br.Peek(len(zstdMagic))
	if len(magic) == 0 {
		return nil, nil, corrupt("", errors.New("empty archive"))
	}

	switch {
	case len(magic) >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, corrupt("", fmt.Errorf("gzip: %w", err))
		}
		return gz, func() { _ = gz.Close() }, nil
	case bytes.HasPrefix(magic, zstdMagic):
		dec, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, corrupt("", fmt.Errorf("zstd: %w", err))
		}
		rc := dec.IOReadCloser()
		return rc, func() { _ = rc.Close() }, nil
	default:
		return br, func() {}, nil
	}
}

// memberName validates a tar entry name and returns its canonical form.
func memberName(raw string) (string, error) {
	name := strings.TrimPrefix(raw, "./")
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return "", invalid(raw, "unsafe member path")
	}
	if cleaned := path.Clean(name); cleaned != name || strings.HasPrefix(cleaned, "..") {
		return "", invalid(raw, "unsafe member path")
	}

	switch {
	case name == DatabaseMember, name == MetadataMember:
		return name, nil
	case strings.HasPrefix(name, ImagesPrefix):
		if !ValidImageName(strings.TrimPrefix(name, ImagesPrefix)) {
			return "", invalid(raw, "unsafe image name")
		}
		return name, nil
	default:
		return "", invalid(raw, "unexpected member")
	}
}

// trackingWriter remembers write errors so copy failures can be attributed
// to the destination rather than the archive.
type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}
	return n, err
}

func copyMember(r io.Reader, sink memberSink, name string) (observedMember, error) {
	w, err := sink.create(name)
	if err != nil {
		return observedMember{}, fmt.Errorf("stage %s: %w", name, err)
	}

	hasher := sha256.New()
	tw := &trackingWriter{w: io.MultiWriter(w, hasher)}
	n, copyErr := io.Copy(tw, r)
	closeErr := w.Close()

	if copyErr != nil {
		if tw.err != nil {
			return observedMember{}, fmt.Errorf("stage %s: %w", name, copyErr)
		}
		return observedMember{}, corrupt(name, copyErr)
	}
	if closeErr != nil {
		return observedMember{}, fmt.Errorf("stage %s: %w", name, closeErr)
	}
	return observedMember{size: n, sum: hex.EncodeToString(hasher.Sum(nil))}, nil
}

func verifyMembers(meta *Metadata, seen map[string]observedMember) error {
	check := func(key string, want Member) error {
		got, ok := seen[key]
		if !ok {
			return corrupt(key, errors.New("listed in metadata but absent"))
		}
		if got.size != want.Size || !strings.EqualFold(got.sum, want.SHA256) {
			return corrupt(key, errChecksumMismatch)
		}
		return nil
	}

	if err := check(DatabaseMember, meta.Database); err != nil {
		return err
	}
	for _, img := range meta.Images {
		if !ValidImageName(img.Name) {
			return invalid(MetadataMember, "unsafe image name %q", img.Name)
		}
		if err := check(ImagesPrefix+img.Name, img); err != nil {
			return err
		}
	}
	if len(seen) != 1+len(meta.Images) {
		for key := range seen {
			if key == DatabaseMember {
				continue
			}
			if !listed(meta.Images, strings.TrimPrefix(key, ImagesPrefix)) {
				return corrupt(key, errors.New("member not listed in metadata"))
			}
		}
	}
	return nil
}

func listed(images []Member, name string) bool {
	for _, img := range images {
		if img.Name == name {
			return true
		}
	}
	return false
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type memorySink struct {
	blobs map[string]*bytes.Buffer
}

func (s *memorySink) create(name string) (io.WriteCloser, error) {
	buf := &bytes.Buffer{}
	s.blobs[name] = buf
	return nopWriteCloser{buf}, nil
}

func (s *memorySink) abort() {
	s.blobs = nil
}

type discardSink struct{}

func (discardSink) create(string) (io.WriteCloser, error) { return nopWriteCloser{io.Discard}, nil }
func (discardSink) abort()                                {}

// dirSink writes members below dir and removes dir on abort.
type dirSink struct {
	dir string
}

func (s *dirSink) create(name string) (io.WriteCloser, error) {
	dest := filepath.Join(s.dir, filepath.FromSlash(name))
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, memberMode) //nolint:gosec // name validated by memberName
	if err != nil {
		return nil, err
	}
	return &syncedFile{f}, nil
}

func (s *dirSink) abort() {
	_ = os.RemoveAll(s.dir)
}

type syncedFile struct{ *os.File }

func (f *syncedFile) Close() error {
	if err := f.File.Sync(); err != nil {
		_ = f.File.Close()
		return err
	}
	return f.File.Close()
}
