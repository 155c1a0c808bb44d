// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package fsstore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTestFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "settings.json")

	if err := WriteFileAtomic(path, []byte("first")); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("second")); err != nil {
		t.Fatalf("WriteFileAtomic overwrite failed: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("expected 'second', got %q", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected no temp files left behind, found %d entries", len(entries))
	}
}

func TestListFilesMissingDir(t *testing.T) {
	t.Parallel()

	files, err := ListFiles(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("expected no error for missing dir, got %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected 0 files, got %d", len(files))
	}
}

func TestListFilesSortedRegularOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "b.jpg"), []byte("bb"))
	writeTestFile(t, filepath.Join(dir, "a.jpg"), []byte("a"))
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatal(err)
	}

	files, err := ListFiles(dir)
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if files[0].Name != "a.jpg" || files[1].Name != "b.jpg" {
		t.Errorf("expected sorted names, got %s, %s", files[0].Name, files[1].Name)
	}
	if files[1].Size != 2 {
		t.Errorf("expected size 2, got %d", files[1].Size)
	}
}

func TestCopyDir(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "images")
	dst := filepath.Join(t.TempDir(), "copy")
	writeTestFile(t, filepath.Join(src, "one.png"), []byte{1, 2, 3})
	writeTestFile(t, filepath.Join(src, "two.png"), []byte{4, 5})
	writeTestFile(t, filepath.Join(src, "thumbs", "one.png"), []byte{9})

	if err := CopyDir(context.Background(), src, dst, 2); err != nil {
		t.Fatalf("CopyDir failed: %v", err)
	}

	for _, rel := range []string{"one.png", "two.png", filepath.Join("thumbs", "one.png")} {
		want, _ := os.ReadFile(filepath.Join(src, rel))
		got, err := os.ReadFile(filepath.Join(dst, rel))
		if err != nil {
			t.Fatalf("expected %s to be copied: %v", rel, err)
		}
		if !bytes.Equal(want, got) {
			t.Errorf("content mismatch for %s", rel)
		}
	}
}

func TestCopyDirMissingSource(t *testing.T) {
	t.Parallel()

	dst := filepath.Join(t.TempDir(), "copy")
	if err := CopyDir(context.Background(), filepath.Join(t.TempDir(), "nope"), dst, 0); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !Exists(dst) {
		t.Error("expected destination directory to be created")
	}
}

func TestCopyDirRejectsSymlink(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeTestFile(t, filepath.Join(src, "real.jpg"), []byte("x"))
	if err := os.Symlink(filepath.Join(src, "real.jpg"), filepath.Join(src, "link.jpg")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	err := CopyDir(context.Background(), src, filepath.Join(t.TempDir(), "dst"), 1)
	if !errors.Is(err, ErrSymlink) {
		t.Errorf("expected ErrSymlink, got %v", err)
	}
}

func TestMoveAndRemove(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "staging", "db.sqlite")
	dst := filepath.Join(dir, "live", "db.sqlite")
	writeTestFile(t, src, []byte("db"))

	if err := Move(context.Background(), src, dst); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if Exists(src) {
		t.Error("expected source to be gone after move")
	}
	if err := Remove(dst); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := Remove(dst); err != nil {
		t.Errorf("expected removing a missing file to succeed, got %v", err)
	}
}

func TestDirSize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "a"), make([]byte, 10))
	writeTestFile(t, filepath.Join(dir, "x", "b"), make([]byte, 5))

	size, err := DirSize(dir)
	if err != nil {
		t.Fatalf("DirSize failed: %v", err)
	}
	if size != 15 {
		t.Errorf("expected 15 bytes, got %d", size)
	}
}

func TestIsWithin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dir, path string
		want      bool
	}{
		{"/data/staging", "/data/staging/images/a.jpg", true},
		{"/data/staging", "/data/staging", true},
		{"/data/staging", "/data/staging-evil/a.jpg", false},
		{"/data/staging", "/data/staging/../live.db", false},
	}
	for _, tt := range tests {
		if got := IsWithin(tt.dir, tt.path); got != tt.want {
			t.Errorf("IsWithin(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}
