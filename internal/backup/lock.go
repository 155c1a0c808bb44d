// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// lockFileName is the advisory lock every process sharing a data
// directory takes before touching live state, the journal or scratch.
const lockFileName = ".lock"

// errLockHeld is returned by tryLockFile when another open file
// description holds the lock.
var errLockHeld = errors.New("lock held")

// dirLock is a held advisory lock on <SafetyDir>/.lock. The file holds the
// name of the running operation so other processes can report it.
type dirLock struct {
	f *os.File
}

// acquireDirLock takes the lock without waiting. When another process
// holds it the error is a *BusyError naming that process's operation.
func acquireDirLock(dir string, op Operation) (*dirLock, error) {
	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // paths come from configuration
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := tryLockFile(f); err != nil {
		_ = f.Close()
		if errors.Is(err, errLockHeld) {
			return nil, &BusyError{Active: lockHolder(path)}
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(op), 0)
	}
	return &dirLock{f: f}, nil
}

// release clears the operation name and drops the lock.
func (l *dirLock) release() {
	if l == nil || l.f == nil {
		return
	}
	_ = l.f.Truncate(0)
	_ = unlockFile(l.f)
	_ = l.f.Close()
	l.f = nil
}

// lockHolder reads the operation recorded by the lock's holder. It is
// OpNone when the holder has not written it yet.
func lockHolder(path string) Operation {
	data, err := os.ReadFile(path) //nolint:gosec // paths come from configuration
	if err != nil {
		return OpNone
	}
	return Operation(strings.TrimSpace(string(data)))
}
