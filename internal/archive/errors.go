// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package archive

import (
	"errors"
	"fmt"
)

// EncodingError reports that a member could not be read while an archive
// was being written. The archive produced so far must be discarded.
type EncodingError struct {
	Member string
	Err    error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("archive: encoding %s: %v", e.Member, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// InvalidArchiveError reports a well-formed container that is not a
// Platebook backup: a mandatory member is missing, a member name is unsafe,
// or the format version is unsupported.
type InvalidArchiveError struct {
	Member string
	Reason string
}

func (e *InvalidArchiveError) Error() string {
	if e.Member == "" {
		return "archive: invalid backup: " + e.Reason
	}
	return fmt.Sprintf("archive: invalid backup: %s: %s", e.Member, e.Reason)
}

// CorruptArchiveError reports a container that cannot be parsed or whose
// contents disagree with the checksums recorded in its metadata.
type CorruptArchiveError struct {
	Member string
	Err    error
}

func (e *CorruptArchiveError) Error() string {
	if e.Member == "" {
		return fmt.Sprintf("archive: corrupt backup: %v", e.Err)
	}
	return fmt.Sprintf("archive: corrupt backup: %s: %v", e.Member, e.Err)
}

func (e *CorruptArchiveError) Unwrap() error { return e.Err }

// errChecksumMismatch is wrapped by CorruptArchiveError when a member's
// SHA-256 differs from the metadata.
var errChecksumMismatch = errors.New("checksum mismatch")

// IsArchiveError reports whether err is an InvalidArchiveError or a
// CorruptArchiveError, i.e. a problem with the archive rather than with
// the local filesystem.
func IsArchiveError(err error) bool {
	var invalid *InvalidArchiveError
	var corrupt *CorruptArchiveError
	return errors.As(err, &invalid) || errors.As(err, &corrupt)
}

func invalid(member, format string, args ...any) error {
	return &InvalidArchiveError{Member: member, Reason: fmt.Sprintf(format, args...)}
}

func corrupt(member string, err error) error {
	return &CorruptArchiveError{Member: member, Err: err}
}
