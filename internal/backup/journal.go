// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/platebook/internal/fsstore"
	"github.com/tomtom215/platebook/internal/settings"
)

// journalFile lives in the recovery root, outside the database it describes.
const journalFile = "import-journal.json"

type journalPhase string

const (
	// journalReplacing: live files may be partly replaced.
	journalReplacing journalPhase = "replacing"
	// journalReplaced: the new live state is complete but settings may
	// not have been written to it yet.
	journalReplaced journalPhase = "replaced"
)

// journal records an in-flight replacement of live state.
type journal struct {
	Operation    Operation                   `json:"operation"`
	Phase        journalPhase                `json:"phase"`
	StartedAt    time.Time                   `json:"startedAt"`
	SafetyBackup settings.SafetyBackupRecord `json:"safetyBackup"`

	// CarryExport asks for LastExport to be written into the new database
	// (or the export record cleared when LastExport is nil).
	CarryExport bool                   `json:"carryExport"`
	LastExport  *settings.ExportRecord `json:"lastExport,omitempty"`
}

func (s *Service) journalPath() string {
	return filepath.Join(s.cfg.SafetyDir, journalFile)
}

func (s *Service) writeJournal(j *journal) error {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding import journal: %w", err)
	}
	if err := fsstore.WriteFileAtomic(s.journalPath(), data); err != nil {
		return fmt.Errorf("writing import journal: %w", err)
	}
	return nil
}

// readJournal returns the pending journal, or nil when there is none.
func (s *Service) readJournal() (*journal, error) {
	data, err := os.ReadFile(s.journalPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading import journal: %w", err)
	}
	var j journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decoding import journal: %w", err)
	}
	return &j, nil
}

func (s *Service) clearJournal() {
	if err := fsstore.Remove(s.journalPath()); err != nil {
		s.logger.Warn().Err(err).Msg("Removing import journal failed")
	}
}

// applyJournalRecords writes the settings a replacement owes the new database.
func (s *Service) applyJournalRecords(ctx context.Context, j *journal) error {
	if err := s.store.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := s.store.SaveSafetyBackup(ctx, j.SafetyBackup); err != nil {
		return err
	}
	if !j.CarryExport {
		return nil
	}
	if j.LastExport == nil {
		return s.store.ClearExport(ctx)
	}
	return s.store.SaveExport(ctx, *j.LastExport)
}
