// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package backup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/platebook/internal/archive"
	"github.com/tomtom215/platebook/internal/fsstore"
	"github.com/tomtom215/platebook/internal/logging"
	"github.com/tomtom215/platebook/internal/metrics"
	"github.com/tomtom215/platebook/internal/safety"
	"github.com/tomtom215/platebook/internal/settings"
)

// exportPrefix starts the file name of every export archive.
const exportPrefix = "platebook-backup-"

// LiveDatabase is the handle on the live database the Service drives.
// *database.DB satisfies it.
type LiveDatabase interface {
	settings.Conner
	Path() string
	Checkpoint(ctx context.Context) error
	Snapshot(ctx context.Context, dest string) error
	SchemaVersion(ctx context.Context) (int, error)
	Close() error
	Reopen(ctx context.Context) error
}

// Service runs export, import and restore operations over live state.
// At most one operation runs at a time; others fail with ErrBusy.
type Service struct {
	cfg      Config
	db       LiveDatabase
	store    *settings.Store
	safety   *safety.Manager
	codec    *archive.Codec
	logger   zerolog.Logger
	now      func() time.Time
	observer atomic.Pointer[ProgressFunc]

	opMu   sync.Mutex
	active Operation

	// live is held for writing while live files are swapped.
	live sync.RWMutex

	// failpoint, when set, is consulted at named steps and may inject an
	// error. Tests only.
	failpoint func(name string) error
}

// New validates cfg, prepares the working directories and ensures the
// settings table exists in the live database.
func New(ctx context.Context, cfg Config, db LiveDatabase) (*Service, error) {
	if db == nil {
		return nil, errors.New("backup: live database is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, dir := range []string{cfg.ExportDir, cfg.SafetyDir, cfg.StagingDir} {
		if err := fsstore.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("backup: %w", err)
		}
	}

	mgr, err := safety.NewManager(safety.Config{
		Root: cfg.SafetyDir,
		Live: safety.LiveState{
			DatabasePath: db.Path(),
			ImagesDir:    cfg.ImagesDir,
		},
		CopyWorkers: cfg.CopyWorkers,
	})
	if err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}

	store := settings.New(db)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}

	return &Service{
		cfg:    cfg,
		db:     db,
		store:  store,
		safety: mgr,
		codec: archive.NewCodec(archive.Config{
			Compression:   cfg.Compression,
			Level:         cfg.CompressionLevel,
			MaxMemberSize: cfg.MaxMemberSize,
		}),
		logger: logging.WithComponent("backup"),
		now:    time.Now,
	}, nil
}

// Settings returns the settings store over the live database.
func (s *Service) Settings() *settings.Store {
	return s.store
}

// Codec returns the archive codec used for exports.
func (s *Service) Codec() *archive.Codec {
	return s.codec
}

// SetProgressObserver registers fn to receive every Progress of every
// operation in addition to the per-call callback. Pass nil to remove it.
func (s *Service) SetProgressObserver(fn ProgressFunc) {
	if fn == nil {
		s.observer.Store(nil)
		return
	}
	s.observer.Store(&fn)
}

func (s *Service) newReporter(op Operation, progress ProgressFunc) *reporter {
	var observer ProgressFunc
	if p := s.observer.Load(); p != nil {
		observer = *p
	}
	return newReporter(op, progress, observer)
}

// WithLiveState runs fn while live files are guaranteed not to be swapped.
func (s *Service) WithLiveState(fn func() error) error {
	s.live.RLock()
	defer s.live.RUnlock()
	return fn()
}

// Active returns the running operation, or OpNone.
func (s *Service) Active() Operation {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.active
}

// begin claims the service for op and returns the release function. The
// claim covers this process and, through the lock file in SafetyDir, every
// other process sharing the same data directory.
func (s *Service) begin(op Operation) (func(), error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.active != OpNone {
		metrics.RecordBackupOperation(string(op), "busy", 0)
		return nil, &BusyError{Active: s.active}
	}
	lock, err := acquireDirLock(s.cfg.SafetyDir, op)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			metrics.RecordBackupOperation(string(op), "busy", 0)
		}
		return nil, err
	}
	s.active = op
	metrics.TrackBackupInProgress(string(op), true)
	return func() {
		s.opMu.Lock()
		s.active = OpNone
		lock.release()
		s.opMu.Unlock()
		metrics.TrackBackupInProgress(string(op), false)
	}, nil
}

func (s *Service) inject(name string) error {
	if s.failpoint == nil {
		return nil
	}
	return s.failpoint(name)
}

// resultLabel classifies err for the operations counter.
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	var ie *ImportError
	if errors.As(err, &ie) {
		switch {
		case ie.Phase == PhaseRollbackFailed:
			return "rollback_failed"
		case ie.RolledBack:
			return "rolled_back"
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "failure"
}

// Status reports the engine state and the records a settings screen shows.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{Operation: s.Active()}
	st.Busy = st.Operation != OpNone

	err := s.WithLiveState(func() error {
		var err error
		if st.LastExport, err = s.store.LastExport(ctx); err != nil {
			return err
		}
		st.LastSafetyBackup, err = s.store.LastSafetyBackup(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading backup settings: %w", err)
	}

	records, err := s.safety.List()
	if err != nil {
		return nil, err
	}
	st.SafetyBackups = len(records)

	if st.Exports, err = s.ListExports(); err != nil {
		return nil, err
	}
	return st, nil
}

// ListExports returns the export archives in the export directory, newest first.
func (s *Service) ListExports() ([]ExportFile, error) {
	files, err := fsstore.ListFiles(s.cfg.ExportDir)
	if err != nil {
		return nil, err
	}
	out := make([]ExportFile, 0, len(files))
	for _, f := range files {
		if !isExportName(f.Name) {
			continue
		}
		out = append(out, ExportFile{Name: f.Name, Path: f.Path, Size: f.Size, ModTime: f.ModTime})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].Name > out[j].Name
		}
		return out[i].ModTime.After(out[j].ModTime)
	})
	return out, nil
}

// ExportPath resolves an archive name from ListExports to its path.
func (s *Service) ExportPath(name string) (string, error) {
	if name != filepath.Base(name) || !isExportName(name) {
		return "", fmt.Errorf("%w: %q", ErrExportNotFound, name)
	}
	p := filepath.Join(s.cfg.ExportDir, name)
	if !fsstore.Exists(p) {
		return "", fmt.Errorf("%w: %q", ErrExportNotFound, name)
	}
	return p, nil
}

func isExportName(name string) bool {
	if !strings.HasPrefix(name, exportPrefix) {
		return false
	}
	for _, c := range []archive.Compression{archive.CompressionNone, archive.CompressionGzip, archive.CompressionZstd} {
		if strings.HasSuffix(name, c.Extension()) {
			return true
		}
	}
	return false
}

// PurgeSafetyBackups deletes expired safety backups and returns how many
// were removed. It does nothing while another operation runs.
func (s *Service) PurgeSafetyBackups() int {
	release, err := s.begin(OpPurge)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Skipping safety backup purge")
		return 0
	}
	n := s.safety.PurgeExpired(s.cfg.retentionPolicy())
	release()

	metrics.RecordSafetyPurge(n)
	if n > 0 {
		s.logger.Info().Int("purged", n).Msg("Expired safety backups purged")
	}
	return n
}
