// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomtom215/platebook/internal/archive"
	"github.com/tomtom215/platebook/internal/backup"
	"github.com/tomtom215/platebook/internal/config"
	"github.com/tomtom215/platebook/internal/database"
	"github.com/tomtom215/platebook/internal/fsstore"
	"github.com/tomtom215/platebook/internal/logging"
)

type contextKey string

const appKey contextKey = "app"

// Command annotations.
const (
	annotationNoEngine = "noEngine"

	// annotationDaemon keeps the configured log level; other commands log
	// warnings and above unless --log-level is given.
	annotationDaemon = "daemon"
)

// app carries what a command needs once the root has loaded configuration.
type app struct {
	cfg *config.Config
	out *writer
	in  io.Reader

	db  *database.DB
	svc *backup.Service
}

// engine opens the live database, builds the backup service and runs
// startup recovery.
func (a *app) engine(ctx context.Context) (*backup.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	st := a.cfg.Storage
	if err := fsstore.EnsureDir(st.ImagesDir); err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, st.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	svc, err := backup.New(ctx, a.backupConfig(), db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	res, err := svc.Recover(ctx)
	switch {
	case errors.Is(err, backup.ErrBusy):
		logging.Debug().Err(err).Msg("Another process holds the data directory, skipping startup recovery")
	case err != nil:
		_ = db.Close()
		return nil, fmt.Errorf("startup recovery: %w", err)
	case res.RolledBack:
		a.out.warn("An interrupted import was rolled back; your previous data is in place.")
	}

	a.db = db
	a.svc = svc
	return svc, nil
}

func (a *app) backupConfig() backup.Config {
	bc := a.cfg.Backup
	// Validated by config.Load.
	compression, _ := archive.ParseCompression(bc.Compression)
	return backup.Config{
		ImagesDir:        a.cfg.Storage.ImagesDir,
		ExportDir:        a.cfg.Storage.ExportDir,
		SafetyDir:        a.cfg.Storage.SafetyDir,
		StagingDir:       a.cfg.Storage.StagingDir,
		AppVersion:       version,
		Compression:      compression,
		CompressionLevel: bc.CompressionLevel,
		MaxMemberSize:    bc.MaxMemberSize,
		CopyWorkers:      bc.CopyWorkers,
		SafetyRetention:  bc.SafetyRetention,
		KeepLatestSafety: bc.KeepLatestSafety,
	}
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db, a.svc = nil, nil
	return err
}

func getApp(cmd *cobra.Command) *app {
	a, _ := cmd.Context().Value(appKey).(*app)
	return a
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "platebook",
		Short:         "Back up and restore Platebook's local data",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			out := newWriter(cmd)

			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return cmdErr(err, ErrConfig)
			}

			level := cfg.Logging.Level
			format := cfg.Logging.Format
			if _, daemon := cmd.Annotations[annotationDaemon]; !daemon {
				level, format = "warn", "console"
			}
			if flagLevel, _ := cmd.Flags().GetString("log-level"); flagLevel != "" {
				level = flagLevel
			}
			logging.Init(logging.Config{
				Level:     level,
				Format:    format,
				Caller:    cfg.Logging.Caller,
				Timestamp: cfg.Logging.Timestamp,
				Output:    cmd.ErrOrStderr(),
			})

			a := &app{cfg: cfg, out: out, in: cmd.InOrStdin()}
			ctx := logging.ContextWithNewCorrelationID(cmd.Context())
			ctx = context.WithValue(ctx, appKey, a)
			cmd.SetContext(ctx)

			if _, ok := cmd.Annotations[annotationNoEngine]; ok {
				return nil
			}
			if _, err := a.engine(ctx); err != nil {
				return err
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a := getApp(cmd); a != nil {
				return a.close()
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to the YAML config file (default: $CONFIG_PATH or ./platebook.yaml)")
	flags.Bool("json", false, "Output in JSON format")
	flags.BoolP("quiet", "q", false, "Suppress progress and informational output")
	flags.String("log-level", "", "Override the log level")

	root.AddCommand(
		newServeCmd(),
		newExportCmd(),
		newImportCmd(),
		newRestorePreviousCmd(),
		newStatusCmd(),
		newExportsCmd(),
		newVerifyCmd(),
		newPurgeCmd(),
	)
	return root
}

func newWriter(cmd *cobra.Command) *writer {
	jsonMode, _ := cmd.Flags().GetBool("json")
	quietMode, _ := cmd.Flags().GetBool("quiet")
	return &writer{
		jsonMode:  jsonMode,
		quietMode: quietMode,
		stdout:    cmd.OutOrStdout(),
		stderr:    cmd.ErrOrStderr(),
	}
}

// run executes the command line and returns the exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	cmd, err := root.ExecuteContextC(ctx)
	if cmd == nil {
		cmd = root
	}
	if a := getAppSafe(cmd); a != nil && err != nil {
		_ = a.close()
	}
	if err == nil {
		return ExitSuccess
	}

	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	return newWriter(cmd).fail(err, classify(err))
}

// getAppSafe tolerates commands that never ran PersistentPreRunE.
func getAppSafe(cmd *cobra.Command) *app {
	if cmd.Context() == nil {
		return nil
	}
	return getApp(cmd)
}

// exitError ends the process with code after the command already reported
// its outcome.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// Execute runs platebook with the process arguments and signals.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}
