// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tomtom215/platebook/internal/backup"
	"github.com/tomtom215/platebook/internal/logging"
)

var errAborted = errors.New("aborted, live state unchanged")

// confirm asks on stdin unless --yes was given. JSON mode never prompts.
func confirm(cmd *cobra.Command, a *app, question string) error {
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return nil
	}
	if a.out.jsonMode {
		return cmdErr(errors.New("refusing to replace live state without --yes"), ErrAborted)
	}
	fmt.Fprintf(a.out.stderr, "%s [y/N] ", question)
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && line == "" {
		return cmdErr(errAborted, ErrAborted)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	default:
		return cmdErr(errAborted, ErrAborted)
	}
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write a backup archive of the database and images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp(cmd)
			ctx := logging.ContextWithOperation(cmd.Context(), string(backup.OpExport))

			progress, bar := newProgress(a.out)
			res, err := a.svc.Export(ctx, progress)
			bar.finish()
			if err != nil {
				return err
			}

			a.out.success(res, fmt.Sprintf("Exported %s (%s, %d images) in %s",
				res.Record.Path,
				humanize.Bytes(uint64(res.Record.SizeBytes)), //nolint:gosec // sizes are non-negative
				len(res.Metadata.Images),
				res.Duration.Round(timeRounding(res.Duration))))
			return nil
		},
	}
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Replace all local data with the contents of an archive",
		Long: `Replace the live database and images with the contents of a backup archive.

A safety backup of the current data is taken first. If the replacement fails
the previous data is restored automatically; after a successful import it can
be brought back with 'platebook restore-previous'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp(cmd)
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				return cmdErr(fmt.Errorf("archive: %w", err), ErrNotFound)
			}

			if err := confirm(cmd, a, fmt.Sprintf("Replace ALL local data with %s?", filepath.Base(path))); err != nil {
				return err
			}

			ctx := logging.ContextWithOperation(cmd.Context(), string(backup.OpImport))
			progress, bar := newProgress(a.out)
			res, err := a.svc.Import(ctx, path, progress)
			bar.finish()
			if err != nil {
				return err
			}

			a.out.success(res, fmt.Sprintf("Imported %d images (archive from %s, Platebook %s)",
				len(res.Metadata.Images), humanize.Time(res.Metadata.ExportedAt), res.Metadata.AppVersion))
			if res.RestartRequired {
				a.out.warn("Restart Platebook to load the imported data.")
			}
			return nil
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newRestorePreviousCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore-previous",
		Short: "Undo the last import from its safety backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp(cmd)

			st, err := a.svc.Status(cmd.Context())
			if err != nil {
				return err
			}
			if st.LastSafetyBackup == nil {
				return backup.ErrNoSafetyBackup
			}
			question := fmt.Sprintf("Replace ALL local data with the safety backup from %s?",
				humanize.Time(st.LastSafetyBackup.Date))
			if err := confirm(cmd, a, question); err != nil {
				return err
			}

			ctx := logging.ContextWithOperation(cmd.Context(), string(backup.OpRestorePrevious))
			progress, bar := newProgress(a.out)
			res, err := a.svc.RestorePrevious(ctx, progress)
			bar.finish()
			if err != nil {
				return err
			}

			a.out.success(res, fmt.Sprintf("Restored data from %s", res.SafetyBackup.Date.Local().Format("2006-01-02 15:04")))
			if res.RestartRequired {
				a.out.warn("Restart Platebook to load the restored data.")
			}
			return nil
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired safety backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp(cmd)
			n := a.svc.PurgeSafetyBackups()
			a.out.success(map[string]int{"purged": n},
				fmt.Sprintf("Purged %s", pluralize(n, "expired safety backup")))
			return nil
		},
	}
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return humanize.Comma(int64(n)) + " " + noun + "s"
}
