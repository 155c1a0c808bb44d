// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tomtom215/platebook/internal/archive"
	"github.com/tomtom215/platebook/internal/backup"
)

var (
	sectionStyle = lipgloss.NewStyle().Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle   = lipgloss.NewStyle().Bold(true)
)

// timeRounding picks a display precision for d.
func timeRounding(d time.Duration) time.Duration {
	switch {
	case d < time.Second:
		return time.Millisecond
	case d < time.Minute:
		return 100 * time.Millisecond
	default:
		return time.Second
	}
}

func field(color bool, label, value string) string {
	if color {
		return fmt.Sprintf("  %s %s", labelStyle.Render(fmt.Sprintf("%-14s", label)), valueStyle.Render(value))
	}
	return fmt.Sprintf("  %-14s %s", label, value)
}

func section(color bool, title string) string {
	if color {
		return sectionStyle.Render(title)
	}
	return title
}

func whenAndAgo(t time.Time) string {
	return fmt.Sprintf("%s (%s)", t.Local().Format("2006-01-02 15:04"), humanize.Time(t))
}

// renderStatus formats a status snapshot for the terminal.
func renderStatus(st *backup.Status, color bool) string {
	var lines []string

	lines = append(lines, section(color, "Engine"))
	if st.Busy {
		lines = append(lines, field(color, "State:", "busy ("+string(st.Operation)+")"))
	} else {
		lines = append(lines, field(color, "State:", "idle"))
	}

	lines = append(lines, "", section(color, "Last export"))
	if st.LastExport == nil {
		lines = append(lines, field(color, "Date:", "never"))
	} else {
		lines = append(lines,
			field(color, "Date:", whenAndAgo(st.LastExport.Date)),
			field(color, "File:", st.LastExport.Path),
			field(color, "Size:", humanize.Bytes(uint64(st.LastExport.SizeBytes))), //nolint:gosec // non-negative
			field(color, "Version:", st.LastExport.ProducedByVersion),
		)
	}

	lines = append(lines, "", section(color, "Safety backup"))
	if st.LastSafetyBackup == nil {
		lines = append(lines, field(color, "Latest:", "none"))
	} else {
		lines = append(lines,
			field(color, "Latest:", whenAndAgo(st.LastSafetyBackup.Date)),
			field(color, "Location:", st.LastSafetyBackup.Location),
		)
	}
	lines = append(lines, field(color, "On disk:", fmt.Sprintf("%d", st.SafetyBackups)))

	lines = append(lines, "", section(color, "Exports"))
	lines = append(lines, field(color, "Archives:", fmt.Sprintf("%d", len(st.Exports))))

	return strings.Join(lines, "\n")
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last export and safety backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp(cmd)
			st, err := a.svc.Status(cmd.Context())
			if err != nil {
				return err
			}
			var message string
			if !a.out.jsonMode {
				message = renderStatus(st, colorsEnabled())
			}
			a.out.success(st, message)
			return nil
		},
	}
}

// renderExports formats archives as an aligned table, newest first.
func renderExports(files []backup.ExportFile, color bool) string {
	if len(files) == 0 {
		return "No export archives."
	}
	width := len("NAME")
	for _, f := range files {
		width = max(width, len(f.Name))
	}
	header := fmt.Sprintf("%-*s  %10s  %s", width, "NAME", "SIZE", "CREATED")
	if color {
		header = sectionStyle.Render(header)
	}
	lines := []string{header}
	for _, f := range files {
		lines = append(lines, fmt.Sprintf("%-*s  %10s  %s", width, f.Name,
			humanize.Bytes(uint64(f.Size)), humanize.Time(f.ModTime))) //nolint:gosec // non-negative
	}
	return strings.Join(lines, "\n")
}

func newExportsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exports",
		Short: "List export archives, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp(cmd)
			files, err := a.svc.ListExports()
			if err != nil {
				return err
			}
			var message string
			if !a.out.jsonMode {
				message = renderExports(files, colorsEnabled())
			}
			a.out.success(files, message)
			return nil
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "verify FILE",
		Short:       "Check an archive's structure and checksums without importing it",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{annotationNoEngine: ""},
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp(cmd)
			f, err := os.Open(args[0])
			if err != nil {
				return cmdErr(fmt.Errorf("archive: %w", err), ErrNotFound)
			}
			defer f.Close()

			bc := a.backupConfig()
			codec := archive.NewCodec(archive.Config{
				Compression:   bc.Compression,
				MaxMemberSize: bc.MaxMemberSize,
			})
			meta, err := codec.Verify(cmd.Context(), f)
			if err != nil {
				return cmdErr(fmt.Errorf("%s is not a valid Platebook archive: %w", filepath.Base(args[0]), err), ErrInvalidArchive)
			}

			var total int64
			for _, img := range meta.Images {
				total += img.Size
			}
			a.out.success(meta, fmt.Sprintf("%s is valid: database %s, %d images (%s), exported %s by Platebook %s",
				filepath.Base(args[0]),
				humanize.Bytes(uint64(meta.Database.Size)), //nolint:gosec // non-negative
				len(meta.Images),
				humanize.Bytes(uint64(total)), //nolint:gosec // non-negative
				humanize.Time(meta.ExportedAt),
				meta.AppVersion))
			return nil
		},
	}
}
