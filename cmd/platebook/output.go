// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"
)

// colorsEnabled honors NO_COLOR and dumb terminals.
func colorsEnabled() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return os.Getenv("TERM") != "dumb"
}

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// writer renders command results as JSON envelopes or human text.
// Data goes to stdout, diagnostics to stderr.
type writer struct {
	jsonMode  bool
	quietMode bool
	stdout    io.Writer
	stderr    io.Writer
}

type successEnvelope struct {
	OK      bool   `json:"ok"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

type errorEnvelope struct {
	OK    bool      `json:"ok"`
	Error string    `json:"error"`
	Code  ErrorCode `json:"code"`
}

func (w *writer) encode(v any) {
	enc := json.NewEncoder(w.stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(w.stderr, "Error: encoding output: %v\n", err)
	}
}

// success prints data as JSON, or message for humans. Multi-line messages
// are printed as-is.
func (w *writer) success(data any, message string) {
	if w.jsonMode {
		w.encode(successEnvelope{OK: true, Data: data, Message: message})
		return
	}
	if message == "" {
		return
	}
	if strings.Contains(message, "\n") || !colorsEnabled() {
		fmt.Fprintln(w.stdout, message)
		return
	}
	fmt.Fprintf(w.stdout, "%s %s\n", okStyle.Render("✔"), message)
}

// fail prints err and returns the exit code for code.
func (w *writer) fail(err error, code ErrorCode) int {
	if w.jsonMode {
		w.encode(errorEnvelope{OK: false, Error: err.Error(), Code: code})
	} else if colorsEnabled() {
		fmt.Fprintf(w.stderr, "%s %s %s\n", errStyle.Render("✘"), errStyle.Render("Error:"), err)
	} else {
		fmt.Fprintf(w.stderr, "Error: %s\n", err)
	}
	return ExitCodeForError(code)
}

func (w *writer) info(format string, args ...any) {
	if w.quietMode || w.jsonMode {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if colorsEnabled() {
		msg = mutedStyle.Render(msg)
	}
	fmt.Fprintln(w.stderr, msg)
}

// warn is shown in quiet mode too, but never in JSON mode.
func (w *writer) warn(format string, args ...any) {
	if w.jsonMode {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if colorsEnabled() {
		fmt.Fprintf(w.stderr, "%s %s\n", warnStyle.Render("Warning:"), msg)
		return
	}
	fmt.Fprintf(w.stderr, "Warning: %s\n", msg)
}
