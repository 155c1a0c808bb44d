// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/tomtom215/platebook/internal/backup"
)

const barWidth = 30

var barStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

// progressBar draws engine progress on one terminal line.
type progressBar struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
	last  backup.Progress
	drawn bool
}

// newProgress returns the callback for an operation, or nil when output is
// machine-readable or quiet.
func newProgress(w *writer) (backup.ProgressFunc, *progressBar) {
	if w.jsonMode || w.quietMode {
		return nil, nil
	}
	bar := &progressBar{out: w.stderr, color: colorsEnabled()}
	return bar.update, bar
}

func (b *progressBar) update(p backup.Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drawn && p == b.last {
		return
	}
	b.last = p
	b.drawn = true
	fmt.Fprintf(b.out, "\r%s", renderBar(p, b.color))
}

// finish ends the progress line.
func (b *progressBar) finish() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drawn {
		fmt.Fprintln(b.out)
		b.drawn = false
	}
}

func renderBar(p backup.Progress, color bool) string {
	pct := p.Percent
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := pct * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	if color {
		bar = barStyle.Render(bar)
	}
	label := strings.ReplaceAll(string(p.State), "_", " ")
	return fmt.Sprintf("%s %3d%% %-14s", bar, pct, label)
}
