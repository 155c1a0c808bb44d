// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package backup

import (
	"bytes"
	"io"
	"testing"
)

func TestPhaseProgress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		start, span, i, n int
		want              int
	}{
		{10, 70, 0, 1, 80},
		{10, 70, 0, 3, 33},
		{10, 70, 1, 3, 56},
		{10, 70, 2, 3, 80},
		{10, 70, 0, 0, 80},
		{10, 70, 0, 100, 10},
		{10, 70, 99, 100, 80},
	}

	for _, tt := range tests {
		if got := phaseProgress(tt.start, tt.span, tt.i, tt.n); got != tt.want {
			t.Errorf("phaseProgress(%d, %d, %d, %d) = %d, want %d", tt.start, tt.span, tt.i, tt.n, got, tt.want)
		}
	}
}

func TestReporterClampsAndNeverGoesBack(t *testing.T) {
	t.Parallel()

	var got []Progress
	r := newReporter(OpExport, func(p Progress) { got = append(got, p) }, nil)

	r.report(StateCollecting, -5)
	r.report(StateCollecting, 10)
	r.report(StateCollecting, 10)
	r.report(StateArchiving, 5)
	r.report(StateArchiving, 150)
	r.finish(StateDone)

	want := []Progress{
		{OpExport, StateCollecting, 0},
		{OpExport, StateCollecting, 10},
		{OpExport, StateArchiving, 10},
		{OpExport, StateArchiving, 100},
		{OpExport, StateDone, 100},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d notifications %+v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReporterFansOut(t *testing.T) {
	t.Parallel()

	var a, b int
	r := newReporter(OpImport, func(Progress) { a++ }, func(Progress) { b++ })
	r.report(StateSafetyBackup, 0)
	r.report(StateSafetyBackup, 15)
	if a != 2 || b != 2 {
		t.Errorf("expected both sinks to get 2 notifications, got %d and %d", a, b)
	}
}

func TestProgressReader(t *testing.T) {
	t.Parallel()

	var last int64
	pr := &progressReader{
		r:     bytes.NewReader(make([]byte, 1000)),
		total: 1000,
		fn:    func(read, _ int64) { last = read },
	}
	if _, err := io.Copy(io.Discard, pr); err != nil {
		t.Fatal(err)
	}
	if last != 1000 {
		t.Errorf("expected 1000 bytes reported, got %d", last)
	}
}
