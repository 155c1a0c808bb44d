// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package backup

import (
	"io"
	"sync"
)

// reporter delivers Progress for one operation to the caller's callback and
// the service-wide observer. Percent is clamped to 0-100 and never goes
// backwards; repeated identical notifications are dropped.
type reporter struct {
	op       Operation
	sinks    []ProgressFunc
	mu       sync.Mutex
	percent  int
	state    State
	reported bool
}

func newReporter(op Operation, sinks ...ProgressFunc) *reporter {
	r := &reporter{op: op}
	for _, fn := range sinks {
		if fn != nil {
			r.sinks = append(r.sinks, fn)
		}
	}
	return r
}

func (r *reporter) report(state State, percent int) {
	r.mu.Lock()
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent < r.percent {
		percent = r.percent
	}
	if r.reported && percent == r.percent && state == r.state {
		r.mu.Unlock()
		return
	}
	r.percent, r.state, r.reported = percent, state, true
	p := Progress{Operation: r.op, State: state, Percent: percent}
	r.mu.Unlock()

	for _, fn := range r.sinks {
		fn(p)
	}
}

// finish reports a terminal state at the current percentage.
func (r *reporter) finish(state State) {
	r.mu.Lock()
	percent := r.percent
	r.mu.Unlock()
	r.report(state, percent)
}

// phaseProgress maps item i (0-based) of n onto [start, start+span].
func phaseProgress(start, span, i, n int) int {
	if n <= 0 {
		return start + span
	}
	return start + (i+1)*span/n
}

// progressReader reports how much of a file of known size has been read.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	fn    func(read, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		if p.fn != nil && p.total > 0 {
			p.fn(p.read, p.total)
		}
	}
	return n, err
}
