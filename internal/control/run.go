// Package control contains the closed-loop decisions of the bioreactor:
// OD-driven feed pulses and gain-scheduled PID temperature control.
//
// Like the clock and filter packages it has no hardware or network
// dependencies; ticks are always passed in by the caller.
package control

import (
	"time"

	"github.com/sweeney/bioreactor/internal/clock"
)

// WallClock is the part of the clock base the controllers read.
type WallClock interface {
	Now() int64
	Confidence() clock.Confidence
}

// RunState is the bookkeeping for one culture run.
// It is created at run start and only replaced by an explicit restart.
type RunState struct {
	ID              string
	StartTick       clock.Tick
	StartWall       int64
	StartConfidence clock.Confidence

	// Anchored is set by the first feed pulse, which re-stamps the start.
	Anchored bool

	Pulses      int
	TotalVolume float64 // mL

	elapsedMs uint64
	lastTick  clock.Tick
}

// NewRunState starts a run at the given tick and wall time.
func NewRunState(id string, now clock.Tick, wall int64, conf clock.Confidence) *RunState {
	return &RunState{
		ID:              id,
		StartTick:       now,
		StartWall:       wall,
		StartConfidence: conf,
		lastTick:        now,
	}
}

// Touch accumulates elapsed time up to now. Accumulating in steps keeps the
// total correct across tick wraparound as long as it is called regularly.
func (r *RunState) Touch(now clock.Tick) {
	r.elapsedMs += uint64(now.Since(r.lastTick))
	r.lastTick = now
}

// Elapsed is the run time accumulated by Touch.
func (r *RunState) Elapsed() time.Duration {
	return time.Duration(r.elapsedMs) * time.Millisecond
}

// Anchor re-stamps the run start. It only takes effect once per run and
// reports whether it did.
func (r *RunState) Anchor(now clock.Tick, wall int64, conf clock.Confidence) bool {
	if r.Anchored {
		return false
	}
	r.Anchored = true
	r.StartTick = now
	r.StartWall = wall
	r.StartConfidence = conf
	r.elapsedMs = 0
	r.lastTick = now
	return true
}

// RecordPulse adds one dispensed pulse of volume mL.
func (r *RunState) RecordPulse(volume float64) {
	r.Pulses++
	r.TotalVolume += volume
}
