package control

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/bioreactor/internal/clock"
)

// Valve is the feed valve actuator. Calls are fire-and-forget: there is no
// confirmation that the pump actually moved.
type Valve interface {
	Open() error
	Close() error
}

// FeedConfig holds the operator-set feed policy.
type FeedConfig struct {
	DesiredOD      float64
	Interval       time.Duration // minimum time between pulses
	PulseDuration  time.Duration // how long the valve stays open
	VolumePerPulse float64       // mL dispensed per pulse
}

// FeedController decides when to dispense nutrient.
type FeedController struct {
	cfg   FeedConfig
	valve Valve
	wall  WallClock
	run   *RunState
	log   zerolog.Logger

	lastPulse clock.Tick
	pulsed    bool

	// sincePulseMs accumulates in steps from lastSeen so the interval gate
	// survives tick wraparound however long the gap between pulses.
	sincePulseMs uint64
	lastSeen     clock.Tick

	valveOpen bool
	openedAt  clock.Tick
}

// NewFeedController creates a controller that has never pulsed.
func NewFeedController(cfg FeedConfig, valve Valve, wall WallClock, run *RunState, log zerolog.Logger) *FeedController {
	return &FeedController{
		cfg:   cfg,
		valve: valve,
		wall:  wall,
		run:   run,
		log:   log.With().Str("component", "feed").Logger(),
	}
}

// Evaluate fires a feed pulse iff the filtered OD is above the setpoint AND
// the minimum interval since the last pulse has elapsed. It reports whether
// a pulse was fired.
func (f *FeedController) Evaluate(filteredOD float64, now clock.Tick) bool {
	if f.run != nil {
		f.run.Touch(now)
	}
	f.touch(now)
	if !f.due(filteredOD) {
		return false
	}

	f.lastPulse = now
	f.pulsed = true
	f.sincePulseMs = 0

	if err := f.valve.Open(); err != nil {
		// Not retried; the level is re-checked on the next evaluation.
		f.log.Warn().Err(err).Msg("feed valve open failed")
	}
	f.valveOpen = true
	f.openedAt = now

	if f.run != nil {
		if f.run.Anchor(now, f.wall.Now(), f.wall.Confidence()) {
			f.log.Info().
				Str("run_id", f.run.ID).
				Int64("start_wall", f.run.StartWall).
				Str("confidence", string(f.run.StartConfidence)).
				Msg("run start anchored on first feed")
		}
		f.run.RecordPulse(f.cfg.VolumePerPulse)
	}

	f.log.Info().
		Float64("od", filteredOD).
		Float64("desired_od", f.cfg.DesiredOD).
		Msg("feed pulse")
	return true
}

func (f *FeedController) touch(now clock.Tick) {
	if f.pulsed {
		f.sincePulseMs += uint64(now.Since(f.lastSeen))
	}
	f.lastSeen = now
}

func (f *FeedController) due(filteredOD float64) bool {
	if !(filteredOD > f.cfg.DesiredOD) {
		return false
	}
	if !f.pulsed {
		return true
	}
	return f.sincePulseMs > uint64(clock.Millis(f.cfg.Interval))
}

// ServiceValve closes the valve once the pulse duration has elapsed.
// It is polled far more often than Evaluate so pulses never block the loop.
func (f *FeedController) ServiceValve(now clock.Tick) {
	f.touch(now)
	if !f.valveOpen {
		return
	}
	if now.Since(f.openedAt) < clock.Millis(f.cfg.PulseDuration) {
		return
	}
	if err := f.valve.Close(); err != nil {
		f.log.Warn().Err(err).Msg("feed valve close failed")
	}
	f.valveOpen = false
}

// SetRun switches bookkeeping to a new run. The interval gate is kept so a
// restart cannot cause an immediate double feed.
func (f *FeedController) SetRun(run *RunState) {
	f.run = run
}

// Run returns the current run.
func (f *FeedController) Run() *RunState {
	return f.run
}

// LastPulse returns the tick of the last pulse and whether one happened.
func (f *FeedController) LastPulse() (clock.Tick, bool) {
	return f.lastPulse, f.pulsed
}

// SincePulse returns the time since the last pulse, counted across tick
// wraparound, and whether a pulse has happened.
func (f *FeedController) SincePulse() (time.Duration, bool) {
	return time.Duration(f.sincePulseMs) * time.Millisecond, f.pulsed
}

// ValveOpen reports whether a pulse is in progress.
func (f *FeedController) ValveOpen() bool {
	return f.valveOpen
}
