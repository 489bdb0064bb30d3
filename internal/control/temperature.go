package control

import (
	"math"
	"time"

	"github.com/sweeney/bioreactor/internal/clock"
)

// GainSet names the active tuning regime.
type GainSet string

const (
	GainsAggressive   GainSet = "aggressive"
	GainsConservative GainSet = "conservative"
)

// LoopState is the controller lifecycle. There is no way back from Running.
type LoopState string

const (
	LoopUninitialized LoopState = "UNINITIALIZED"
	LoopRunning       LoopState = "RUNNING"
)

// TemperatureConfig holds setpoint, tunings and bounds.
type TemperatureConfig struct {
	Desired      float64
	Aggressive   Gains
	Conservative Gains
	// GapThreshold is the |error| above which the aggressive tuning is used.
	GapThreshold float64
	SampleTime   time.Duration
	MinOutput    float64
	MaxOutput    float64 // heater limit, operator policy
}

// TemperatureController drives the heater from the measured temperature.
type TemperatureController struct {
	cfg TemperatureConfig
	pid *PID

	state       LoopState
	gainSet     GainSet
	measured    float64
	lastCompute clock.Tick
}

// NewTemperatureController creates an uninitialised controller.
func NewTemperatureController(cfg TemperatureConfig) *TemperatureController {
	if cfg.SampleTime <= 0 {
		cfg.SampleTime = 10 * time.Second
	}
	return &TemperatureController{
		cfg:     cfg,
		pid:     NewPID(cfg.Conservative, cfg.SampleTime, cfg.MinOutput, cfg.MaxOutput),
		state:   LoopUninitialized,
		gainSet: GainsConservative,
	}
}

// Update feeds a measurement and returns the heater output in [min, max].
// A new output is computed on the first call and then only once SampleTime
// has elapsed since the last computation; other calls return the held value.
func (c *TemperatureController) Update(measured float64, now clock.Tick) float64 {
	c.measured = measured

	switch c.state {
	case LoopUninitialized:
		c.pid.Initialize(measured, 0)
		c.state = LoopRunning
	case LoopRunning:
		if now.Since(c.lastCompute) < clock.Millis(c.cfg.SampleTime) {
			return c.pid.Output()
		}
	}

	c.gainSet = SelectGains(c.cfg.Desired-measured, c.cfg.GapThreshold)
	if c.gainSet == GainsAggressive {
		c.pid.SetGains(c.cfg.Aggressive)
	} else {
		c.pid.SetGains(c.cfg.Conservative)
	}
	c.lastCompute = now
	return c.pid.Compute(c.cfg.Desired, measured)
}

// SelectGains picks the aggressive tuning when |gap| exceeds threshold.
func SelectGains(gap, threshold float64) GainSet {
	if math.Abs(gap) > threshold {
		return GainsAggressive
	}
	return GainsConservative
}

// Output is the currently held heater output.
func (c *TemperatureController) Output() float64 {
	return c.pid.Output()
}

// GainSet reports the tuning used by the last computation.
func (c *TemperatureController) GainSet() GainSet {
	return c.gainSet
}

// State reports the lifecycle state.
func (c *TemperatureController) State() LoopState {
	return c.state
}

// Measured is the last temperature passed to Update.
func (c *TemperatureController) Measured() float64 {
	return c.measured
}

// Setpoint is the desired temperature.
func (c *TemperatureController) Setpoint() float64 {
	return c.cfg.Desired
}

// Terms exposes the last PID contributions for logging.
func (c *TemperatureController) Terms() Terms {
	return c.pid.Terms()
}
