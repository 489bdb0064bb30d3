package control

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/bioreactor/internal/clock"
)

func testTemperatureConfig() TemperatureConfig {
	return TemperatureConfig{
		Desired:      37,
		Aggressive:   Gains{Kp: 4, Ki: 0.2, Kd: 1},
		Conservative: Gains{Kp: 1, Ki: 0.05, Kd: 0.25},
		GapThreshold: 1,
		SampleTime:   10 * time.Second,
		MinOutput:    0,
		MaxOutput:    70,
	}
}

func TestTemperatureStartsUninitialized(t *testing.T) {
	c := NewTemperatureController(testTemperatureConfig())
	assert.Equal(t, LoopUninitialized, c.State())
	assert.Equal(t, 0.0, c.Output())
	assert.Equal(t, 37.0, c.Setpoint())
}

func TestTemperatureFirstUpdateComputes(t *testing.T) {
	c := NewTemperatureController(testTemperatureConfig())

	out := c.Update(30, 0)
	assert.Equal(t, LoopRunning, c.State())
	assert.Greater(t, out, 0.0)
	assert.Equal(t, GainsAggressive, c.GainSet())
	assert.Equal(t, 30.0, c.Measured())
}

func TestTemperatureHoldsBetweenSamples(t *testing.T) {
	c := NewTemperatureController(testTemperatureConfig())
	first := c.Update(36, 0)

	assert.Equal(t, first, c.Update(20, 5000), "intermediate call is a no-op")
	assert.Equal(t, first, c.Update(20, 9999))

	next := c.Update(20, 10_000)
	assert.NotEqual(t, first, next)
	assert.Equal(t, LoopRunning, c.State())
}

func TestTemperatureGainScheduling(t *testing.T) {
	tests := []struct {
		measured float64
		want     GainSet
	}{
		{30, GainsAggressive},
		{44, GainsAggressive},
		{36.5, GainsConservative},
		{37, GainsConservative},
		{38, GainsConservative}, // |gap| == threshold is not above it
		{38.01, GainsAggressive},
	}

	for _, tt := range tests {
		c := NewTemperatureController(testTemperatureConfig())
		c.Update(tt.measured, 0)
		assert.Equal(t, tt.want, c.GainSet(), "measured=%v", tt.measured)
	}
}

func TestSelectGains(t *testing.T) {
	assert.Equal(t, GainsAggressive, SelectGains(-5, 2))
	assert.Equal(t, GainsConservative, SelectGains(-2, 2))
	assert.Equal(t, GainsConservative, SelectGains(0, 0))
}

func TestTemperatureOutputAlwaysWithinBounds(t *testing.T) {
	cfg := testTemperatureConfig()
	cfg.Aggressive = Gains{Kp: 1e6, Ki: 1e6, Kd: 1e6}
	cfg.Conservative = Gains{Kp: 1e5, Ki: 1e5, Kd: 1e5}
	cfg.MaxOutput = 1
	c := NewTemperatureController(cfg)

	rng := rand.New(rand.NewSource(7))
	tick := clock.Tick(0)
	for i := 0; i < 500; i++ {
		measured := rng.Float64()*200 - 50
		out := c.Update(measured, tick)
		require.GreaterOrEqual(t, out, 0.0)
		require.LessOrEqual(t, out, 1.0)
		tick = tick.Add(time.Duration(rng.Intn(20)) * time.Second)
	}
}

func TestTemperatureOverTargetDrivesOutputToMin(t *testing.T) {
	c := NewTemperatureController(testTemperatureConfig())
	tick := clock.Tick(0)
	for i := 0; i < 20; i++ {
		c.Update(60, tick)
		tick = tick.Add(10 * time.Second)
	}
	assert.Equal(t, 0.0, c.Output())
}

func TestTemperatureConvergesOnSimplePlant(t *testing.T) {
	cfg := testTemperatureConfig()
	c := NewTemperatureController(cfg)

	// First-order vessel: heating proportional to output, loss to 20C ambient.
	temp := 20.0
	tick := clock.Tick(0)
	for i := 0; i < 2000; i++ {
		out := c.Update(temp, tick)
		temp += 0.01*out - 0.01*(temp-20)
		tick = tick.Add(10 * time.Second)
	}
	assert.InDelta(t, cfg.Desired, temp, 0.5)
	assert.Equal(t, GainsConservative, c.GainSet())
}

func TestPIDClampsAndSwapsBounds(t *testing.T) {
	p := NewPID(Gains{Kp: 100}, 0, 10, -10)
	lo, hi := p.Bounds()
	assert.Equal(t, -10.0, lo)
	assert.Equal(t, 10.0, hi)

	assert.Equal(t, 10.0, p.Compute(100, 0))
	assert.Equal(t, -10.0, p.Compute(-100, 0))
}

func TestPIDTerms(t *testing.T) {
	p := NewPID(Gains{Kp: 2, Ki: 0.1, Kd: 5}, 10*time.Second, -1000, 1000)
	p.Initialize(10, 0)

	out := p.Compute(12, 11)
	terms := p.Terms()
	assert.InDelta(t, 2.0, terms.P, 1e-9)  // 2 * (12-11)
	assert.InDelta(t, 1.0, terms.I, 1e-9)  // 0.1 * 10 * 1
	assert.InDelta(t, -0.5, terms.D, 1e-9) // -5 * (11-10) / 10
	assert.InDelta(t, 2.5, out, 1e-9)
	assert.False(t, math.IsNaN(out))
}

func TestPIDIntegralIsClamped(t *testing.T) {
	p := NewPID(Gains{Ki: 1}, time.Second, 0, 5)
	p.Initialize(0, 0)
	for i := 0; i < 100; i++ {
		p.Compute(10, 0)
	}
	assert.Equal(t, 5.0, p.Terms().I)

	// Windup is bounded, so the output leaves saturation immediately.
	out := p.Compute(0, 1)
	assert.Less(t, out, 5.0)
}
