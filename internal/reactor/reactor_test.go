package reactor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/bioreactor/internal/clock"
	"github.com/sweeney/bioreactor/internal/control"
	"github.com/sweeney/bioreactor/internal/filter"
	"github.com/sweeney/bioreactor/internal/gpio"
	"github.com/sweeney/bioreactor/internal/mqtt"
	"github.com/sweeney/bioreactor/internal/sensor"
	"github.com/sweeney/bioreactor/internal/status"
	"github.com/sweeney/bioreactor/internal/store"
)

const fallbackWall = int64(1_700_000_000)

type memLog struct {
	records []store.Record
	err     error
}

func (m *memLog) Append(_ context.Context, r store.Record) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, r)
	return nil
}

type displayRecorder struct {
	last    status.Reactor
	updates int
}

func (d *displayRecorder) Update(r status.Reactor) {
	d.last = r
	d.updates++
}

type fixedTime struct {
	t   time.Time
	err error
}

func (f fixedTime) Query(context.Context) (time.Time, error) {
	return f.t, f.err
}

type rig struct {
	ticks     *clock.FakeSource
	sensor    *sensor.FakeReader
	valve     *gpio.FakeValve
	heater    *gpio.FakeHeater
	log       *memLog
	display   *displayRecorder
	telemetry *mqtt.FakePublisher
	r         *Reactor
}

func testConfig() Config {
	return Config{
		Device:           "test",
		OD:               filter.Calibration{Scale: 1, Calibrated: true},
		ODWindow:         3,
		ODReadInterval:   10 * time.Second,
		Temp:             filter.Calibration{Scale: 1, Calibrated: true},
		TempReadInterval: 2 * time.Second,
		Feed: control.FeedConfig{
			DesiredOD:      0.5,
			Interval:       3 * time.Minute,
			PulseDuration:  2 * time.Second,
			VolumePerPulse: 1.5,
		},
		Temperature: control.TemperatureConfig{
			Desired:      37,
			Aggressive:   control.Gains{Kp: 40, Ki: 2, Kd: 10},
			Conservative: control.Gains{Kp: 10, Ki: 0.5, Kd: 2},
			GapThreshold: 1,
			SampleTime:   10 * time.Second,
			MinOutput:    0,
			MaxOutput:    70,
		},
		ValveInterval:     time.Millisecond,
		SyncInterval:      time.Minute,
		SyncTimeout:       time.Second,
		DisplayInterval:   time.Second,
		LogInterval:       time.Minute,
		TelemetryInterval: 5 * time.Minute,
	}
}

func newRig(t *testing.T, cfg Config, od, temp []float64, ts clock.TimeSource) *rig {
	t.Helper()
	g := &rig{
		ticks:     &clock.FakeSource{},
		sensor:    sensor.NewFakeReader(od, temp),
		valve:     gpio.NewFakeValve(),
		heater:    gpio.NewFakeHeater(),
		log:       &memLog{},
		display:   &displayRecorder{},
		telemetry: mqtt.NewFakePublisher(),
	}
	ids := 0
	r, err := New(cfg, Deps{
		Ticks:     g.ticks,
		Fallback:  fallbackWall,
		Sensor:    g.sensor,
		Valve:     g.valve,
		Heater:    g.heater,
		Time:      ts,
		Log:       g.log,
		Display:   g.display,
		Telemetry: g.telemetry,
		Logger:    zerolog.Nop(),
		NewRunID: func() string {
			ids++
			return fmt.Sprintf("run-%d", ids)
		},
	})
	require.NoError(t, err)
	g.r = r
	return g
}

// runUntil polls every 50ms up to and including tick until.
func (g *rig) runUntil(until clock.Tick) {
	for g.ticks.T < until {
		g.ticks.Advance(50)
		g.r.Poll()
	}
}

func TestNewRequiresHardware(t *testing.T) {
	_, err := New(testConfig(), Deps{Ticks: &clock.FakeSource{}})
	assert.Error(t, err)
}

func TestTaskPriorityOrder(t *testing.T) {
	g := newRig(t, testConfig(), []float64{0.1}, []float64{37}, fixedTime{err: errors.New("offline")})

	var names []string
	for _, s := range g.r.Stats() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{TaskValve, TaskOD, TaskTemperature, TaskSync, TaskDisplay, TaskLog, TaskTelemetry}, names)
}

func TestOptionalSinksAreNotScheduled(t *testing.T) {
	r, err := New(testConfig(), Deps{
		Ticks:  &clock.FakeSource{},
		Sensor: sensor.NewFakeReader([]float64{0.1}, []float64{37}),
		Valve:  gpio.NewFakeValve(),
		Heater: gpio.NewFakeHeater(),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.Len(t, r.Stats(), 3)
	assert.False(t, r.SyncNow(context.Background()))
}

func TestFeedPulsesRespectInterval(t *testing.T) {
	g := newRig(t, testConfig(), []float64{0.8}, []float64{37}, nil)

	g.runUntil(400000)

	// OD reads land every 10050ms; pulses at 10050, 190950 and 371850.
	run := g.r.Run()
	assert.Equal(t, 3, run.Pulses)
	assert.InDelta(t, 4.5, run.TotalVolume, 1e-9)
	assert.Equal(t, 3, g.valve.Opens)
	assert.Equal(t, 3, g.valve.Closes, "every pulse is closed after its duration")
	assert.False(t, g.valve.IsOpen)
}

func TestValveClosesAfterPulseDuration(t *testing.T) {
	g := newRig(t, testConfig(), []float64{0.8}, []float64{37}, nil)

	g.runUntil(10050)
	require.True(t, g.valve.IsOpen, "first pulse fires on the first OD read")

	g.runUntil(12000)
	assert.True(t, g.valve.IsOpen)

	g.runUntil(12100)
	assert.False(t, g.valve.IsOpen)
}

func TestNoFeedBelowSetpoint(t *testing.T) {
	g := newRig(t, testConfig(), []float64{0.2, 0.3, 0.5}, []float64{37}, nil)

	g.runUntil(600000)

	assert.Zero(t, g.valve.Opens)
	assert.Zero(t, g.r.Run().Pulses)
}

func TestFeedUsesRollingAverage(t *testing.T) {
	// A single spike above the setpoint is averaged away.
	g := newRig(t, testConfig(), []float64{0.2, 0.2, 0.9, 0.2, 0.2}, []float64{37}, nil)

	g.runUntil(60000)

	assert.Zero(t, g.valve.Opens)
}

func TestFirstPulseAnchorsRun(t *testing.T) {
	g := newRig(t, testConfig(), []float64{0.8}, []float64{37}, nil)

	run := g.r.Run()
	assert.Equal(t, fallbackWall, run.StartWall)
	assert.False(t, run.Anchored)

	g.runUntil(10050)

	assert.True(t, run.Anchored)
	assert.Equal(t, fallbackWall+10, run.StartWall)
	assert.Equal(t, clock.ConfidenceLow, run.StartConfidence)
}

func TestRestartKeepsFeedGate(t *testing.T) {
	g := newRig(t, testConfig(), []float64{0.8}, []float64{37}, nil)

	g.runUntil(20000)
	require.Equal(t, 1, g.r.Run().Pulses)

	id := g.r.Restart()
	assert.Equal(t, "run-2", id)
	assert.Equal(t, "run-2", g.r.Run().ID)
	assert.Zero(t, g.r.Run().Pulses)

	g.runUntil(180000)
	assert.Zero(t, g.r.Run().Pulses, "no pulse inside the interval after a restart")

	g.runUntil(200000)
	assert.Equal(t, 1, g.r.Run().Pulses)
	assert.True(t, g.r.Run().Anchored)
}

func TestTemperatureOutputStaysInBounds(t *testing.T) {
	temps := []float64{20, 25, 30, 45, 60, 10, 37}
	g := newRig(t, testConfig(), []float64{0.1}, temps, nil)

	g.runUntil(300000)

	require.NotEmpty(t, g.heater.Levels)
	for _, lvl := range g.heater.Levels {
		assert.GreaterOrEqual(t, lvl, 0.0)
		assert.LessOrEqual(t, lvl, 70.0)
	}
	snap := g.r.Snapshot()
	assert.Equal(t, string(control.LoopRunning), snap.LoopState)
	assert.Equal(t, 37.0, snap.Temperature)
}

func TestColdStartUsesAggressiveGains(t *testing.T) {
	g := newRig(t, testConfig(), []float64{0.1}, []float64{20}, nil)

	g.runUntil(2050)

	snap := g.r.Snapshot()
	assert.Equal(t, string(control.GainsAggressive), snap.GainSet)
	assert.Equal(t, 70.0, g.heater.Level(), "large error saturates at the configured bound")
}

func TestSensorFailureKeepsLastKnownGood(t *testing.T) {
	g := newRig(t, testConfig(), []float64{0.8}, []float64{36}, nil)

	g.runUntil(10050)
	require.Equal(t, 1, g.valve.Opens)
	levels := len(g.heater.Levels)
	before := g.r.Snapshot()

	g.sensor.ReadError = errors.New("i2c: nack")
	g.runUntil(400000)

	assert.Equal(t, 1, g.valve.Opens, "no feed decisions without fresh readings")
	assert.Equal(t, levels, len(g.heater.Levels), "heater is not driven from stale data")
	after := g.r.Snapshot()
	assert.Equal(t, before.ODAverage, after.ODAverage)
	assert.Equal(t, before.Temperature, after.Temperature)
	assert.False(t, after.ReadingsHealthy)

	g.sensor.ReadError = nil
	g.runUntil(420000)
	assert.True(t, g.r.Snapshot().ReadingsHealthy)
	assert.Equal(t, 2, g.valve.Opens, "feeding resumes once readings return")
}

func TestSyncRaisesConfidence(t *testing.T) {
	synced := time.Unix(1767225600, 0)
	g := newRig(t, testConfig(), []float64{0.1}, []float64{37}, fixedTime{t: synced})

	g.runUntil(60000)
	assert.Equal(t, clock.ConfidenceLow, g.r.Clock().Confidence())

	g.runUntil(60050)
	assert.Equal(t, clock.ConfidenceHigh, g.r.Clock().Confidence())
	assert.Equal(t, synced.Unix(), g.r.Clock().Now())

	g.runUntil(70050)
	assert.Equal(t, synced.Unix()+10, g.r.Clock().Now())
}

func TestFailedSyncKeepsFallback(t *testing.T) {
	g := newRig(t, testConfig(), []float64{0.1}, []float64{37}, fixedTime{err: errors.New("timeout")})

	g.runUntil(300000)

	assert.Equal(t, clock.ConfidenceLow, g.r.Clock().Confidence())
	assert.Equal(t, fallbackWall+300, g.r.Clock().Now())
	snap := g.r.Snapshot()
	assert.Equal(t, 4, snap.SyncAttempts)
	assert.Equal(t, 4, snap.SyncFailures)
}

// stallingTime fails every query after holding the loop for stall ms.
type stallingTime struct {
	ticks   *clock.FakeSource
	stall   uint32
	queries int
}

func (s *stallingTime) Query(context.Context) (time.Time, error) {
	s.queries++
	s.ticks.Advance(s.stall)
	return time.Time{}, errors.New("no reply")
}

func TestSlowTasksWaitForPulseToClose(t *testing.T) {
	cfg := testConfig()
	cfg.SyncInterval = 11 * time.Second
	cfg.LogInterval = 11 * time.Second
	ts := &stallingTime{stall: 2000}
	g := newRig(t, cfg, []float64{0.8}, []float64{37}, ts)
	ts.ticks = g.ticks

	// Pulse opens at 10050; sync and log fall due at 11050.
	g.runUntil(11050)
	require.True(t, g.valve.IsOpen)
	assert.Zero(t, ts.queries, "sync must not run while the valve is open")
	assert.Empty(t, g.log.records, "log must not run while the valve is open")

	g.runUntil(12000)
	assert.True(t, g.valve.IsOpen)
	assert.Zero(t, ts.queries)

	// The valve closes on time at 12050, then the held tasks run once each.
	g.runUntil(12050)
	assert.False(t, g.valve.IsOpen)
	assert.Equal(t, 1, g.valve.Closes)
	assert.Equal(t, 1, ts.queries)
	assert.Len(t, g.log.records, 1)
	assert.Equal(t, clock.Tick(14050), g.ticks.T, "the stalled query ran after the close")
	assert.InDelta(t, 1.5, g.r.Run().TotalVolume, 1e-9)

	// Held tasks are not replayed again on later polls.
	g.runUntil(20000)
	assert.Equal(t, 1, ts.queries)
	assert.Len(t, g.log.records, 1)
}

func TestSyncNow(t *testing.T) {
	g := newRig(t, testConfig(), []float64{0.1}, []float64{37}, fixedTime{t: time.Unix(1767225600, 0)})

	assert.True(t, g.r.SyncNow(context.Background()))
	assert.Equal(t, clock.ConfidenceHigh, g.r.Clock().Confidence())
}

func TestSinkCadence(t *testing.T) {
	g := newRig(t, testConfig(), []float64{0.8}, []float64{37}, nil)

	g.runUntil(600000)

	assert.Len(t, g.log.records, 9)
	assert.Len(t, g.telemetry.Telemetry, 1)
	assert.Greater(t, g.display.updates, 500)

	rec := g.log.records[0]
	assert.Equal(t, uint32(60050), rec.Tick)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, fallbackWall+60, rec.Wall)
	assert.InDelta(t, 0.8, rec.ODAverage, 1e-9)

	tel := g.telemetry.Telemetry[0]
	assert.Equal(t, "run-1", tel.RunID)
	assert.Equal(t, 0.5, tel.DesiredOD)
	assert.Equal(t, "fallback", tel.ClockSource)
	assert.Equal(t, "LOW", tel.Confidence)
}

func TestSinkFailuresDoNotStopControl(t *testing.T) {
	g := newRig(t, testConfig(), []float64{0.8}, []float64{37}, nil)
	g.log.err = errors.New("disk full")
	g.telemetry.TelemetryError = errors.New("broker down")

	g.runUntil(400000)

	assert.Equal(t, 3, g.r.Run().Pulses)
	assert.Empty(t, g.log.records)
}

func TestSnapshotContents(t *testing.T) {
	g := newRig(t, testConfig(), []float64{0.6, 0.7, 0.8}, []float64{36.5}, nil)

	g.runUntil(31000)

	snap := g.display.last
	assert.Equal(t, []float64{0.8, 0.7, 0.6}, snap.ODSamples)
	assert.InDelta(t, 0.7, snap.ODAverage, 1e-9)
	assert.Equal(t, 36.5, snap.Temperature)
	assert.Equal(t, 37.0, snap.Setpoint)
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, 1, snap.Pulses)
	assert.Equal(t, fallbackWall+10, snap.LastPulseWall)
	assert.True(t, snap.ReadingsHealthy)
	assert.Len(t, snap.Tasks, 6)
}

func TestSnapshotRunElapsedBeyondTickRange(t *testing.T) {
	g := newRig(t, testConfig(), []float64{0.1}, []float64{37}, nil)

	// Sixty days of hourly touches; the tick counter wraps on the way.
	run := g.r.Run()
	for i := 0; i < 60*24; i++ {
		g.ticks.Advance(3_600_000)
		run.Touch(g.ticks.T)
	}

	snap := g.r.Snapshot()
	assert.Equal(t, uint64(60*24*time.Hour/time.Millisecond), snap.RunElapsedMs)
}

func TestShutdownMakesOutputsSafe(t *testing.T) {
	g := newRig(t, testConfig(), []float64{0.8}, []float64{20}, nil)
	g.runUntil(10050)
	require.True(t, g.valve.IsOpen)

	g.r.Shutdown()

	assert.False(t, g.valve.IsOpen)
	assert.Equal(t, 0.0, g.heater.Level())
}

func TestCaptureZero(t *testing.T) {
	readings := []float64{400, 410, 420}
	i := 0
	read := func() (float64, error) {
		v := readings[i]
		i++
		return v, nil
	}

	cal, err := CaptureZero(context.Background(), read, filter.Calibration{Scale: 2}, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 410.0, cal.ZeroOffset)
	assert.Equal(t, 2.0, cal.Scale)
	assert.True(t, cal.Calibrated)
}

func TestCaptureZeroSkipsFailedReads(t *testing.T) {
	calls := 0
	read := func() (float64, error) {
		calls++
		if calls%2 == 0 {
			return 0, errors.New("glitch")
		}
		return 100, nil
	}

	cal, err := CaptureZero(context.Background(), read, filter.Calibration{Scale: 1}, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, 100.0, cal.ZeroOffset)
}

func TestCaptureZeroAllReadsFail(t *testing.T) {
	read := func() (float64, error) { return 0, errors.New("no bus") }

	_, err := CaptureZero(context.Background(), read, filter.Calibration{Scale: 1}, 3, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, filter.ErrNoSamples)
}

func TestCaptureZeroHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	read := func() (float64, error) { return 1, nil }

	_, err := CaptureZero(ctx, read, filter.Calibration{Scale: 1}, 3, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
