// Package reactor wires the clock, filters and controllers to the hardware
// and the output sinks, and drives them from one cooperative task table.
//
// Everything here runs on the control loop. The only things other
// goroutines see are the snapshots handed to the display sink.
package reactor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sweeney/bioreactor/internal/clock"
	"github.com/sweeney/bioreactor/internal/control"
	"github.com/sweeney/bioreactor/internal/filter"
	"github.com/sweeney/bioreactor/internal/mqtt"
	"github.com/sweeney/bioreactor/internal/sched"
	"github.com/sweeney/bioreactor/internal/sensor"
	"github.com/sweeney/bioreactor/internal/status"
	"github.com/sweeney/bioreactor/internal/store"
)

// Task names, in priority order.
const (
	TaskValve       = "valve"
	TaskOD          = "od"
	TaskTemperature = "temperature"
	TaskSync        = "sync"
	TaskDisplay     = "display"
	TaskLog         = "log"
	TaskTelemetry   = "telemetry"
)

const sinkTimeout = 500 * time.Millisecond

// Heater is the heating actuator.
type Heater interface {
	SetLevel(level float64) error
}

// LogSink receives periodic records.
type LogSink interface {
	Append(ctx context.Context, r store.Record) error
}

// Display receives state snapshots for the status page.
type Display interface {
	Update(r status.Reactor)
}

// TelemetrySink receives periodic telemetry.
type TelemetrySink interface {
	PublishTelemetry(t mqtt.Telemetry) error
}

// Deps are the collaborators of a Reactor. Time, Log, Display and
// Telemetry are optional; the matching task is simply not registered.
type Deps struct {
	Ticks    clock.TickSource
	Fallback int64 // wall-clock estimate (Unix seconds) until the first sync

	Sensor sensor.Reader
	Valve  control.Valve
	Heater Heater

	Time      clock.TimeSource
	Log       LogSink
	Display   Display
	Telemetry TelemetrySink

	Logger   zerolog.Logger
	NewRunID func() string
}

// Reactor is the composed controller. Not safe for concurrent use.
type Reactor struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	base   *clock.Base
	syncer *clock.Syncer
	sched  *sched.Scheduler

	od   *filter.Rolling
	feed *control.FeedController
	temp *control.TemperatureController

	temperature float64
	odHealthy   bool
	tempHealthy bool
	warn        *rate.Limiter

	// deferred holds tasks that were due while a pulse was open.
	deferred []deferredAction
}

type deferredAction struct {
	name   string
	action sched.Action
}

// New builds the reactor and its task table. The first run starts now.
func New(cfg Config, deps Deps) (*Reactor, error) {
	if deps.Ticks == nil || deps.Sensor == nil || deps.Valve == nil || deps.Heater == nil {
		return nil, fmt.Errorf("reactor: ticks, sensor, valve and heater are required")
	}
	if deps.NewRunID == nil {
		deps.NewRunID = func() string { return xid.New().String() }
	}

	r := &Reactor{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger.With().Str("component", "reactor").Logger(),
		base: clock.NewBase(deps.Ticks, deps.Fallback),
		od:   filter.NewRolling(cfg.ODWindow),
		temp: control.NewTemperatureController(cfg.Temperature),
		// Three warnings up front, then at most one a minute.
		warn: rate.NewLimiter(rate.Every(time.Minute), 3),
	}

	now := r.base.Tick()
	run := control.NewRunState(deps.NewRunID(), now, r.base.Now(), r.base.Confidence())
	r.feed = control.NewFeedController(cfg.Feed, deps.Valve, r.base, run, deps.Logger)

	if deps.Time != nil {
		r.syncer = clock.NewSyncer(r.base, deps.Time, cfg.SyncTimeout, deps.Logger)
	}

	if !cfg.OD.Calibrated {
		r.log.Warn().Msg("OD sensor has no captured zero offset, readings are uncorrected")
	}
	if !cfg.Temp.Calibrated {
		r.log.Warn().Msg("temperature sensor is not calibrated")
	}

	r.sched = sched.New(now, deps.Logger)
	r.sched.SetBudget(cfg.Budget)
	if err := r.registerTasks(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reactor) registerTasks() error {
	type entry struct {
		name   string
		period time.Duration
		action sched.Action
		enable bool
	}
	table := []entry{
		{TaskValve, r.cfg.ValveInterval, r.serviceValve, true},
		{TaskOD, r.cfg.ODReadInterval, r.readOD, true},
		{TaskTemperature, r.cfg.TempReadInterval, r.controlTemperature, true},
		{TaskSync, r.cfg.SyncInterval, r.outsidePulse(TaskSync, r.syncClock), r.syncer != nil},
		{TaskDisplay, r.cfg.DisplayInterval, r.publishDisplay, r.deps.Display != nil},
		{TaskLog, r.cfg.LogInterval, r.outsidePulse(TaskLog, r.appendLog), r.deps.Log != nil},
		{TaskTelemetry, r.cfg.TelemetryInterval, r.outsidePulse(TaskTelemetry, r.publishTelemetry), r.deps.Telemetry != nil},
	}
	for _, e := range table {
		if !e.enable {
			continue
		}
		if err := r.sched.Register(e.name, e.period, e.action); err != nil {
			return fmt.Errorf("register %s task: %w", e.name, err)
		}
	}
	return nil
}

// Poll runs every due task once and returns how many ran.
func (r *Reactor) Poll() int {
	return r.sched.Poll(r.base.Tick())
}

// SyncNow attempts one network time sync outside the schedule, e.g. at
// startup. It reports whether a sample was applied.
func (r *Reactor) SyncNow(ctx context.Context) bool {
	if r.syncer == nil {
		return false
	}
	return r.syncer.Sync(ctx)
}

// Restart begins a new culture run and returns its ID. The feed interval
// gate carries over so a restart cannot double feed.
func (r *Reactor) Restart() string {
	now := r.base.Tick()
	prev := r.feed.Run()
	run := control.NewRunState(r.deps.NewRunID(), now, r.base.Now(), r.base.Confidence())
	r.feed.SetRun(run)
	r.log.Info().
		Str("run_id", run.ID).
		Str("previous_run_id", prev.ID).
		Float64("previous_volume", prev.TotalVolume).
		Msg("run restarted")
	return run.ID
}

// Shutdown closes the valve and turns the heater off.
func (r *Reactor) Shutdown() {
	if err := r.deps.Valve.Close(); err != nil {
		r.log.Warn().Err(err).Msg("close valve on shutdown")
	}
	if err := r.deps.Heater.SetLevel(0); err != nil {
		r.log.Warn().Err(err).Msg("heater off on shutdown")
	}
}

// Clock returns the wall-clock base.
func (r *Reactor) Clock() *clock.Base {
	return r.base
}

// Run returns the current run.
func (r *Reactor) Run() *control.RunState {
	return r.feed.Run()
}

// Stats returns the scheduler's per-task counters.
func (r *Reactor) Stats() []sched.TaskStats {
	return r.sched.Stats()
}

// outsidePulse wraps an action that may wait on the network or disk. While
// the feed valve is open the action is held back, and it runs as soon as the
// valve task closes the valve, so a slow sink cannot stretch a pulse.
func (r *Reactor) outsidePulse(name string, action sched.Action) sched.Action {
	return func(now clock.Tick) {
		if !r.feed.ValveOpen() {
			action(now)
			return
		}
		for _, d := range r.deferred {
			if d.name == name {
				return
			}
		}
		r.deferred = append(r.deferred, deferredAction{name: name, action: action})
	}
}

func (r *Reactor) serviceValve(now clock.Tick) {
	r.feed.ServiceValve(now)
	if r.feed.ValveOpen() || len(r.deferred) == 0 {
		return
	}
	pending := r.deferred
	r.deferred = nil
	for _, d := range pending {
		r.log.Debug().Str("task", d.name).Msg("running task held back by feed pulse")
		d.action(now)
	}
}

func (r *Reactor) readOD(now clock.Tick) {
	raw, err := r.deps.Sensor.ReadOD()
	if err != nil {
		r.odHealthy = false
		r.warnf(err, "OD read failed, keeping last average")
		return
	}
	r.odHealthy = true
	avg := r.od.Push(r.cfg.OD.Apply(raw))
	r.feed.Evaluate(avg, now)
}

func (r *Reactor) controlTemperature(now clock.Tick) {
	raw, err := r.deps.Sensor.ReadTemperature()
	if err != nil {
		r.tempHealthy = false
		r.warnf(err, "temperature read failed, holding heater output")
		return
	}
	r.tempHealthy = true
	r.temperature = r.cfg.Temp.Apply(raw)
	out := r.temp.Update(r.temperature, now)
	if err := r.deps.Heater.SetLevel(out); err != nil {
		r.warnf(err, "heater update failed")
	}
}

func (r *Reactor) syncClock(_ clock.Tick) {
	r.syncer.Sync(context.Background())
}

func (r *Reactor) publishDisplay(_ clock.Tick) {
	r.deps.Display.Update(r.Snapshot())
}

func (r *Reactor) appendLog(_ clock.Tick) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := r.deps.Log.Append(ctx, r.Record()); err != nil {
		r.warnf(err, "log append failed")
	}
}

func (r *Reactor) publishTelemetry(_ clock.Tick) {
	if err := r.deps.Telemetry.PublishTelemetry(r.Telemetry()); err != nil {
		r.log.Debug().Err(err).Msg("telemetry publish failed")
	}
}

// warnf logs a transient fault, throttled so a flapping sensor cannot
// flood the journal.
func (r *Reactor) warnf(err error, msg string) {
	if r.warn.Allow() {
		r.log.Warn().Err(err).Msg(msg)
	}
}
