package reactor

import (
	"time"

	"github.com/sweeney/bioreactor/internal/clock"
	"github.com/sweeney/bioreactor/internal/mqtt"
	"github.com/sweeney/bioreactor/internal/status"
	"github.com/sweeney/bioreactor/internal/store"
)

// Snapshot returns the display view of the current state.
func (r *Reactor) Snapshot() status.Reactor {
	now := r.base.Tick()
	run := r.feed.Run()
	run.Touch(now)

	s := status.Reactor{
		Tick:            uint32(now),
		Wall:            r.base.Now(),
		ClockSource:     r.base.Source().String(),
		Confidence:      string(r.base.Confidence()),
		ODAverage:       r.od.Average(),
		ODSamples:       r.od.Values(),
		Temperature:     r.temperature,
		Setpoint:        r.temp.Setpoint(),
		PIDOutput:       r.temp.Output(),
		GainSet:         string(r.temp.GainSet()),
		LoopState:       string(r.temp.State()),
		ValveOpen:       r.feed.ValveOpen(),
		Pulses:          run.Pulses,
		TotalVolume:     run.TotalVolume,
		RunID:           run.ID,
		RunStartWall:    run.StartWall,
		RunConfidence:   string(run.StartConfidence),
		RunElapsedMs:    uint64(run.Elapsed() / time.Millisecond),
		ReadingsHealthy: r.odHealthy && r.tempHealthy,
	}
	if r.syncer != nil {
		st := r.syncer.Stats()
		s.SyncAttempts = st.Attempts
		s.SyncFailures = st.Failures
	}
	if since, ok := r.feed.SincePulse(); ok {
		s.LastPulseWall = s.Wall - int64(since/time.Second)
	}
	for _, ts := range r.sched.Stats() {
		s.Tasks = append(s.Tasks, status.Task{
			Name:       ts.Name,
			PeriodMs:   clock.Millis(ts.Period),
			Runs:       uint64(ts.Runs),
			LastTookMs: float64(ts.LastTook) / float64(time.Millisecond),
			Overruns:   uint64(ts.Overruns),
		})
	}
	return s
}

// Record returns the periodic log row for the current state.
func (r *Reactor) Record() store.Record {
	run := r.feed.Run()
	return store.Record{
		Tick:        uint32(r.base.Tick()),
		Wall:        r.base.Now(),
		ODAverage:   r.od.Average(),
		Temperature: r.temperature,
		PIDOutput:   r.temp.Output(),
		TotalVolume: run.TotalVolume,
		RunID:       run.ID,
	}
}

// Telemetry returns the telemetry sample for the current state.
func (r *Reactor) Telemetry() mqtt.Telemetry {
	run := r.feed.Run()
	return mqtt.Telemetry{
		Timestamp:   r.base.Time(),
		Tick:        uint32(r.base.Tick()),
		RunID:       run.ID,
		ODAverage:   r.od.Average(),
		DesiredOD:   r.cfg.Feed.DesiredOD,
		Temperature: r.temperature,
		Setpoint:    r.temp.Setpoint(),
		PIDOutput:   r.temp.Output(),
		GainSet:     string(r.temp.GainSet()),
		Pulses:      run.Pulses,
		TotalVolume: run.TotalVolume,
		ClockSource: r.base.Source().String(),
		Confidence:  string(r.base.Confidence()),
	}
}
