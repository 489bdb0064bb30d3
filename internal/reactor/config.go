package reactor

import (
	"time"

	"github.com/sweeney/bioreactor/internal/config"
	"github.com/sweeney/bioreactor/internal/control"
	"github.com/sweeney/bioreactor/internal/filter"
)

// Config is the subset of controller configuration the reactor runs on.
type Config struct {
	Device string

	OD             filter.Calibration
	ODWindow       int
	ODReadInterval time.Duration

	Temp             filter.Calibration
	TempReadInterval time.Duration

	Feed        control.FeedConfig
	Temperature control.TemperatureConfig

	// ValveInterval is how often an open valve is checked for closing.
	ValveInterval     time.Duration
	SyncInterval      time.Duration
	SyncTimeout       time.Duration
	DisplayInterval   time.Duration
	LogInterval       time.Duration
	TelemetryInterval time.Duration

	// Budget is the per-action duration above which an overrun is logged.
	Budget time.Duration
}

// FromConfig maps the file configuration onto the reactor.
func FromConfig(c config.Config) Config {
	return Config{
		Device: c.Device,
		OD: filter.Calibration{
			ZeroOffset: c.OD.ZeroOffset,
			Scale:      c.OD.Scale,
			Calibrated: c.OD.Calibrated,
		},
		ODWindow:       c.OD.Window,
		ODReadInterval: c.OD.ReadInterval.D(),
		Temp: filter.Calibration{
			ZeroOffset: c.Temperature.Sensor.ZeroOffset,
			Scale:      c.Temperature.Sensor.Scale,
			Calibrated: c.Temperature.Sensor.Calibrated,
		},
		TempReadInterval: c.Temperature.Sensor.ReadInterval.D(),
		Feed: control.FeedConfig{
			DesiredOD:      c.Feed.DesiredOD,
			Interval:       c.Feed.Interval.D(),
			PulseDuration:  c.Feed.PulseDuration.D(),
			VolumePerPulse: c.Feed.VolumePerPulse,
		},
		Temperature: control.TemperatureConfig{
			Desired:      c.Temperature.Desired,
			Aggressive:   control.Gains(c.Temperature.Aggressive),
			Conservative: control.Gains(c.Temperature.Conservative),
			GapThreshold: c.Temperature.GapThreshold,
			SampleTime:   c.Temperature.SampleTime.D(),
			MinOutput:    c.Heater.MinOutput,
			MaxOutput:    c.Heater.MaxOutput,
		},
		ValveInterval:     time.Millisecond,
		SyncInterval:      c.Clock.SyncInterval.D(),
		SyncTimeout:       c.Clock.SyncTimeout.D(),
		DisplayInterval:   c.Sinks.DisplayInterval.D(),
		LogInterval:       c.Sinks.LogInterval.D(),
		TelemetryInterval: c.Sinks.TelemetryInterval.D(),
		Budget:            c.Loop.Budget.D(),
	}
}
