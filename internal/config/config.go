// Package config loads the controller configuration from YAML.
//
// Setpoints, tunings and bounds are operator policy: they are read once at
// startup and stay fixed for the life of the process.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Config is the complete controller configuration.
type Config struct {
	Device      string            `yaml:"device"`
	LogLevel    string            `yaml:"log_level"`
	Loop        LoopConfig        `yaml:"loop"`
	Clock       ClockConfig       `yaml:"clock"`
	OD          SensorConfig      `yaml:"od"`
	Feed        FeedConfig        `yaml:"feed"`
	Temperature TemperatureConfig `yaml:"temperature"`
	Heater      HeaterConfig      `yaml:"heater"`
	Valve       ValveConfig       `yaml:"valve"`
	ADC         ADCConfig         `yaml:"adc"`
	Sinks       SinksConfig       `yaml:"sinks"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	HTTP        HTTPConfig        `yaml:"http"`
}

// LoopConfig controls the outer poll loop.
type LoopConfig struct {
	Poll   Duration `yaml:"poll"`
	Budget Duration `yaml:"budget"` // per-action overrun warning threshold
}

// ClockConfig controls network time sync.
type ClockConfig struct {
	NTPServer    string   `yaml:"ntp_server"`
	SyncInterval Duration `yaml:"sync_interval"`
	SyncTimeout  Duration `yaml:"sync_timeout"`
}

// SensorConfig is the calibration and cadence of one analog input.
type SensorConfig struct {
	ReadInterval Duration `yaml:"read_interval"`
	Window       int      `yaml:"window,omitempty"`
	ZeroOffset   float64  `yaml:"zero_offset"`
	Scale        float64  `yaml:"scale"`
	Calibrated   bool     `yaml:"calibrated"`
}

// FeedConfig is the OD feed policy.
type FeedConfig struct {
	DesiredOD      float64  `yaml:"desired_od"`
	Interval       Duration `yaml:"interval"`
	PulseDuration  Duration `yaml:"pulse_duration"`
	VolumePerPulse float64  `yaml:"volume_per_pulse"`
}

// Gains is one PID tuning.
type Gains struct {
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`
}

// TemperatureConfig is the temperature loop policy and its sensor.
type TemperatureConfig struct {
	Desired      float64      `yaml:"desired"`
	GapThreshold float64      `yaml:"gap_threshold"`
	SampleTime   Duration     `yaml:"sample_time"`
	Aggressive   Gains        `yaml:"aggressive"`
	Conservative Gains        `yaml:"conservative"`
	Sensor       SensorConfig `yaml:"sensor"`
}

// HeaterConfig is the heater output and its safety bound.
type HeaterConfig struct {
	Pin         string  `yaml:"pin"`
	FrequencyHz int     `yaml:"frequency_hz"`
	FullScale   float64 `yaml:"full_scale"`
	MinOutput   float64 `yaml:"min_output"`
	// MaxOutput caps PID output before it reaches the heater. Keep it low
	// while commissioning; raise it once the heater is trusted.
	MaxOutput float64 `yaml:"max_output"`
}

// ValveConfig is the feed valve line.
type ValveConfig struct {
	Chip string `yaml:"chip"`
	Pin  int    `yaml:"pin"`
}

// ADCConfig is the ADS1115 wiring.
type ADCConfig struct {
	Bus         string `yaml:"bus"`
	Addr        uint16 `yaml:"addr"`
	ODChannel   int    `yaml:"od_channel"`
	TempChannel int    `yaml:"temp_channel"`
}

// SinksConfig sets the cadence of each output.
type SinksConfig struct {
	DisplayInterval   Duration `yaml:"display_interval"`
	LogInterval       Duration `yaml:"log_interval"`
	TelemetryInterval Duration `yaml:"telemetry_interval"`
	DBPath            string   `yaml:"db_path"`
}

// MQTTConfig is the telemetry broker.
type MQTTConfig struct {
	Broker string `yaml:"broker"`
}

// HTTPConfig is the status page.
type HTTPConfig struct {
	Addr     string `yaml:"addr"`
	WSBroker string `yaml:"ws_broker"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Device:   "bioreactor",
		LogLevel: "info",
		Loop: LoopConfig{
			Poll:   Duration(50 * time.Millisecond),
			Budget: Duration(250 * time.Millisecond),
		},
		Clock: ClockConfig{
			NTPServer:    "pool.ntp.org",
			SyncInterval: Duration(5 * time.Minute),
			SyncTimeout:  Duration(2 * time.Second),
		},
		OD: SensorConfig{
			ReadInterval: Duration(10 * time.Second),
			Window:       3,
			Scale:        1.0 / 8000,
		},
		Feed: FeedConfig{
			DesiredOD:      0.5,
			Interval:       Duration(3 * time.Minute),
			PulseDuration:  Duration(2 * time.Second),
			VolumePerPulse: 1.0,
		},
		Temperature: TemperatureConfig{
			Desired:      37,
			GapThreshold: 1,
			SampleTime:   Duration(10 * time.Second),
			Aggressive:   Gains{Kp: 4, Ki: 0.2, Kd: 1},
			Conservative: Gains{Kp: 1, Ki: 0.05, Kd: 0.25},
			Sensor: SensorConfig{
				ReadInterval: Duration(2 * time.Second),
				Scale:        0.0125,
			},
		},
		Heater: HeaterConfig{
			Pin:         "GPIO18",
			FrequencyHz: 10,
			FullScale:   255,
			MinOutput:   0,
			MaxOutput:   1,
		},
		Valve: ValveConfig{
			Chip: "gpiochip0",
			Pin:  17,
		},
		ADC: ADCConfig{
			Addr:        0x48,
			ODChannel:   0,
			TempChannel: 1,
		},
		Sinks: SinksConfig{
			DisplayInterval:   Duration(time.Second),
			LogInterval:       Duration(time.Minute),
			TelemetryInterval: Duration(5 * time.Minute),
			DBPath:            "/var/lib/bioreactor/log.db",
		},
		MQTT: MQTTConfig{
			Broker: "tcp://192.168.1.200:1883",
		},
		HTTP: HTTPConfig{
			Addr:     ":80",
			WSBroker: "=broker",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Save writes cfg to path atomically (temp file + rename).
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Validate checks the invariants the controllers rely on.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Device != "", "device must be set")
	check(c.Loop.Poll > 0, "loop.poll must be positive")
	check(c.Clock.SyncInterval > 0, "clock.sync_interval must be positive")
	check(c.Clock.SyncTimeout > 0, "clock.sync_timeout must be positive")
	check(c.Clock.SyncTimeout < c.Clock.SyncInterval, "clock.sync_timeout must be shorter than clock.sync_interval")
	check(c.OD.ReadInterval > 0, "od.read_interval must be positive")
	check(c.OD.Window >= 1, "od.window must be at least 1")
	check(c.OD.Scale != 0, "od.scale must be non-zero")
	check(c.Feed.Interval > 0, "feed.interval must be positive")
	check(c.Feed.PulseDuration > 0, "feed.pulse_duration must be positive")
	check(c.Feed.PulseDuration < c.Feed.Interval, "feed.pulse_duration must be shorter than feed.interval")
	check(c.Feed.VolumePerPulse >= 0, "feed.volume_per_pulse must not be negative")
	check(c.Temperature.SampleTime > 0, "temperature.sample_time must be positive")
	check(c.Temperature.GapThreshold >= 0, "temperature.gap_threshold must not be negative")
	check(c.Temperature.Sensor.ReadInterval > 0, "temperature.sensor.read_interval must be positive")
	check(c.Temperature.Sensor.Scale != 0, "temperature.sensor.scale must be non-zero")
	check(c.Heater.FullScale > 0, "heater.full_scale must be positive")
	check(c.Heater.MinOutput >= 0, "heater.min_output must not be negative")
	check(c.Heater.MaxOutput > c.Heater.MinOutput, "heater.max_output must exceed heater.min_output")
	check(c.Heater.MaxOutput <= c.Heater.FullScale, "heater.max_output must not exceed heater.full_scale")
	check(c.ADC.ODChannel != c.ADC.TempChannel, "adc.od_channel and adc.temp_channel must differ")
	check(c.Sinks.DisplayInterval > 0, "sinks.display_interval must be positive")
	check(c.Sinks.LogInterval > 0, "sinks.log_interval must be positive")
	check(c.Sinks.TelemetryInterval > 0, "sinks.telemetry_interval must be positive")

	return errors.Join(errs...)
}
