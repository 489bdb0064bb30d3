package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Device        string       `json:"device"`
	Ready         bool         `json:"ready"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Reactor       ReactorJSON  `json:"reactor"`
	Clock         ClockJSON    `json:"clock"`
	Run           RunJSON      `json:"run"`
	Tasks         []TaskJSON   `json:"tasks,omitempty"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// ReactorJSON is the measured and controlled state.
type ReactorJSON struct {
	Tick            uint32    `json:"tick"`
	ODAverage       float64   `json:"od_avg"`
	ODSamples       []float64 `json:"od_samples"`
	Temperature     float64   `json:"temperature"`
	Setpoint        float64   `json:"setpoint"`
	PIDOutput       float64   `json:"pid_output"`
	GainSet         string    `json:"gain_set"`
	LoopState       string    `json:"loop_state"`
	ValveOpen       bool      `json:"valve_open"`
	ReadingsHealthy bool      `json:"readings_healthy"`
}

// ClockJSON reports the wall-clock estimate and its provenance.
type ClockJSON struct {
	Wall         string `json:"wall"`
	Source       string `json:"source"`
	Confidence   string `json:"confidence"`
	SyncAttempts int    `json:"sync_attempts"`
	SyncFailures int    `json:"sync_failures"`
}

// RunJSON reports the current culture run.
type RunJSON struct {
	ID             string  `json:"id"`
	StartTime      string  `json:"start_time"`
	Confidence     string  `json:"confidence"`
	ElapsedSeconds int64   `json:"elapsed_seconds"`
	Pulses         int     `json:"pulses"`
	TotalVolume    float64 `json:"total_volume"`
	LastPulse      string  `json:"last_pulse,omitempty"`
}

// TaskJSON is one scheduler task.
type TaskJSON struct {
	Name       string  `json:"name"`
	PeriodMs   uint32  `json:"period_ms"`
	Runs       uint64  `json:"runs"`
	LastTookMs float64 `json:"last_took_ms"`
	Overruns   uint64  `json:"overruns"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of controller config.
type ConfigJSON struct {
	PollMs             int64   `json:"poll_ms"`
	SyncIntervalMs     int64   `json:"sync_interval_ms"`
	TelemetryMs        int64   `json:"telemetry_ms"`
	FeedIntervalMs     int64   `json:"feed_interval_ms"`
	DesiredOD          float64 `json:"desired_od"`
	DesiredTemperature float64 `json:"desired_temperature"`
	MaxOutput          float64 `json:"max_output"`
	Broker             string  `json:"broker"`
	HTTPPort           string  `json:"http_port"`
	WSBroker           string  `json:"ws_broker,omitempty"`
}

func unixRFC3339(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	r := snap.Reactor

	samples := r.ODSamples
	if samples == nil {
		samples = []float64{}
	}

	inner := StatusInner{
		Device:        snap.Config.Device,
		Ready:         snap.Ready,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Reactor: ReactorJSON{
			Tick:            r.Tick,
			ODAverage:       r.ODAverage,
			ODSamples:       samples,
			Temperature:     r.Temperature,
			Setpoint:        r.Setpoint,
			PIDOutput:       r.PIDOutput,
			GainSet:         r.GainSet,
			LoopState:       r.LoopState,
			ValveOpen:       r.ValveOpen,
			ReadingsHealthy: r.ReadingsHealthy,
		},
		Clock: ClockJSON{
			Source:       r.ClockSource,
			Confidence:   r.Confidence,
			SyncAttempts: r.SyncAttempts,
			SyncFailures: r.SyncFailures,
		},
		Run: RunJSON{
			ID:             r.RunID,
			Confidence:     r.RunConfidence,
			ElapsedSeconds: int64(r.RunElapsedMs / 1000),
			Pulses:         r.Pulses,
			TotalVolume:    r.TotalVolume,
		},
		MQTT: MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			PollMs:             snap.Config.PollMs,
			SyncIntervalMs:     snap.Config.SyncIntervalMs,
			TelemetryMs:        snap.Config.TelemetryMs,
			FeedIntervalMs:     snap.Config.FeedIntervalMs,
			DesiredOD:          snap.Config.DesiredOD,
			DesiredTemperature: snap.Config.DesiredTemperature,
			MaxOutput:          snap.Config.MaxOutput,
			Broker:             snap.Config.Broker,
			HTTPPort:           snap.Config.HTTPPort,
			WSBroker:           snap.Config.WSBroker,
		},
	}

	if snap.Ready {
		inner.Clock.Wall = unixRFC3339(r.Wall)
		inner.Run.StartTime = unixRFC3339(r.RunStartWall)
	}
	if r.LastPulseWall != 0 {
		inner.Run.LastPulse = unixRFC3339(r.LastPulseWall)
	}
	for _, task := range r.Tasks {
		inner.Tasks = append(inner.Tasks, TaskJSON(task))
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
