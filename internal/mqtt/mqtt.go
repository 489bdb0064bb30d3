// Package mqtt publishes reactor telemetry and lifecycle events over MQTT.
package mqtt

import (
	"encoding/json"
	"time"
)

// TopicRoot prefixes every topic this package publishes.
const TopicRoot = "bioreactor"

// TelemetryTopic is the topic for periodic measurements of device.
func TelemetryTopic(device string) string {
	return TopicRoot + "/" + device + "/telemetry"
}

// SystemTopic is the topic for lifecycle events of device.
func SystemTopic(device string) string {
	return TopicRoot + "/" + device + "/system"
}

// Publisher publishes telemetry and lifecycle events.
type Publisher interface {
	// PublishTelemetry sends one telemetry sample. Failures are returned,
	// never fatal.
	PublishTelemetry(t Telemetry) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Telemetry is one periodic sample of reactor state.
type Telemetry struct {
	Timestamp   time.Time
	Tick        uint32
	RunID       string
	ODAverage   float64
	DesiredOD   float64
	Temperature float64
	Setpoint    float64
	PIDOutput   float64
	GainSet     string
	Pulses      int
	TotalVolume float64
	ClockSource string
	Confidence  string
}

// TelemetryPayload is the JSON envelope for telemetry.
type TelemetryPayload struct {
	Reactor ReactorPayload `json:"reactor"`
}

// ReactorPayload contains the telemetry details.
type ReactorPayload struct {
	Timestamp   string  `json:"timestamp"`
	Tick        uint32  `json:"tick"`
	RunID       string  `json:"run_id"`
	OD          Reading `json:"od"`
	Temperature Reading `json:"temperature"`
	PIDOutput   float64 `json:"pid_output"`
	GainSet     string  `json:"gain_set"`
	Feed        Feed    `json:"feed"`
	Clock       Clock   `json:"clock"`
}

// Reading is a measured value and its target.
type Reading struct {
	Value  float64 `json:"value"`
	Target float64 `json:"target"`
}

// Feed summarizes feed activity for the run.
type Feed struct {
	Pulses      int     `json:"pulses"`
	TotalVolume float64 `json:"total_volume"`
}

// Clock describes where the timestamp came from.
type Clock struct {
	Source     string `json:"source"`
	Confidence string `json:"confidence"`
}

// FormatTelemetryPayload creates the JSON payload for a telemetry sample.
func FormatTelemetryPayload(t Telemetry) ([]byte, error) {
	return json.Marshal(TelemetryPayload{
		Reactor: ReactorPayload{
			Timestamp:   t.Timestamp.UTC().Format(time.RFC3339),
			Tick:        t.Tick,
			RunID:       t.RunID,
			OD:          Reading{Value: t.ODAverage, Target: t.DesiredOD},
			Temperature: Reading{Value: t.Temperature, Target: t.Setpoint},
			PIDOutput:   t.PIDOutput,
			GainSet:     t.GainSet,
			Feed:        Feed{Pulses: t.Pulses, TotalVolume: t.TotalVolume},
			Clock:       Clock{Source: t.ClockSource, Confidence: t.Confidence},
		},
	})
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "RUN_RESTART"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPayload is the payload for simple events (LWT, RECONNECTED) that
// don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
