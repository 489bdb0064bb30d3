// Package status provides a thread-safe snapshot of reactor state for the
// status page and lifecycle events. The control loop writes; HTTP handlers
// and the telemetry sink read.
package status

import (
	"sync"
	"time"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains controller configuration for display.
type Config struct {
	Device             string
	PollMs             int64
	SyncIntervalMs     int64
	TelemetryMs        int64
	FeedIntervalMs     int64
	DesiredOD          float64
	DesiredTemperature float64
	MaxOutput          float64
	Broker             string
	HTTPPort           string
	WSBroker           string // Websocket broker URL for browser MQTT (empty = disabled)
}

// Task is the display copy of one scheduled task's statistics.
type Task struct {
	Name       string
	PeriodMs   uint32
	Runs       uint64
	LastTookMs float64
	Overruns   uint64
}

// Reactor is the state of the control loop at one instant.
type Reactor struct {
	Tick uint32
	Wall int64 // Unix seconds

	ClockSource  string
	Confidence   string
	SyncAttempts int
	SyncFailures int

	ODAverage float64
	ODSamples []float64 // newest first

	Temperature float64
	Setpoint    float64
	PIDOutput   float64
	GainSet     string
	LoopState   string

	ValveOpen     bool
	Pulses        int
	TotalVolume   float64
	LastPulseWall int64 // 0 until the first pulse

	RunID           string
	RunStartWall    int64
	RunConfidence   string
	RunElapsedMs    uint64
	ReadingsHealthy bool

	Tasks []Task
}

// Snapshot is a point-in-time view of controller state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Reactor       Reactor
	Ready         bool // at least one full control cycle has run
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the controller started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable controller state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update replaces the reactor state and marks the tracker ready.
// Called from the control loop's display task.
func (t *Tracker) Update(r Reactor) {
	r.ODSamples = append([]float64(nil), r.ODSamples...)
	r.Tasks = append([]Task(nil), r.Tasks...)

	t.mu.Lock()
	t.snap.Reactor = r
	t.snap.Ready = true
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the controller state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
