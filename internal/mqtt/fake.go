package mqtt

// FakePublisher is an in-memory Publisher for tests. It formats every
// message the way the real publisher would, so payload bugs surface here.
// Not safe for concurrent use.
type FakePublisher struct {
	Telemetry      []Telemetry
	Payloads       [][]byte // formatted telemetry, parallel to Telemetry
	SystemEvents   []SystemEvent
	SystemPayloads [][]byte // formatted events, parallel to SystemEvents

	// TelemetryError and SystemError fail the matching publish without
	// recording anything.
	TelemetryError error
	SystemError    error

	Closed    bool
	Connected bool // returned by IsConnected
}

// NewFakePublisher creates a disconnected FakePublisher.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishTelemetry records t and its payload.
func (f *FakePublisher) PublishTelemetry(t Telemetry) error {
	if f.TelemetryError != nil {
		return f.TelemetryError
	}
	payload, err := FormatTelemetryPayload(t)
	if err != nil {
		return err
	}
	f.Telemetry = append(f.Telemetry, t)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records event and its payload.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.SystemError != nil {
		return f.SystemError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the publisher closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected returns Connected.
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Events returns the recorded system events with the given name, in order.
func (f *FakePublisher) Events(name string) []SystemEvent {
	var out []SystemEvent
	for _, e := range f.SystemEvents {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

// LastTelemetry returns the most recent sample, if any.
func (f *FakePublisher) LastTelemetry() (Telemetry, bool) {
	if len(f.Telemetry) == 0 {
		return Telemetry{}, false
	}
	return f.Telemetry[len(f.Telemetry)-1], true
}

// Reset clears recordings, injected errors and flags.
func (f *FakePublisher) Reset() {
	*f = FakePublisher{}
}
