// Package gpio drives the actuator outputs with hardware abstraction.
// The feed valve uses the Linux GPIO character device; the heater uses a
// hardware PWM channel. The fake implementations allow testing without
// hardware.
package gpio

// Valve opens and closes the feed valve.
type Valve interface {
	// Open energises the valve (starts a feed pulse).
	Open() error

	// Close de-energises the valve.
	Close() error

	// Release returns the line to a safe input state and frees it.
	Release() error
}

// Heater sets the heating element power.
type Heater interface {
	// SetLevel sets the output level in controller units, where the heater's
	// full scale corresponds to 100% duty. Values are clamped to [0, full scale].
	SetLevel(level float64) error

	// Release turns the heater off and frees the pin.
	Release() error
}

// Pin definitions (BCM numbering)
const (
	DefaultPinValve  = 17
	DefaultPinHeater = "GPIO18" // PWM0
)

// DefaultHeaterFullScale matches an 8-bit PWM range.
const DefaultHeaterFullScale = 255
