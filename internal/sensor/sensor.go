// Package sensor reads the raw OD photodiode and temperature transducer.
// The real implementation talks to an ADS1115 ADC over I2C.
// The fake implementation allows testing without hardware.
package sensor

// Reader returns raw ADC counts. Calibration happens downstream.
type Reader interface {
	// ReadOD returns the raw photodiode reading.
	ReadOD() (float64, error)

	// ReadTemperature returns the raw temperature transducer reading.
	ReadTemperature() (float64, error)

	// Close releases the bus.
	Close() error
}

// Default wiring on the controller board.
const (
	DefaultBus         = "" // first I2C bus
	DefaultAddr        = 0x48
	DefaultODChannel   = 0
	DefaultTempChannel = 1
)
