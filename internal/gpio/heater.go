package gpio

import (
	"fmt"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// DefaultHeaterFrequency is slow enough for a solid-state relay.
const DefaultHeaterFrequency = 10 * physic.Hertz

// RealHeater drives the heater with hardware PWM.
type RealHeater struct {
	pin       pgpio.PinIO
	freq      physic.Frequency
	fullScale float64
}

// NewRealHeater binds the named pin (e.g. "GPIO18") and drives it low.
func NewRealHeater(pinName string, freq physic.Frequency, fullScale float64) (*RealHeater, error) {
	if fullScale <= 0 {
		return nil, fmt.Errorf("heater full scale must be positive, got %v", fullScale)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init host drivers: %w", err)
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("heater pin %q not found", pinName)
	}
	if err := pin.Out(pgpio.Low); err != nil {
		return nil, fmt.Errorf("heater pin %s low: %w", pinName, err)
	}
	return &RealHeater{pin: pin, freq: freq, fullScale: fullScale}, nil
}

// SetLevel sets the duty cycle to level/fullScale.
func (h *RealHeater) SetLevel(level float64) error {
	duty := Duty(level, h.fullScale)
	if duty == 0 {
		return h.pin.Out(pgpio.Low)
	}
	if err := h.pin.PWM(duty, h.freq); err != nil {
		return fmt.Errorf("heater pwm %v: %w", duty, err)
	}
	return nil
}

// Release turns the heater off and halts the pin.
func (h *RealHeater) Release() error {
	var errs []error
	if err := h.pin.Out(pgpio.Low); err != nil {
		errs = append(errs, fmt.Errorf("heater off: %w", err))
	}
	if err := h.pin.Halt(); err != nil {
		errs = append(errs, fmt.Errorf("halt heater pin: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("release errors: %v", errs)
	}
	return nil
}

// Duty converts a level in [0, fullScale] to a PWM duty, clamping both ends.
func Duty(level, fullScale float64) pgpio.Duty {
	if fullScale <= 0 || level <= 0 {
		return 0
	}
	if level >= fullScale {
		return pgpio.DutyMax
	}
	return pgpio.Duty(level / fullScale * float64(pgpio.DutyMax))
}
