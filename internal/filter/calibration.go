package filter

import "errors"

// ErrNoSamples is returned when a zero offset is requested from no readings.
var ErrNoSamples = errors.New("no calibration samples")

// Calibration converts raw ADC counts into a measurement:
//
//	measured = (raw - ZeroOffset) * Scale
//
// ZeroOffset comes from a dark/blank reading taken before normal operation.
// An uncalibrated transform still works, with a zero offset of 0.
type Calibration struct {
	ZeroOffset float64
	Scale      float64
	Calibrated bool
}

// Apply transforms a raw reading.
func (c Calibration) Apply(raw float64) float64 {
	return (raw - c.ZeroOffset) * c.Scale
}

// CaptureZero averages a blank series into a zero offset, keeping Scale.
func (c Calibration) CaptureZero(samples []float64) (Calibration, error) {
	if len(samples) == 0 {
		return c, ErrNoSamples
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	c.ZeroOffset = sum / float64(len(samples))
	c.Calibrated = true
	return c, nil
}
