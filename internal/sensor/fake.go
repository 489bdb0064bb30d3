package sensor

import "errors"

// FakeReader is a test double that returns scripted raw readings.
type FakeReader struct {
	// OD and Temperature contain scripted raw values. Each read consumes the
	// next value; once exhausted the last value repeats.
	OD          []float64
	Temperature []float64

	odIndex   int
	tempIndex int

	// ReadError, if set, is returned by both reads.
	ReadError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeReader creates a FakeReader with the given scripts.
func NewFakeReader(od, temperature []float64) *FakeReader {
	return &FakeReader{OD: od, Temperature: temperature}
}

// ReadOD returns the next scripted OD value.
func (f *FakeReader) ReadOD() (float64, error) {
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	return next(f.OD, &f.odIndex)
}

// ReadTemperature returns the next scripted temperature value.
func (f *FakeReader) ReadTemperature() (float64, error) {
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	return next(f.Temperature, &f.tempIndex)
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}

func next(script []float64, i *int) (float64, error) {
	if len(script) == 0 {
		return 0, errors.New("no samples configured")
	}
	v := script[*i]
	if *i < len(script)-1 {
		*i++
	}
	return v, nil
}
