//go:build !linux

package gpio

import "errors"

// RealValve is not available on non-Linux platforms.
type RealValve struct{}

// NewRealValve returns an error on non-Linux platforms.
func NewRealValve(chipName string, pin int) (*RealValve, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Open is not implemented on non-Linux platforms.
func (v *RealValve) Open() error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (v *RealValve) Close() error {
	return errors.New("gpio: not supported")
}

// Release is a no-op on non-Linux platforms.
func (v *RealValve) Release() error {
	return nil
}
