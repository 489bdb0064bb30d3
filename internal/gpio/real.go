//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealValve drives the feed valve via the Linux GPIO character device.
type RealValve struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealValve requests pin as an output, initially closed.
func NewRealValve(chipName string, pin int) (*RealValve, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request valve pin %d: %w", pin, err)
	}

	return &RealValve{chip: chip, line: line}, nil
}

// Open energises the valve.
func (v *RealValve) Open() error {
	if err := v.line.SetValue(1); err != nil {
		return fmt.Errorf("open valve: %w", err)
	}
	return nil
}

// Close de-energises the valve.
func (v *RealValve) Close() error {
	if err := v.line.SetValue(0); err != nil {
		return fmt.Errorf("close valve: %w", err)
	}
	return nil
}

// Release drives the valve closed, then reconfigures the pin to input with
// pull-down (matching Pi boot defaults) before freeing it, so the valve
// cannot be left energised across a restart.
func (v *RealValve) Release() error {
	var errs []error

	if v.line != nil {
		if err := v.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("close valve: %w", err))
		}
		if err := v.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure valve pin: %w", err))
		}
		if err := v.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close valve pin: %w", err))
		}
	}

	if v.chip != nil {
		if err := v.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("release errors: %v", errs)
	}
	return nil
}
