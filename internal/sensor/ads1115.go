package sensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// ADS1115 registers and config bits.
const (
	regConversion = 0x00
	regConfig     = 0x01

	cfgStart      = 0x8000 // OS: begin a single conversion / conversion done
	cfgMuxSingle  = 0x4000 // AINx vs GND, channel in bits 13:12
	cfgPGA4096    = 0x0200 // +/-4.096V full scale
	cfgSingleShot = 0x0100
	cfgRate860    = 0x00E0 // 860 samples/s, ~1.2ms per conversion
	cfgNoCompare  = 0x0003
)

// conversionPolls bounds the wait for a conversion to complete.
const conversionPolls = 5

// ErrConversionTimeout is returned when the ADC never reports a finished conversion.
var ErrConversionTimeout = errors.New("ads1115: conversion did not complete")

// ADS1115 reads two single-ended channels of an ADS1115.
type ADS1115 struct {
	bus         i2c.BusCloser
	dev         *i2c.Dev
	odChannel   int
	tempChannel int

	sleep func(time.Duration)
}

// NewADS1115 opens the I2C bus and binds the ADC at addr.
// An empty busName selects the first available bus.
func NewADS1115(busName string, addr uint16, odChannel, tempChannel int) (*ADS1115, error) {
	if err := validChannel(odChannel); err != nil {
		return nil, fmt.Errorf("od channel: %w", err)
	}
	if err := validChannel(tempChannel); err != nil {
		return nil, fmt.Errorf("temperature channel: %w", err)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init host drivers: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}
	return newADS1115(bus, addr, odChannel, tempChannel), nil
}

func newADS1115(bus i2c.BusCloser, addr uint16, odChannel, tempChannel int) *ADS1115 {
	return &ADS1115{
		bus:         bus,
		dev:         &i2c.Dev{Bus: bus, Addr: addr},
		odChannel:   odChannel,
		tempChannel: tempChannel,
		sleep:       time.Sleep,
	}
}

// ReadOD returns the raw photodiode counts.
func (a *ADS1115) ReadOD() (float64, error) {
	v, err := a.convert(a.odChannel)
	if err != nil {
		return 0, fmt.Errorf("read OD channel %d: %w", a.odChannel, err)
	}
	return float64(v), nil
}

// ReadTemperature returns the raw temperature transducer counts.
func (a *ADS1115) ReadTemperature() (float64, error) {
	v, err := a.convert(a.tempChannel)
	if err != nil {
		return 0, fmt.Errorf("read temperature channel %d: %w", a.tempChannel, err)
	}
	return float64(v), nil
}

// Close releases the I2C bus.
func (a *ADS1115) Close() error {
	return a.bus.Close()
}

func (a *ADS1115) convert(channel int) (int16, error) {
	cfg := uint16(cfgStart | cfgMuxSingle | channel<<12 | cfgPGA4096 | cfgSingleShot | cfgRate860 | cfgNoCompare)
	w := []byte{regConfig, 0, 0}
	binary.BigEndian.PutUint16(w[1:], cfg)
	if err := a.dev.Tx(w, nil); err != nil {
		return 0, fmt.Errorf("start conversion: %w", err)
	}

	r := make([]byte, 2)
	done := false
	for i := 0; i < conversionPolls; i++ {
		a.sleep(time.Millisecond)
		if err := a.dev.Tx([]byte{regConfig}, r); err != nil {
			return 0, fmt.Errorf("poll config: %w", err)
		}
		if binary.BigEndian.Uint16(r)&cfgStart != 0 {
			done = true
			break
		}
	}
	if !done {
		return 0, ErrConversionTimeout
	}

	if err := a.dev.Tx([]byte{regConversion}, r); err != nil {
		return 0, fmt.Errorf("read conversion: %w", err)
	}
	return int16(binary.BigEndian.Uint16(r)), nil
}

func validChannel(ch int) error {
	if ch < 0 || ch > 3 {
		return fmt.Errorf("channel %d out of range 0-3", ch)
	}
	return nil
}
