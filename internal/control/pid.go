package control

import "time"

// Gains is one PID tuning set.
type Gains struct {
	Kp float64
	Ki float64 // per second
	Kd float64 // seconds
}

// Terms are the individual contributions of the last computation.
type Terms struct {
	P float64
	I float64
	D float64
}

// PID is a discrete PID loop computed at a fixed sample time.
//
// The integral term accumulates Ki*dt*error and is clamped to the output
// bounds; the derivative acts on the measurement so setpoint changes do not
// kick the output. The output is always within [min, max].
type PID struct {
	gains      Gains
	sampleTime time.Duration
	min, max   float64

	integral  float64
	lastInput float64
	output    float64
	terms     Terms
}

// NewPID creates a loop. A non-positive sample time defaults to 10s and
// swapped bounds are put in order.
func NewPID(g Gains, sampleTime time.Duration, min, max float64) *PID {
	if sampleTime <= 0 {
		sampleTime = 10 * time.Second
	}
	if min > max {
		min, max = max, min
	}
	return &PID{gains: g, sampleTime: sampleTime, min: min, max: max}
}

// SetGains switches tuning. Accumulated state is kept.
func (p *PID) SetGains(g Gains) {
	p.gains = g
}

// Gains returns the active tuning.
func (p *PID) Gains() Gains {
	return p.gains
}

// Initialize seeds the state for a bumpless start from output.
func (p *PID) Initialize(input, output float64) {
	p.lastInput = input
	p.integral = p.clamp(output)
	p.output = p.clamp(output)
}

// Compute runs one sample and returns the clamped output.
func (p *PID) Compute(setpoint, input float64) float64 {
	dt := p.sampleTime.Seconds()
	e := setpoint - input

	p.integral = p.clamp(p.integral + p.gains.Ki*dt*e)
	dInput := input - p.lastInput

	p.terms = Terms{
		P: p.gains.Kp * e,
		I: p.integral,
		D: -p.gains.Kd * dInput / dt,
	}
	p.output = p.clamp(p.terms.P + p.terms.I + p.terms.D)
	p.lastInput = input
	return p.output
}

// Output returns the last computed output.
func (p *PID) Output() float64 {
	return p.output
}

// Terms returns the contributions of the last Compute.
func (p *PID) Terms() Terms {
	return p.terms
}

// Bounds returns the output limits.
func (p *PID) Bounds() (float64, float64) {
	return p.min, p.max
}

func (p *PID) clamp(v float64) float64 {
	if v > p.max {
		return p.max
	}
	if v < p.min {
		return p.min
	}
	return v
}
