// Package clock provides the controller's time base: a free-running
// millisecond tick counter and a wall-clock estimate that is pinned to
// network time samples whenever one arrives.
//
// Everything that needs elapsed time compares ticks with Tick.Since, which
// stays correct across counter wraparound.
package clock

import "time"

// Tick is a millisecond counter since boot. It wraps after ~49.7 days.
type Tick uint32

// Since returns the milliseconds elapsed from earlier to t.
// Unsigned subtraction keeps the result correct across wraparound.
func (t Tick) Since(earlier Tick) uint32 {
	return uint32(t - earlier)
}

// Add returns t advanced by d, wrapping like the hardware counter.
func (t Tick) Add(d time.Duration) Tick {
	return t + Tick(uint32(d.Milliseconds()))
}

// Millis converts a duration to the tick resolution used for comparisons.
func Millis(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(d.Milliseconds())
}

// TickSource supplies the current tick.
type TickSource interface {
	Ticks() Tick
}

// MonotonicSource derives ticks from Go's monotonic clock.
type MonotonicSource struct {
	boot time.Time
}

// NewMonotonicSource starts counting from zero now.
func NewMonotonicSource() *MonotonicSource {
	return &MonotonicSource{boot: time.Now()}
}

// Ticks returns milliseconds since construction, truncated to 32 bits.
func (m *MonotonicSource) Ticks() Tick {
	return Tick(uint64(time.Since(m.boot).Milliseconds()))
}

// FakeSource is a manually driven TickSource for tests.
type FakeSource struct {
	T Tick
}

// Ticks returns the current fake tick.
func (f *FakeSource) Ticks() Tick {
	return f.T
}

// Advance moves the fake tick forward by ms milliseconds.
func (f *FakeSource) Advance(ms uint32) {
	f.T += Tick(ms)
}
