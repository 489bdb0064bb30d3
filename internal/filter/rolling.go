// Package filter smooths raw sensor readings.
//
// Rolling keeps the most recent N measurements in a fixed ring and reports
// their arithmetic mean. Calibration turns raw ADC counts into measurements.
package filter

// DefaultCapacity is the window used for OD readings.
const DefaultCapacity = 3

// Rolling is a fixed-capacity window over the most recent readings.
// Not safe for concurrent use.
type Rolling struct {
	buf   []float64
	head  int // next write position
	count int
}

// NewRolling creates a window holding at most capacity readings.
// A capacity below 1 is treated as 1.
func NewRolling(capacity int) *Rolling {
	if capacity < 1 {
		capacity = 1
	}
	return &Rolling{buf: make([]float64, capacity)}
}

// Push inserts v, evicting the oldest reading when full, and returns the new
// average.
func (r *Rolling) Push(v float64) float64 {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	return r.Average()
}

// Average is the mean of the readings currently held, or 0 when empty.
// It is recomputed from the window every time.
func (r *Rolling) Average() float64 {
	if r.count == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.Values() {
		sum += v
	}
	return sum / float64(r.count)
}

// Values returns the held readings, newest first.
func (r *Rolling) Values() []float64 {
	out := make([]float64, r.count)
	c := len(r.buf)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head-1-i+c)%c]
	}
	return out
}

// Len returns the number of readings held.
func (r *Rolling) Len() int {
	return r.count
}

// Cap returns the fixed capacity.
func (r *Rolling) Cap() int {
	return len(r.buf)
}
