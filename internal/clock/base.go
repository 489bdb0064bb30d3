package clock

import "time"

// Source identifies where the current wall-clock reference came from.
type Source int

const (
	SourceFallback Source = iota
	SourceNetwork
)

func (s Source) String() string {
	if s == SourceNetwork {
		return "network"
	}
	return "fallback"
}

// Confidence describes how far the wall-clock estimate can be trusted.
// Anything durable (run start timestamps) should record it.
type Confidence string

const (
	ConfidenceLow  Confidence = "LOW"
	ConfidenceHigh Confidence = "HIGH"
)

// rebaseAfter bounds how far the reference tick may lag behind the current
// tick, so the elapsed term never approaches the 32-bit wrap.
const rebaseAfter = uint32(time.Hour / time.Millisecond)

// Base owns the tick source and the wall-clock estimate.
// Not safe for concurrent use; it lives on the control loop.
type Base struct {
	ticks TickSource

	reference int64 // wall seconds at refTick
	refTick   Tick
	highWater int64 // largest wall time ever reported

	source       Source
	lastSyncTick Tick
}

// NewBase starts the wall clock at the fallback estimate (Unix seconds).
func NewBase(ticks TickSource, fallback int64) *Base {
	now := ticks.Ticks()
	return &Base{
		ticks:        ticks,
		reference:    fallback,
		refTick:      now,
		highWater:    fallback,
		source:       SourceFallback,
		lastSyncTick: now,
	}
}

// Tick returns the current monotonic tick.
func (b *Base) Tick() Tick {
	return b.ticks.Ticks()
}

// Now returns the wall-clock estimate in Unix seconds:
// reference + whole seconds elapsed since the reference tick.
// The result never decreases between calls.
func (b *Base) Now() int64 {
	now := b.ticks.Ticks()
	elapsed := now.Since(b.refTick)
	if elapsed >= rebaseAfter {
		// Fold whole elapsed seconds into the reference; the remainder keeps
		// sub-second phase so the estimate is unchanged.
		secs := elapsed / 1000
		b.reference += int64(secs)
		b.refTick += Tick(secs * 1000)
		elapsed -= secs * 1000
	}

	wall := b.reference + int64(elapsed/1000)
	if wall < b.highWater {
		return b.highWater
	}
	b.highWater = wall
	return wall
}

// Time is Now as a time.Time in UTC.
func (b *Base) Time() time.Time {
	return time.Unix(b.Now(), 0).UTC()
}

// ApplySync pins the wall-clock reference to sample at the current tick.
// Drift accumulates again from this new reference.
func (b *Base) ApplySync(sample int64, src Source) {
	now := b.ticks.Ticks()
	b.reference = sample
	b.refTick = now
	b.source = src
	b.lastSyncTick = now
}

// Source reports where the current reference came from.
func (b *Base) Source() Source {
	return b.source
}

// LastSyncTick is the tick at which the reference was last pinned.
func (b *Base) LastSyncTick() Tick {
	return b.lastSyncTick
}

// Confidence is HIGH once a network sample has been applied.
func (b *Base) Confidence() Confidence {
	if b.source == SourceNetwork {
		return ConfidenceHigh
	}
	return ConfidenceLow
}
