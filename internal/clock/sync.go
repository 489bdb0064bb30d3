package clock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beevik/ntp"
	"github.com/rs/zerolog"
)

// TimeSource answers a single network time query.
type TimeSource interface {
	Query(ctx context.Context) (time.Time, error)
}

// errMalformed reports a reply that parsed but cannot be a real time.
var errMalformed = errors.New("malformed time sample")

// SyncStats summarises sync attempts for the status page.
type SyncStats struct {
	Attempts   int
	Failures   int
	Source     Source
	LastSync   Tick
	Confidence Confidence
}

// Syncer performs best-effort, time-bounded sync attempts against a
// TimeSource. A failed attempt leaves the Base untouched.
type Syncer struct {
	base    *Base
	src     TimeSource
	timeout time.Duration
	log     zerolog.Logger

	attempts int
	failures int
}

// NewSyncer creates a Syncer. timeout bounds each query.
func NewSyncer(base *Base, src TimeSource, timeout time.Duration, log zerolog.Logger) *Syncer {
	return &Syncer{
		base:    base,
		src:     src,
		timeout: timeout,
		log:     log.With().Str("component", "clock").Logger(),
	}
}

// Sync queries the time source once. It returns true if a sample was applied.
func (s *Syncer) Sync(ctx context.Context) bool {
	s.attempts++

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	t, err := s.src.Query(ctx)
	if err == nil && t.Unix() <= 0 {
		err = errMalformed
	}
	if err != nil {
		s.failures++
		s.log.Debug().Err(err).Int("failures", s.failures).Msg("time sync failed, keeping previous reference")
		return false
	}

	before := s.base.Now()
	s.base.ApplySync(t.Unix(), SourceNetwork)
	s.log.Info().
		Int64("wall", t.Unix()).
		Int64("correction_s", t.Unix()-before).
		Msg("time synced")
	return true
}

// Stats returns a copy of the sync counters and clock provenance.
func (s *Syncer) Stats() SyncStats {
	return SyncStats{
		Attempts:   s.attempts,
		Failures:   s.failures,
		Source:     s.base.Source(),
		LastSync:   s.base.LastSyncTick(),
		Confidence: s.base.Confidence(),
	}
}

// NTPSource queries an NTP server.
type NTPSource struct {
	Server  string
	Timeout time.Duration
}

// Query performs one NTP exchange bounded by the shorter of Timeout and the
// context deadline. The returned time is the local clock corrected by the
// measured offset.
func (n NTPSource) Query(ctx context.Context) (time.Time, error) {
	timeout := n.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); timeout <= 0 || left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return time.Time{}, fmt.Errorf("ntp query %s: %w", n.Server, context.DeadlineExceeded)
	}

	resp, err := ntp.QueryWithOptions(n.Server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return time.Time{}, fmt.Errorf("ntp query %s: %w", n.Server, err)
	}
	if err := resp.Validate(); err != nil {
		return time.Time{}, fmt.Errorf("ntp response from %s: %w", n.Server, err)
	}
	return time.Now().Add(resp.ClockOffset), nil
}
