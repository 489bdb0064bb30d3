package sched

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/bioreactor/internal/clock"
)

func TestTaskFiresOnlyAfterPeriodStrictlyElapsed(t *testing.T) {
	s := New(0, zerolog.Nop())
	var runs []clock.Tick
	require.NoError(t, s.Register("sensor", time.Second, func(now clock.Tick) {
		runs = append(runs, now)
	}))

	assert.Equal(t, 0, s.Poll(500))
	assert.Equal(t, 0, s.Poll(1000), "equal to the period is not enough")
	assert.Equal(t, 1, s.Poll(1001))
	assert.Equal(t, 0, s.Poll(2001))
	assert.Equal(t, 1, s.Poll(2002))

	assert.Equal(t, []clock.Tick{1001, 2002}, runs)
}

func TestLateLoopFiresOnceWithoutCatchUp(t *testing.T) {
	s := New(0, zerolog.Nop())
	count := 0
	require.NoError(t, s.Register("display", time.Second, func(clock.Tick) { count++ }))

	// Loop stalled for ten periods.
	assert.Equal(t, 1, s.Poll(10_500))
	assert.Equal(t, 0, s.Poll(10_600))
	assert.Equal(t, 1, count)

	st := s.Stats()[0]
	assert.Equal(t, clock.Tick(10_500), st.LastRun, "last run is the observed tick")
	assert.Equal(t, 1, s.Poll(11_501))
}

func TestPriorityOrder(t *testing.T) {
	s := New(0, zerolog.Nop())
	var order []string
	for _, name := range []string{"valve", "od", "temperature", "display", "telemetry"} {
		name := name
		require.NoError(t, s.Register(name, 100*time.Millisecond, func(clock.Tick) {
			order = append(order, name)
		}))
	}

	assert.Equal(t, 5, s.Poll(101))
	assert.Equal(t, []string{"valve", "od", "temperature", "display", "telemetry"}, order)
}

func TestIndependentPeriods(t *testing.T) {
	s := New(0, zerolog.Nop())
	counts := map[string]int{}
	require.NoError(t, s.Register("fast", 100*time.Millisecond, func(clock.Tick) { counts["fast"]++ }))
	require.NoError(t, s.Register("slow", time.Second, func(clock.Tick) { counts["slow"]++ }))

	for tick := clock.Tick(0); tick <= 5000; tick += 50 {
		s.Poll(tick)
	}
	// fast fires every 150ms on a 50ms loop (strictly greater than 100ms).
	assert.Equal(t, 33, counts["fast"])
	assert.Equal(t, 4, counts["slow"])
}

func TestRegisterAfterPollIsSealed(t *testing.T) {
	s := New(0, zerolog.Nop())
	require.NoError(t, s.Register("a", time.Second, func(clock.Tick) {}))
	s.Poll(1)

	err := s.Register("b", time.Second, func(clock.Tick) {})
	assert.ErrorIs(t, err, ErrSealed)
	assert.Equal(t, 1, s.Len())
}

func TestRegisterValidation(t *testing.T) {
	s := New(0, zerolog.Nop())
	assert.Error(t, s.Register("zero", 0, func(clock.Tick) {}))
	assert.Error(t, s.Register("nil", time.Second, nil))
	assert.Equal(t, 0, s.Len())
}

func TestFiresAcrossTickWrap(t *testing.T) {
	start := clock.Tick(math.MaxUint32 - 300)
	s := New(start, zerolog.Nop())
	count := 0
	require.NoError(t, s.Register("sync", 500*time.Millisecond, func(clock.Tick) { count++ }))

	assert.Equal(t, 0, s.Poll(start.Add(400*time.Millisecond)))
	assert.Equal(t, 1, s.Poll(start.Add(501*time.Millisecond)))
	assert.Equal(t, 1, count)
}

func TestFiringInvariantRandomWalk(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := New(0, zerolog.Nop())
	period := 750 * time.Millisecond
	var fired []clock.Tick
	require.NoError(t, s.Register("t", period, func(now clock.Tick) { fired = append(fired, now) }))

	last := clock.Tick(0)
	now := clock.Tick(0)
	for i := 0; i < 5000; i++ {
		now += clock.Tick(rng.Intn(400))
		before := len(fired)
		s.Poll(now)
		shouldFire := now.Since(last) > clock.Millis(period)
		require.Equal(t, shouldFire, len(fired) == before+1, "tick %d", now)
		if shouldFire {
			require.Equal(t, now, fired[len(fired)-1])
			last = now
		}
	}
}

func TestOverrunIsCounted(t *testing.T) {
	s := New(0, zerolog.Nop())
	s.SetBudget(10 * time.Millisecond)
	s.elapsed = func(fn func()) time.Duration {
		fn()
		return 25 * time.Millisecond
	}
	require.NoError(t, s.Register("slow", time.Second, func(clock.Tick) {}))

	s.Poll(1001)
	st := s.Stats()[0]
	assert.Equal(t, 1, st.Overruns)
	assert.Equal(t, 25*time.Millisecond, st.LastTook)
	assert.Equal(t, 1, st.Runs)
}
