// Package sched runs a fixed table of periodic tasks from a single loop.
//
// Tasks are cooperative: an action runs to completion and must return
// quickly. The scheduler never blocks and never runs two actions at once.
// Registration order is priority order.
package sched

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/bioreactor/internal/clock"
)

// ErrSealed is returned by Register once polling has begun.
var ErrSealed = errors.New("sched: task table is sealed")

// Action is the body of a task. now is the tick of the poll that fired it.
type Action func(now clock.Tick)

// Task is one periodic duty.
type Task struct {
	Name   string
	Period time.Duration
	Action Action

	lastRun clock.Tick
	stats   TaskStats
}

// TaskStats are per-task counters for the status page.
type TaskStats struct {
	Name     string
	Period   time.Duration
	Runs     int
	LastRun  clock.Tick
	LastTook time.Duration
	Overruns int
}

// Scheduler polls a fixed task table. Not safe for concurrent use.
type Scheduler struct {
	tasks  []*Task
	start  clock.Tick
	sealed bool

	budget  time.Duration
	elapsed func(func()) time.Duration
	log     zerolog.Logger
}

// New creates an empty scheduler. Every task's first period is measured
// from start.
func New(start clock.Tick, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		start:   start,
		elapsed: measure,
		log:     log.With().Str("component", "sched").Logger(),
	}
}

// SetBudget sets how long an action may take before an overrun is logged.
// Zero disables overrun reporting. Nothing is preempted either way.
func (s *Scheduler) SetBudget(d time.Duration) {
	s.budget = d
}

// Register appends a task. It fails once Poll has been called, for a
// non-positive period, or for a nil action.
func (s *Scheduler) Register(name string, period time.Duration, action Action) error {
	if s.sealed {
		return ErrSealed
	}
	if period <= 0 {
		return fmt.Errorf("sched: task %q: period must be positive", name)
	}
	if action == nil {
		return fmt.Errorf("sched: task %q: nil action", name)
	}
	s.tasks = append(s.tasks, &Task{
		Name:    name,
		Period:  period,
		Action:  action,
		lastRun: s.start,
		stats:   TaskStats{Name: name, Period: period, LastRun: s.start},
	})
	return nil
}

// Poll runs every task whose period has strictly elapsed since its last run,
// in registration order, at most once each. A fired task's last run becomes
// now, so a late loop produces one run rather than a catch-up burst.
// It returns the number of actions run.
func (s *Scheduler) Poll(now clock.Tick) int {
	s.sealed = true

	fired := 0
	for _, t := range s.tasks {
		if now.Since(t.lastRun) <= clock.Millis(t.Period) {
			continue
		}
		t.lastRun = now

		took := s.elapsed(func() { t.Action(now) })
		fired++

		t.stats.Runs++
		t.stats.LastRun = now
		t.stats.LastTook = took
		if s.budget > 0 && took > s.budget {
			t.stats.Overruns++
			s.log.Warn().
				Str("task", t.Name).
				Dur("took", took).
				Dur("budget", s.budget).
				Msg("task overran its budget")
		}
	}
	return fired
}

// Stats returns a copy of every task's counters in priority order.
func (s *Scheduler) Stats() []TaskStats {
	out := make([]TaskStats, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.stats
	}
	return out
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	return len(s.tasks)
}

func measure(fn func()) time.Duration {
	start := time.Now()
	fn()
	return time.Since(start)
}
