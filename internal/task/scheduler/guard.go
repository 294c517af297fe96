package scheduler

import (
	"time"

	"tickcron/internal/task/schedule"
)

// Skip reasons reported by the guard.
const (
	skipRunning = "running"
	skipFired   = "fired"
)

// guard is the per-task execution state. It is only touched with Service.mu held.
//
// A removed or replaced task keeps its guard pointer alive in any in-flight
// run, so a late completion clears only the state it belongs to.
type guard struct {
	lastFired    time.Time // whole second; zero means never
	runningSince time.Time // zero means idle
}

// veto returns a non-empty reason when the task must not start at now.
func (g *guard) veto(now time.Time) string {
	if !g.runningSince.IsZero() {
		return skipRunning
	}
	if schedule.SameSecond(g.lastFired, now) {
		return skipFired
	}
	return ""
}

func (g *guard) fire(now time.Time) {
	g.runningSince = now
	g.lastFired = now.Truncate(time.Second)
}

func (g *guard) done() {
	g.runningSince = time.Time{}
}
