package scheduler

import (
	"context"
	"errors"
	"time"

	"tickcron/internal/task/engine"
	"tickcron/internal/task/schedule"
)

var (
	ErrTaskExists        = errors.New("task already exists")
	ErrInvalidDescriptor = errors.New("invalid task descriptor")
)

// Config controls the tick driver.
type Config struct {
	// Timezone is an IANA name used to read schedule fields. Empty means UTC.
	Timezone string
}

// Descriptor is what callers register under a name.
type Descriptor struct {
	Run func(ctx context.Context) error
	// Schedule defaults to schedule.DefaultExpr (second zero of every minute).
	Schedule string
}

// Task is a validated registry entry.
type Task struct {
	Name     string
	Run      func(ctx context.Context) error
	Schedule schedule.Schedule
}

// Dispatcher runs task bodies concurrently. *engine.Service satisfies it.
//
// Dispatch must not block on the body. When it returns nil, r.OnDone must be
// called exactly once after the body completes.
type Dispatcher interface {
	Dispatch(r engine.Run) error
}

// TaskInfo is a read-only view of one registered task.
type TaskInfo struct {
	Name         string
	Schedule     string
	Running      bool
	RunningSince time.Time
	LastFired    time.Time
}

type Snapshot struct {
	Running  bool
	Timezone string
	Ticks    uint64
	Tasks    []TaskInfo
}
