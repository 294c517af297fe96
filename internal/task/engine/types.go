package engine

import (
	"context"
	"time"

	"tickcron/internal/storage"
)

// Config controls the run engine.
type Config struct {
	// HistorySize bounds the in-memory history ring. 0 applies a default of 200.
	HistorySize int

	// RecordTimeout bounds each Recorder call. 0 applies a default of 2s.
	RecordTimeout time.Duration
}

// Run is one dispatched execution of a task body.
type Run struct {
	// ID is assigned by Dispatch when empty.
	ID   string
	Name string
	// Slot is the whole second this run was fired for.
	Slot time.Time
	Fn   func(ctx context.Context) error

	// OnDone is called exactly once when Fn has returned or panicked,
	// before the run is logged or recorded.
	OnDone func(Result)
}

// Result describes a completed run. Err wraps ErrPanicked if Fn panicked.
type Result struct {
	ID       string
	Name     string
	Slot     time.Time
	Started  time.Time
	Duration time.Duration
	Err      error
}

type HistoryItem struct {
	ID       string
	Name     string
	Slot     time.Time
	Started  time.Time
	Duration time.Duration
	Error    string
}

// TaskEvent is published on the event bus when a run completes.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Slot     time.Time     `json:"slot"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Recorder persists completed runs. storage.Store satisfies it.
type Recorder interface {
	AppendRun(ctx context.Context, r storage.RunRecord) error
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running    bool
	InFlight   int
	Dispatched uint64
	Failed     uint64
	Panicked   uint64
	History    []HistoryItem
}
