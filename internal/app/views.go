package app

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tickcron/internal/observability"
	"tickcron/internal/storage"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

type tasksView struct {
	Scheduler struct {
		Running  bool   `json:"running"`
		Timezone string `json:"timezone"`
		Ticks    uint64 `json:"ticks"`
	} `json:"scheduler"`
	Engine struct {
		Running    bool   `json:"running"`
		InFlight   int    `json:"in_flight"`
		Dispatched uint64 `json:"dispatched"`
		Failed     uint64 `json:"failed"`
		Panicked   uint64 `json:"panicked"`
	} `json:"engine"`
	Tasks []taskView `json:"tasks"`
}

type taskView struct {
	Name         string    `json:"name"`
	Schedule     string    `json:"schedule"`
	Running      bool      `json:"running"`
	RunningSince time.Time `json:"running_since,omitzero"`
	LastFired    time.Time `json:"last_fired,omitzero"`
}

type runsView struct {
	Source string              `json:"source"`
	Runs   []storage.RunRecord `json:"runs"`
}

func (a *App) registerViews() {
	a.http.HandleJSON("/tasks", a.viewTasks)
	a.http.HandleJSON("/runs", a.viewRuns)
}

func (a *App) viewTasks(*http.Request) (any, error) {
	ss := a.sched.Snapshot()
	es := a.engine.Snapshot()

	var v tasksView
	v.Scheduler.Running = ss.Running
	v.Scheduler.Timezone = ss.Timezone
	v.Scheduler.Ticks = ss.Ticks
	v.Engine.Running = es.Running
	v.Engine.InFlight = es.InFlight
	v.Engine.Dispatched = es.Dispatched
	v.Engine.Failed = es.Failed
	v.Engine.Panicked = es.Panicked
	v.Tasks = make([]taskView, 0, len(ss.Tasks))
	for _, t := range ss.Tasks {
		v.Tasks = append(v.Tasks, taskView{
			Name:         t.Name,
			Schedule:     t.Schedule,
			Running:      t.Running,
			RunningSince: t.RunningSince,
			LastFired:    t.LastFired,
		})
	}
	return v, nil
}

// viewRuns serves ?task=&limit= from the store, or from the engine's
// in-memory history when storage is disabled.
func (a *App) viewRuns(r *http.Request) (any, error) {
	q := r.URL.Query()
	task := strings.TrimSpace(q.Get("task"))
	limit := defaultRunsLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: limit must be a positive integer", observability.ErrBadRequest)
		}
		limit = min(n, maxRunsLimit)
	}

	if a.store != nil {
		runs, err := a.store.RecentRuns(r.Context(), task, limit)
		if err != nil {
			return nil, err
		}
		if runs == nil {
			runs = []storage.RunRecord{}
		}
		return runsView{Source: "storage", Runs: runs}, nil
	}

	h := a.engine.Snapshot().History
	runs := make([]storage.RunRecord, 0, min(limit, len(h)))
	for i := len(h) - 1; i >= 0 && len(runs) < limit; i-- {
		it := h[i]
		if task != "" && it.Name != task {
			continue
		}
		runs = append(runs, storage.RunRecord{
			ID:         it.ID,
			Task:       it.Name,
			Slot:       it.Slot,
			Started:    it.Started,
			DurationMS: it.Duration.Milliseconds(),
			OK:         it.Error == "",
			Error:      it.Error,
		})
	}
	return runsView{Source: "memory", Runs: runs}, nil
}
