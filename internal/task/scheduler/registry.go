package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"tickcron/internal/task/schedule"
	logx "tickcron/pkg/logx"
)

type entry struct {
	task  Task
	guard *guard
}

// NewTask validates d and parses its schedule.
func NewTask(name string, d Descriptor) (Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Task{}, fmt.Errorf("%w: name required", ErrInvalidDescriptor)
	}
	if d.Run == nil {
		return Task{}, fmt.Errorf("%w: task %q has no run func", ErrInvalidDescriptor, name)
	}
	expr := d.Schedule
	if strings.TrimSpace(expr) == "" {
		expr = schedule.DefaultExpr
	}
	sched, err := schedule.Parse(expr)
	if err != nil {
		return Task{}, fmt.Errorf("task %q: %w", name, err)
	}
	return Task{Name: name, Run: d.Run, Schedule: sched}, nil
}

// AddTask registers a new task. It fails with ErrTaskExists if the name is
// taken and leaves the registry unchanged on any error.
func (s *Service) AddTask(name string, d Descriptor) error {
	t, err := NewTask(name, d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.Name]; ok {
		return fmt.Errorf("%w: %q", ErrTaskExists, t.Name)
	}
	s.tasks[t.Name] = &entry{task: t, guard: &guard{}}
	s.log.Debug("task added", logx.String("task", t.Name), logx.String("schedule", t.Schedule.String()))
	return nil
}

// UpdateTask replaces (or creates) the task under name.
//
// The execution state is kept, so an update never fires a second time in the
// same second or overlaps a run that is still in flight.
func (s *Service) UpdateTask(name string, d Descriptor) error {
	t, err := NewTask(name, d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.tasks[t.Name]; ok {
		e.task = t
	} else {
		s.tasks[t.Name] = &entry{task: t, guard: &guard{}}
	}
	s.log.Debug("task updated", logx.String("task", t.Name), logx.String("schedule", t.Schedule.String()))
	return nil
}

// RemoveTask deletes the task. An in-flight run is not canceled.
// It reports whether a task was removed.
func (s *Service) RemoveTask(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	_, ok := s.tasks[name]
	delete(s.tasks, name)
	s.mu.Unlock()
	if ok {
		s.reports.forget(name)
		s.log.Debug("task removed", logx.String("task", name))
	}
	return ok
}

func (s *Service) HasTask(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[strings.TrimSpace(name)]
	return ok
}

// Tasks lists registered tasks sorted by name.
func (s *Service) Tasks() []TaskInfo {
	s.mu.Lock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for name, e := range s.tasks {
		out = append(out, TaskInfo{
			Name:         name,
			Schedule:     e.task.Schedule.String(),
			Running:      !e.guard.runningSince.IsZero(),
			RunningSince: e.guard.runningSince,
			LastFired:    e.guard.lastFired,
		})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
