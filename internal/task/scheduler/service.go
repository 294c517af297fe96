package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tickcron/internal/eventbus"
	"tickcron/internal/observability"
	"tickcron/internal/task/engine"
	logx "tickcron/pkg/logx"

	rtsup "tickcron/internal/runtime/supervisor"

	"github.com/google/uuid"
)

// DispatchEvent is published when a task run is handed to the dispatcher.
type DispatchEvent struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Slot     time.Time `json:"slot"`
	Schedule string    `json:"schedule"`
}

// SkipEvent is published when a due task is vetoed because it is still running.
type SkipEvent struct {
	Name         string    `json:"name"`
	Slot         time.Time `json:"slot"`
	Reason       string    `json:"reason"`
	RunningSince time.Time `json:"running_since"`
}

type Service struct {
	mu sync.Mutex

	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	clock   Clock
	metrics *observability.Metrics
	d       Dispatcher

	tasks map[string]*entry
	sup   *rtsup.Supervisor
	// loopDone is closed once every goroutine under sup has returned.
	loopDone chan struct{}

	ticks   atomic.Uint64
	reports reporter
}

type Option func(*Service)

// WithClock replaces the wall clock. Schedules are read in the location of
// the times it returns.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a stopped scheduler. d must be non-nil.
func New(cfg Config, d Dispatcher, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:   cfg,
		log:   log.With(logx.String("comp", "scheduler")),
		bus:   bus,
		d:     d,
		tasks: map[string]*entry{},
	}
	s.clock = SystemClock{Location: s.loadLocation()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" || strings.EqualFold(tz, "UTC") {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}

// Start launches the tick loop. The first evaluation pass runs immediately.
// Start is idempotent; canceling ctx ends the loop like Stop. While a previous
// loop is still winding down Start does nothing.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup != nil && !closed(s.loopDone) {
		s.mu.Unlock()
		return
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(s.log))
	done := make(chan struct{})
	s.sup, s.loopDone = sup, done
	n := len(s.tasks)
	s.mu.Unlock()

	sup.GoRestart("scheduler.tick", s.loop, rtsup.WithRestartBackoff(100*time.Millisecond, 5*time.Second))
	go func() {
		_ = sup.Wait(context.Background())
		close(done)
	}()
	s.log.Info("scheduler started", logx.Int("tasks", n), logx.String("tz", s.clock.Now().Location().String()))
	s.publish(eventbus.TypeSchedulerStarted, nil)
}

// Stop ends the tick loop and waits for it to exit. In-flight runs are left
// alone. Stop is idempotent. If ctx ends first the loop stays registered, so
// Running keeps reporting it until it has actually exited.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
		s.log.Warn("scheduler stop timed out", logx.Err(cerr))
		return cerr
	}
	s.mu.Lock()
	if s.sup == sup {
		s.sup, s.loopDone = nil, nil
	}
	s.mu.Unlock()

	s.log.Info("scheduler stopped")
	s.publish(eventbus.TypeSchedulerStopped, nil)
	if err != nil {
		return fmt.Errorf("scheduler loop: %w", err)
	}
	return nil
}

// Running reports whether a tick loop goroutine is alive.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup != nil && !closed(s.loopDone)
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (s *Service) loop(ctx context.Context) error {
	for {
		s.CheckRunnableTasks()

		t := time.NewTimer(untilNextSecond(s.clock.Now()))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// untilNextSecond is the delay from now to the next whole second, never negative.
func untilNextSecond(now time.Time) time.Duration {
	d := now.Truncate(time.Second).Add(time.Second).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

type pending struct {
	name  string
	sched string
	run   func(ctx context.Context) error
	guard *guard
}

// CheckRunnableTasks runs one evaluation pass at the clock's current time and
// returns the number of runs dispatched. It is safe to call while the loop is
// running; the same-second check keeps a slot from firing twice.
func (s *Service) CheckRunnableTasks() int {
	now := s.clock.Now()
	s.metrics.Tick()
	s.ticks.Add(1)

	s.mu.Lock()
	due := make([]pending, 0, 4)
	for name, e := range s.tasks {
		if s.evaluate(name, e, now) {
			due = append(due, pending{name: name, sched: e.task.Schedule.String(), run: e.task.Run, guard: e.guard})
		}
	}
	s.mu.Unlock()

	n := 0
	for _, p := range due {
		if s.dispatch(p, now) {
			n++
		}
	}
	return n
}

// evaluate decides whether e fires at now and marks it fired if so.
// A panic skips the task for this pass only. Call with s.mu held.
func (s *Service) evaluate(name string, e *entry, now time.Time) (fire bool) {
	defer func() {
		if r := recover(); r != nil {
			fire = false
			stack := string(debug.Stack())
			s.reports.do(name, func() {
				s.log.Error("task evaluation panicked", logx.String("task", name), logx.Any("panic", r), logx.Stack(stack))
			})
		}
	}()

	reason := e.guard.veto(now)
	if !e.task.Schedule.Due(now) {
		return false
	}
	switch reason {
	case "":
		e.guard.fire(now)
		return true
	case skipRunning:
		s.metrics.Skipped(name, reason)
		s.log.Debug("task still running; slot skipped", logx.String("task", name), logx.Time("running_since", e.guard.runningSince))
		s.publish(eventbus.TypeTaskSkipped, SkipEvent{Name: name, Slot: now.Truncate(time.Second), Reason: reason, RunningSince: e.guard.runningSince})
	}
	return false
}

func (s *Service) dispatch(p pending, now time.Time) bool {
	slot := now.Truncate(time.Second)
	id := uuid.NewString()
	g := p.guard
	err := s.d.Dispatch(engine.Run{
		ID:   id,
		Name: p.name,
		Slot: slot,
		Fn:   p.run,
		OnDone: func(engine.Result) {
			s.mu.Lock()
			g.done()
			s.mu.Unlock()
		},
	})
	if err != nil {
		// The slot stays consumed.
		s.mu.Lock()
		g.done()
		s.mu.Unlock()
		s.reports.do(p.name, func() {
			s.log.Warn("task dispatch refused", logx.String("task", p.name), logx.Err(err))
		})
		return false
	}
	s.metrics.Dispatched(p.name)
	s.log.Debug("task dispatched", logx.String("task", p.name), logx.String("run_id", id), logx.Time("slot", slot))
	s.publish(eventbus.TypeTaskDispatched, DispatchEvent{ID: id, Name: p.name, Slot: slot, Schedule: p.sched})
	return true
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

func (s *Service) Snapshot() Snapshot {
	return Snapshot{
		Running:  s.Running(),
		Timezone: s.clock.Now().Location().String(),
		Ticks:    s.ticks.Load(),
		Tasks:    s.Tasks(),
	}
}
