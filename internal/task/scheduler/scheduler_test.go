package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"tickcron/internal/eventbus"
	"tickcron/internal/task/engine"
	"tickcron/internal/task/schedule"
	logx "tickcron/pkg/logx"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(v string) *fakeClock {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		panic(err)
	}
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(v string) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// syncDispatcher runs bodies inline unless hold is set, in which case runs
// are parked until release.
type syncDispatcher struct {
	mu      sync.Mutex
	runs    []engine.Run
	hold    bool
	parked  []engine.Run
	refuse  error
	started atomic.Int32
}

func (d *syncDispatcher) Dispatch(r engine.Run) error {
	if d.refuse != nil {
		return d.refuse
	}
	d.mu.Lock()
	d.runs = append(d.runs, r)
	hold := d.hold
	if hold {
		d.parked = append(d.parked, r)
	}
	d.mu.Unlock()
	d.started.Add(1)
	if !hold {
		err := r.Fn(context.Background())
		r.OnDone(engine.Result{ID: r.ID, Name: r.Name, Slot: r.Slot, Err: err})
	}
	return nil
}

func (d *syncDispatcher) release() {
	d.mu.Lock()
	parked := d.parked
	d.parked = nil
	d.hold = false
	d.mu.Unlock()
	for _, r := range parked {
		r.OnDone(engine.Result{ID: r.ID, Name: r.Name, Slot: r.Slot})
	}
}

func (d *syncDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.runs)
}

func newTestScheduler(t *testing.T, clock Clock, d Dispatcher) *Service {
	t.Helper()
	return New(Config{}, d, logx.Nop(), eventbus.New(), WithClock(clock))
}

func noop(ctx context.Context) error { return nil }

func TestFiresOncePerSecond(t *testing.T) {
	t.Parallel()
	clock := newFakeClock("2014-01-01T00:00:00Z")
	d := &syncDispatcher{}
	s := newTestScheduler(t, clock, d)
	var calls atomic.Int32
	if err := s.AddTask("test", Descriptor{Schedule: "* * * * * *", Run: func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}}); err != nil {
		t.Fatalf("AddTask() = %v", err)
	}

	if n := s.CheckRunnableTasks(); n != 1 {
		t.Fatalf("first pass dispatched %d, want 1", n)
	}
	clock.Set("2014-01-01T00:00:00.500Z")
	if n := s.CheckRunnableTasks(); n != 0 {
		t.Fatalf("same-second pass dispatched %d, want 0", n)
	}
	clock.Set("2014-01-01T00:00:01Z")
	if n := s.CheckRunnableTasks(); n != 1 {
		t.Fatalf("next-second pass dispatched %d, want 1", n)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("body ran %d times, want 2", got)
	}
}

func TestRunningTaskIsNotRedispatched(t *testing.T) {
	t.Parallel()
	clock := newFakeClock("2014-01-01T00:00:00Z")
	d := &syncDispatcher{hold: true}
	s := newTestScheduler(t, clock, d)
	if err := s.AddTask("slow", Descriptor{Schedule: "* * * * * *", Run: noop}); err != nil {
		t.Fatalf("AddTask() = %v", err)
	}

	for i, ts := range []string{"2014-01-01T00:00:00Z", "2014-01-01T00:00:01Z", "2014-01-01T00:00:02Z"} {
		clock.Set(ts)
		s.CheckRunnableTasks()
		if got := d.count(); got != 1 {
			t.Fatalf("pass %d: dispatched %d, want 1", i, got)
		}
	}
	if info := s.Tasks(); len(info) != 1 || !info[0].Running {
		t.Fatalf("Tasks() = %+v, want slow running", info)
	}

	d.release()
	clock.Set("2014-01-01T00:00:03Z")
	if n := s.CheckRunnableTasks(); n != 1 {
		t.Fatalf("after completion dispatched %d, want 1", n)
	}
}

func TestScheduleIsRespected(t *testing.T) {
	t.Parallel()
	clock := newFakeClock("2014-01-01T00:00:00Z")
	d := &syncDispatcher{}
	s := newTestScheduler(t, clock, d)
	if err := s.AddTask("sec5", Descriptor{Schedule: "* * * * * 5", Run: noop}); err != nil {
		t.Fatal(err)
	}
	// Default schedule fires at second zero of every minute.
	if err := s.AddTask("default", Descriptor{Run: noop}); err != nil {
		t.Fatal(err)
	}

	if n := s.CheckRunnableTasks(); n != 1 {
		t.Fatalf("at :00 dispatched %d, want 1 (default)", n)
	}
	clock.Set("2014-01-01T00:00:05.250Z")
	if n := s.CheckRunnableTasks(); n != 1 {
		t.Fatalf("at :05 dispatched %d, want 1 (sec5)", n)
	}
	clock.Set("2014-01-01T00:00:06Z")
	if n := s.CheckRunnableTasks(); n != 0 {
		t.Fatalf("at :06 dispatched %d, want 0", n)
	}
}

func TestAddTaskRejectsDuplicates(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, newFakeClock("2014-01-01T00:00:00Z"), &syncDispatcher{})
	if err := s.AddTask("dup", Descriptor{Schedule: "* * * * * 1", Run: noop}); err != nil {
		t.Fatal(err)
	}
	err := s.AddTask("dup", Descriptor{Schedule: "* * * * * 2", Run: noop})
	if !errors.Is(err, ErrTaskExists) {
		t.Fatalf("duplicate AddTask() = %v, want ErrTaskExists", err)
	}
	if info := s.Tasks(); len(info) != 1 || info[0].Schedule != "* * * * * 1" {
		t.Fatalf("first registration not kept: %+v", info)
	}
}

func TestAddTaskValidation(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, newFakeClock("2014-01-01T00:00:00Z"), &syncDispatcher{})
	tests := []struct {
		name string
		task string
		d    Descriptor
		want error
	}{
		{"four fields", "a", Descriptor{Schedule: "* * * *", Run: noop}, schedule.ErrParse},
		{"seven fields", "b", Descriptor{Schedule: "* * * * * * *", Run: noop}, schedule.ErrParse},
		{"bad element", "c", Descriptor{Schedule: "* * x * *", Run: noop}, schedule.ErrParse},
		{"nil run", "d", Descriptor{Schedule: "* * * * *"}, ErrInvalidDescriptor},
		{"empty name", " ", Descriptor{Run: noop}, ErrInvalidDescriptor},
	}
	for _, tt := range tests {
		if err := s.AddTask(tt.task, tt.d); !errors.Is(err, tt.want) {
			t.Fatalf("%s: AddTask() = %v, want %v", tt.name, err, tt.want)
		}
		if err := s.UpdateTask(tt.task, tt.d); !errors.Is(err, tt.want) {
			t.Fatalf("%s: UpdateTask() = %v, want %v", tt.name, err, tt.want)
		}
	}
	if got := len(s.Tasks()); got != 0 {
		t.Fatalf("registry has %d tasks after failed adds", got)
	}
}

func TestUpdateKeepsGuardState(t *testing.T) {
	t.Parallel()
	clock := newFakeClock("2014-01-01T00:00:00Z")
	d := &syncDispatcher{}
	s := newTestScheduler(t, clock, d)
	if err := s.AddTask("u", Descriptor{Schedule: "* * * * * *", Run: noop}); err != nil {
		t.Fatal(err)
	}
	s.CheckRunnableTasks()

	var replaced atomic.Bool
	if err := s.UpdateTask("u", Descriptor{Schedule: "* * * * * 0", Run: func(ctx context.Context) error {
		replaced.Store(true)
		return nil
	}}); err != nil {
		t.Fatal(err)
	}
	if n := s.CheckRunnableTasks(); n != 0 {
		t.Fatalf("update caused a same-second re-fire")
	}

	clock.Set("2014-01-01T00:01:00Z")
	if n := s.CheckRunnableTasks(); n != 1 || !replaced.Load() {
		t.Fatalf("updated body not used: n=%d replaced=%v", n, replaced.Load())
	}

	// Update of an unknown name registers it.
	if err := s.UpdateTask("fresh", Descriptor{Run: noop}); err != nil || !s.HasTask("fresh") {
		t.Fatalf("UpdateTask(new) = %v, HasTask = %v", err, s.HasTask("fresh"))
	}
}

func TestRemoveOrphansInFlightRun(t *testing.T) {
	t.Parallel()
	clock := newFakeClock("2014-01-01T00:00:00Z")
	d := &syncDispatcher{hold: true}
	s := newTestScheduler(t, clock, d)
	if err := s.AddTask("r", Descriptor{Schedule: "* * * * * *", Run: noop}); err != nil {
		t.Fatal(err)
	}
	s.CheckRunnableTasks()

	if !s.RemoveTask("r") {
		t.Fatal("RemoveTask() = false for a registered task")
	}
	if s.RemoveTask("r") {
		t.Fatal("second RemoveTask() = true")
	}

	// Re-adding gets fresh state and may run although the orphan is still in flight.
	if err := s.AddTask("r", Descriptor{Schedule: "* * * * * *", Run: noop}); err != nil {
		t.Fatal(err)
	}
	clock.Set("2014-01-01T00:00:01Z")
	if n := s.CheckRunnableTasks(); n != 1 {
		t.Fatalf("re-added task dispatched %d, want 1", n)
	}

	// Completing both runs must not panic and leaves the new task idle.
	d.release()
	if info := s.Tasks(); info[0].Running {
		t.Fatalf("task still running after release: %+v", info[0])
	}
}

func TestRefusedDispatchConsumesSlot(t *testing.T) {
	t.Parallel()
	clock := newFakeClock("2014-01-01T00:00:00Z")
	d := &syncDispatcher{refuse: engine.ErrStopped}
	s := newTestScheduler(t, clock, d)
	if err := s.AddTask("x", Descriptor{Schedule: "* * * * * *", Run: noop}); err != nil {
		t.Fatal(err)
	}
	if n := s.CheckRunnableTasks(); n != 0 {
		t.Fatalf("refused dispatch counted: %d", n)
	}
	info := s.Tasks()[0]
	if info.Running || info.LastFired.IsZero() {
		t.Fatalf("after refusal: %+v, want idle with slot consumed", info)
	}

	d.refuse = nil
	if n := s.CheckRunnableTasks(); n != 0 {
		t.Fatal("refused slot fired again in the same second")
	}
}

func TestEvaluationPanicSkipsTask(t *testing.T) {
	t.Parallel()
	clock := newFakeClock("2014-01-01T00:00:00Z")
	d := &syncDispatcher{}
	s := newTestScheduler(t, clock, d)
	if err := s.AddTask("good", Descriptor{Schedule: "* * * * * *", Run: noop}); err != nil {
		t.Fatal(err)
	}
	// A nil guard makes evaluation of "bad" panic.
	s.mu.Lock()
	s.tasks["bad"] = &entry{task: Task{Name: "bad", Run: noop, Schedule: schedule.MustParse("* * * * * *")}}
	s.mu.Unlock()

	if n := s.CheckRunnableTasks(); n != 1 {
		t.Fatalf("dispatched %d, want 1 (good only)", n)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()
	d := &syncDispatcher{}
	s := New(Config{}, d, logx.Nop(), nil)
	if s.Running() {
		t.Fatal("new scheduler reports running")
	}
	if err := s.AddTask("every", Descriptor{Schedule: "* * * * * *", Run: noop}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)
	if !s.Running() {
		t.Fatal("not running after Start")
	}

	// The first pass runs immediately on Start.
	deadline := time.Now().Add(2 * time.Second)
	for d.started.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if d.started.Load() == 0 {
		t.Fatal("no dispatch after Start")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop() = %v", err)
	}
	if s.Running() {
		t.Fatal("running after Stop")
	}

	// Restart works.
	s.Start(ctx)
	if !s.Running() {
		t.Fatal("not running after restart")
	}
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() after restart = %v", err)
	}
}

func TestStopTimeoutKeepsLoopRegistered(t *testing.T) {
	t.Parallel()
	d := &syncDispatcher{}
	s := New(Config{}, d, logx.Nop(), nil)
	gate := make(chan struct{})
	body := func(ctx context.Context) error { <-gate; return nil }
	if err := s.AddTask("stuck", Descriptor{Schedule: "* * * * * *", Run: body}); err != nil {
		t.Fatal(err)
	}

	// The inline dispatcher parks the loop inside the task body.
	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for d.started.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if d.started.Load() == 0 {
		t.Fatal("no dispatch after Start")
	}

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Stop(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop() = %v, want deadline exceeded", err)
	}
	if !s.Running() {
		t.Fatal("Running() = false while the loop is still alive")
	}
	s.mu.Lock()
	first := s.sup
	s.mu.Unlock()
	s.Start(context.Background())
	s.mu.Lock()
	second := s.sup
	s.mu.Unlock()
	if first != second {
		t.Fatal("Start() launched a second loop while the first was winding down")
	}

	close(gate)
	deadline = time.Now().Add(2 * time.Second)
	for s.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Running() {
		t.Fatal("Running() = true after the loop exited")
	}

	s.Start(context.Background())
	if !s.Running() {
		t.Fatal("not running after restart")
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() after restart = %v", err)
	}
}

func TestUntilNextSecond(t *testing.T) {
	t.Parallel()
	tests := []struct {
		now  time.Time
		want time.Duration
	}{
		{time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC), time.Second},
		{time.Date(2014, 1, 1, 0, 0, 0, 250_000_000, time.UTC), 750 * time.Millisecond},
		{time.Date(2014, 1, 1, 0, 0, 59, 999_000_000, time.UTC), time.Millisecond},
	}
	for _, tt := range tests {
		if got := untilNextSecond(tt.now); got != tt.want {
			t.Fatalf("untilNextSecond(%s) = %s, want %s", tt.now, got, tt.want)
		}
	}
}

func TestSchedulerUsesConfiguredTimezone(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "Asia/Jakarta"}, &syncDispatcher{}, logx.Nop(), nil)
	if got := s.Snapshot().Timezone; got != "Asia/Jakarta" {
		t.Fatalf("Timezone = %q", got)
	}
	s = New(Config{Timezone: "Not/AZone"}, &syncDispatcher{}, logx.Nop(), nil)
	if got := s.Snapshot().Timezone; got != "UTC" {
		t.Fatalf("invalid timezone fell back to %q, want UTC", got)
	}
}
