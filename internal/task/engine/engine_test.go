package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tickcron/internal/eventbus"
	"tickcron/internal/storage"
	logx "tickcron/pkg/logx"
)

type memRecorder struct {
	mu   sync.Mutex
	runs []storage.RunRecord
}

func (m *memRecorder) AppendRun(ctx context.Context, r storage.RunRecord) error {
	m.mu.Lock()
	m.runs = append(m.runs, r)
	m.mu.Unlock()
	return nil
}

func (m *memRecorder) all() []storage.RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.RunRecord(nil), m.runs...)
}

func startEngine(t *testing.T, opts ...Option) (*Service, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	s := New(Config{HistorySize: 3}, logx.Nop(), bus, opts...)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s, bus
}

func dispatchWait(t *testing.T, s *Service, r Run) Result {
	t.Helper()
	done := make(chan Result, 1)
	r.OnDone = func(res Result) { done <- res }
	if err := s.Dispatch(r); err != nil {
		t.Fatalf("Dispatch() = %v", err)
	}
	select {
	case res := <-done:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("run did not complete")
		return Result{}
	}
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
			return eventbus.Event{}
		}
	}
}

func TestDispatchRunsAndReports(t *testing.T) {
	t.Parallel()
	rec := &memRecorder{}
	s, bus := startEngine(t, WithRecorder(rec))
	events, unsub := bus.Subscribe(16)
	defer unsub()

	slot := time.Date(2014, time.January, 1, 0, 0, 0, 0, time.UTC)
	res := dispatchWait(t, s, Run{Name: "ok", Slot: slot, Fn: func(ctx context.Context) error { return nil }})
	if res.Err != nil || res.ID == "" || !res.Slot.Equal(slot) {
		t.Fatalf("result = %+v", res)
	}

	ev := waitEvent(t, events, eventbus.TypeTaskFinished)
	if te, ok := ev.Data.(TaskEvent); !ok || te.Name != "ok" || te.ID != res.ID {
		t.Fatalf("event data = %#v", ev.Data)
	}

	// The recorder runs after OnDone; poll for it.
	deadline := time.Now().Add(2 * time.Second)
	for len(rec.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	runs := rec.all()
	if len(runs) != 1 || runs[0].Task != "ok" || !runs[0].OK || runs[0].ID != res.ID {
		t.Fatalf("recorded runs = %+v", runs)
	}
}

func TestDispatchReportsErrorsAndPanics(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t)
	events, unsub := bus.Subscribe(16)
	defer unsub()

	boom := errors.New("boom")
	res := dispatchWait(t, s, Run{Name: "fails", Fn: func(ctx context.Context) error { return boom }})
	if !errors.Is(res.Err, boom) {
		t.Fatalf("Err = %v, want %v", res.Err, boom)
	}
	waitEvent(t, events, eventbus.TypeTaskFailed)

	res = dispatchWait(t, s, Run{Name: "panics", Fn: func(ctx context.Context) error { panic("disk full on /var") }})
	if !errors.Is(res.Err, ErrPanicked) || !strings.Contains(res.Err.Error(), "disk full on /var") {
		t.Fatalf("Err = %v, want ErrPanicked with the panic value", res.Err)
	}
	ev := waitEvent(t, events, eventbus.TypeTaskFailed)
	if te, ok := ev.Data.(TaskEvent); !ok || !strings.Contains(te.Error, "disk full on /var") {
		t.Fatalf("failed event = %+v", ev.Data)
	}

	// Let exec finish bookkeeping after OnDone.
	deadline := time.Now().Add(2 * time.Second)
	for s.Snapshot().InFlight != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	snap := s.Snapshot()
	if snap.Failed != 2 || snap.Panicked != 1 || snap.Dispatched != 2 {
		t.Fatalf("snapshot counters = %+v", snap)
	}

	// History is appended after the failed event is published.
	var last HistoryItem
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h := s.Snapshot().History; len(h) > 0 && h[len(h)-1].Name == "panics" {
			last = h[len(h)-1]
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(last.Error, "panicked: disk full on /var") {
		t.Fatalf("history item = %+v", last)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t)
	events, unsub := bus.Subscribe(64)
	defer unsub()

	for i := 0; i < 5; i++ {
		dispatchWait(t, s, Run{Name: "h", Fn: func(ctx context.Context) error { return nil }})
		waitEvent(t, events, eventbus.TypeTaskFinished)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(s.Snapshot().History) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(s.Snapshot().History); got != 3 {
		t.Fatalf("history len = %d, want 3", got)
	}
}

func TestDispatchWhenStopped(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	called := false
	err := s.Dispatch(Run{Name: "x", Fn: func(ctx context.Context) error { return nil }, OnDone: func(Result) { called = true }})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Dispatch() = %v, want ErrStopped", err)
	}
	if called {
		t.Fatal("OnDone called for a refused dispatch")
	}
	if err := s.Dispatch(Run{Name: "nil"}); !errors.Is(err, ErrNoFunc) {
		t.Fatalf("Dispatch(nil fn) = %v, want ErrNoFunc", err)
	}
}

func TestStopWaitsThenCancelsOnTimeout(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	s.Start(context.Background())

	canceled := make(chan struct{})
	if err := s.Dispatch(Run{Name: "slow", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	}}); err != nil {
		t.Fatalf("Dispatch() = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop() = %v, want deadline exceeded", err)
	}
	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight run was not canceled after stop timeout")
	}
	if s.Running() {
		t.Fatal("engine still running after Stop")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop() = %v", err)
	}
}

func TestRunContextOutlivesStartContext(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() { _ = s.Stop(context.Background()) }()
	cancel()

	res := dispatchWait(t, s, Run{Name: "detached", Fn: func(ctx context.Context) error { return ctx.Err() }})
	if res.Err != nil {
		t.Fatalf("run context canceled with start context: %v", res.Err)
	}
}
