package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tickcron/internal/eventbus"
	"tickcron/internal/observability"
	logx "tickcron/pkg/logx"

	rtsup "tickcron/internal/runtime/supervisor"

	"github.com/google/uuid"
)

const (
	defaultHistorySize   = 200
	defaultRecordTimeout = 2 * time.Second
	warnThrottleEvery    = 5 * time.Second
)

// Service runs each dispatched task body on its own supervised goroutine.
//
// Run contexts are detached from the context passed to Start, so canceling
// the caller does not cancel in-flight runs. Only a Stop that times out
// cancels them.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	rec     Recorder
	metrics *observability.Metrics

	sup *rtsup.Supervisor

	inFlight   atomic.Int64
	dispatched atomic.Uint64
	failed     atomic.Uint64
	panicked   atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem

	lastRecordWarnAt atomic.Int64
}

type Option func(*Service)

// WithRecorder persists every completed run through rec.
func WithRecorder(rec Recorder) Option {
	return func(s *Service) { s.rec = rec }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = defaultRecordTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg: cfg,
		log: log.With(logx.String("comp", "taskengine")),
		bus: bus,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Supervisor returns the engine's supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.New(context.WithoutCancel(ctx),
		rtsup.WithLogger(s.log),
		// A failing run must never take the others down.
		rtsup.WithCancelOnError(false),
	)
	s.log.Info("task engine started")
}

// Stop refuses further dispatches and waits for in-flight runs until ctx is
// done. On timeout the remaining runs have their contexts canceled and
// ctx.Err() is returned. Stop is idempotent.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}

	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		sup.Cancel()
		s.log.Warn("task engine stop timed out; canceling in-flight runs",
			logx.Int64("in_flight", s.inFlight.Load()), logx.Err(ctx.Err()))
		return ctx.Err()
	}
	sup.Cancel()
	s.log.Info("task engine stopped")
	return nil
}

// Running reports whether the engine accepts dispatches.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup != nil
}

// Dispatch starts r on a new goroutine and returns immediately.
// It returns ErrStopped if the engine is not running; OnDone is not called then.
func (s *Service) Dispatch(r Run) error {
	if r.Fn == nil {
		return ErrNoFunc
	}
	r.Name = strings.TrimSpace(r.Name)
	if strings.TrimSpace(r.ID) == "" {
		r.ID = uuid.NewString()
	}

	// Holding mu across Go keeps Stop from waiting on a group that is still growing.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup == nil {
		return ErrStopped
	}
	s.dispatched.Add(1)
	s.inFlight.Add(1)
	s.metrics.RunStarted()
	s.sup.Go0("run."+r.Name, func(ctx context.Context) { s.exec(ctx, r) })
	return nil
}

func (s *Service) Snapshot() Snapshot {
	s.hmu.Lock()
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Running:    s.Running(),
		InFlight:   int(s.inFlight.Load()),
		Dispatched: s.dispatched.Load(),
		Failed:     s.failed.Load(),
		Panicked:   s.panicked.Load(),
		History:    h,
	}
}

func (s *Service) appendHistory(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()
}

func (s *Service) shouldWarn(last *atomic.Int64, now time.Time) bool {
	prev := last.Load()
	n := now.UnixNano()
	if prev != 0 && (n-prev) < int64(warnThrottleEvery) {
		return false
	}
	return last.CompareAndSwap(prev, n)
}
