package notify

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tickcron/internal/eventbus"
	"tickcron/internal/task/engine"
	logx "tickcron/pkg/logx"
	"tickcron/pkg/tgui"

	rtsup "tickcron/internal/runtime/supervisor"

	"golang.org/x/time/rate"
)

const (
	defaultRatePerSec  = 1
	defaultMinInterval = 5 * time.Minute
	maxErrorText       = 1000
	sendTimeout        = 10 * time.Second
)

type Config struct {
	Enabled    bool
	ChatID     int64
	RatePerSec int
	// MinInterval suppresses alerts for a task that alerted less than this ago.
	// 0 applies a default of 5m; negative disables suppression.
	MinInterval time.Duration
}

// Service is safe for concurrent use. Start and Stop are idempotent.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	sender  Sender
	limiter *rate.Limiter

	sup   *rtsup.Supervisor
	unsub func()

	dmu  sync.Mutex
	last map[string]time.Time

	sent       atomic.Uint64
	suppressed atomic.Uint64
	failed     atomic.Uint64
}

type Stats struct {
	Sent       uint64
	Suppressed uint64
	Failed     uint64
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	} else if cfg.MinInterval == 0 {
		cfg.MinInterval = defaultMinInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "notify")),
		bus:    bus,
		sender: sender,
		// Burst equals the per-second rate so short spikes are not delayed.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		last:    map[string]time.Time{},
	}
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled || s.sender == nil || s.bus == nil {
		return
	}
	ch, unsub := s.bus.Subscribe(64)
	s.unsub = unsub
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.GoRestart("notify.events", func(c context.Context) error {
		return s.loop(c, ch)
	})
	s.log.Info("failure alerts enabled", logx.Int("rate_per_sec", s.cfg.RatePerSec), logx.Duration("min_interval", s.cfg.MinInterval))
}

func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup, unsub := s.sup, s.unsub
	s.sup, s.unsub = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	unsub()
	return sup.Stop(ctx)
}

func (s *Service) Stats() Stats {
	return Stats{Sent: s.sent.Load(), Suppressed: s.suppressed.Load(), Failed: s.failed.Load()}
}

func (s *Service) loop(ctx context.Context, ch <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Type != eventbus.TypeTaskFailed {
				continue
			}
			te, ok := ev.Data.(engine.TaskEvent)
			if !ok {
				continue
			}
			s.handle(ctx, te)
		}
	}
}

func (s *Service) handle(ctx context.Context, te engine.TaskEvent) {
	if !s.allow(te.Name, time.Now()) {
		s.suppressed.Add(1)
		s.log.Debug("alert suppressed", logx.String("task", te.Name))
		return
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := s.sender.Send(sctx, s.cfg.ChatID, FormatFailure(te)); err != nil {
		s.failed.Add(1)
		s.log.Warn("alert send failed", logx.String("task", te.Name), logx.Err(err))
		return
	}
	s.sent.Add(1)
}

// allow records now for name and reports whether the last alert is old enough.
func (s *Service) allow(name string, now time.Time) bool {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if last, ok := s.last[name]; ok && now.Sub(last) < s.cfg.MinInterval {
		return false
	}
	s.last[name] = now
	// Keep the map small on long-running daemons.
	if len(s.last) > 1024 {
		for k, v := range s.last {
			if now.Sub(v) >= s.cfg.MinInterval {
				delete(s.last, k)
			}
		}
	}
	return true
}

// FormatFailure renders the alert for a failed run as Telegram HTML.
func FormatFailure(te engine.TaskEvent) string {
	lines := []tgui.H{tgui.B("task failed: " + te.Name)}
	if !te.Slot.IsZero() {
		lines = append(lines, tgui.Field("slot", tgui.Esc(te.Slot.Format(time.RFC3339))))
	}
	lines = append(lines,
		tgui.Field("duration", tgui.Esc(te.Duration.Round(time.Millisecond).String())),
		tgui.Field("run", tgui.Code(te.ID)),
	)
	if msg := strings.TrimSpace(te.Error); msg != "" {
		lines = append(lines, tgui.Pre(tgui.TruncRunes(msg, maxErrorText)))
	}
	return tgui.Lines(lines...).String()
}
