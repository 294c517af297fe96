package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tickcron/internal/eventbus"
	"tickcron/internal/storage"
	logx "tickcron/pkg/logx"

	"github.com/robfig/cron/v3"
)

// slowRun promotes completion logs from debug to info.
const slowRun = 750 * time.Millisecond

func (s *Service) exec(ctx context.Context, r Run) {
	log := s.log.With(logx.String("task", r.Name), logx.String("run_id", r.ID))
	started := time.Now()
	log.Debug("task.started", logx.Time("slot", r.Slot))

	err := invoke(ctx, r.Fn, log)
	took := time.Since(started)

	res := Result{ID: r.ID, Name: r.Name, Slot: r.Slot, Started: started, Duration: took, Err: err}
	if r.OnDone != nil {
		r.OnDone(res)
	}
	s.inFlight.Add(-1)
	s.metrics.RunFinished(r.Name, err, took)

	item := HistoryItem{ID: r.ID, Name: r.Name, Slot: r.Slot, Started: started, Duration: took}
	ev := TaskEvent{ID: r.ID, Name: r.Name, Slot: r.Slot, Started: started, Duration: took}
	if err != nil {
		s.failed.Add(1)
		if errors.Is(err, ErrPanicked) {
			s.panicked.Add(1)
		}
		item.Error = err.Error()
		ev.Error = item.Error
		log.Error("task.failed", logx.Err(err), logx.Duration("dur", took))
		s.publish(eventbus.TypeTaskFailed, ev)
	} else {
		if took >= slowRun {
			log.Info("task.completed", logx.Duration("dur", took))
		} else {
			log.Debug("task.completed", logx.Duration("dur", took))
		}
		s.publish(eventbus.TypeTaskFinished, ev)
	}
	s.appendHistory(item)
	s.record(log, item)
}

// invoke runs fn through a cron job chain so panics are recovered and logged.
// A panic yields ErrPanicked wrapped with the panic value.
func invoke(ctx context.Context, fn func(context.Context) error, log logx.Logger) (err error) {
	err = ErrPanicked
	job := cron.NewChain(cron.Recover(cronLogger{log: log})).Then(cron.FuncJob(func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrPanicked, r)
				panic(r)
			}
		}()
		err = fn(ctx)
	}))
	job.Run()
	return err
}

func (s *Service) publish(typ string, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

func (s *Service) record(log logx.Logger, item HistoryItem) {
	if s.rec == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RecordTimeout)
	defer cancel()
	err := s.rec.AppendRun(ctx, storage.RunRecord{
		ID:         item.ID,
		Task:       item.Name,
		Slot:       item.Slot,
		Started:    item.Started,
		DurationMS: item.Duration.Milliseconds(),
		OK:         item.Error == "",
		Error:      item.Error,
	})
	if err != nil && s.shouldWarn(&s.lastRecordWarnAt, time.Now()) {
		log.Warn("run history write failed", logx.Err(err))
	}
}
