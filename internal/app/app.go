package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tickcron/internal/config"
	"tickcron/internal/eventbus"
	"tickcron/internal/notify"
	"tickcron/internal/observability"
	"tickcron/internal/storage"
	"tickcron/internal/task/engine"
	"tickcron/internal/task/scheduler"
	logx "tickcron/pkg/logx"
	"tickcron/pkg/systemd"

	rtsup "tickcron/internal/runtime/supervisor"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	root  logx.Logger
	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	reg     *prometheus.Registry
	metrics *observability.Metrics
	http    *observability.Server

	engine *engine.Service
	sched  *scheduler.Service
	drain  time.Duration

	nmu    sync.Mutex
	notif  *notify.Service
	ncfg   notify.Config
	ntoken string

	// amu guards applied, the config the running components reflect.
	amu     sync.Mutex
	applied *config.Config
}

// New loads the config file and wires every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log)
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		store = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	engCfg, drain, err := mapEngineConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	engOpts := []engine.Option{engine.WithMetrics(metrics)}
	if store != nil {
		engOpts = append(engOpts, engine.WithRecorder(store))
	}
	eng := engine.New(engCfg, log, bus, engOpts...)
	sched := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, eng, log, bus, scheduler.WithMetrics(metrics))

	ncfg, token, err := mapNotifyConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	// Tasks are left out so the first sync registers all of them.
	applied := *cfg
	applied.Tasks = nil

	a := &App{
		cfgm:    cfgm,
		root:    log,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		reg:     reg,
		metrics: metrics,
		engine:  eng,
		sched:   sched,
		drain:   drain,
		ncfg:    ncfg,
		ntoken:  token,
		applied: &applied,
	}
	a.http = observability.NewServer(mapServerConfig(cfg), reg, a.health, log)
	a.registerViews()

	if err := a.syncTasks(cfg); err != nil {
		closeStore(store)
		return nil, err
	}
	return a, nil
}

func closeStore(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
}

func (a *App) Scheduler() *scheduler.Service  { return a.sched }
func (a *App) Engine() *engine.Service        { return a.engine }
func (a *App) Store() storage.Store           { return a.store }
func (a *App) Registry() *prometheus.Registry { return a.reg }
func (a *App) Logger() logx.Logger            { return a.root }

// DrainTimeout is how long Stop should wait for in-flight runs.
func (a *App) DrainTimeout() time.Duration { return a.drain }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetValidator(a.validate)

	a.engine.Start(runCtx)
	if a.current().Scheduler.Enabled {
		a.sched.Start(runCtx)
	} else {
		a.log.Info("scheduler disabled via config; tasks are registered but will not fire")
	}
	if err := a.startNotify(runCtx); err != nil {
		return err
	}
	if a.http.Enabled() {
		a.http.Start(runCtx)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	updates := a.cfgm.Subscribe(4)
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.apply(c, cfg)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.Watchdog(c, a.health, a.log)
	})

	a.log.Info("app started", logx.Int("tasks", len(a.sched.Tasks())), logx.String("config", a.cfgm.Path()))
	return nil
}

func (a *App) current() *config.Config {
	if cfg := a.cfgm.Get(); cfg != nil {
		return cfg
	}
	return &config.Config{}
}

// validate runs on every reload before it is committed.
func (a *App) validate(ctx context.Context, cfg *config.Config) error {
	var errs []error
	for _, tc := range cfg.Tasks {
		d, err := descriptor(tc)
		if err == nil {
			_, err = scheduler.NewTask(tc.Name, d)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := mapEngineConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := mapNotifyConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// syncTasks brings the scheduler registry in line with cfg.Tasks. Every task
// is attempted; failures are joined.
func (a *App) syncTasks(cfg *config.Config) error {
	a.amu.Lock()
	defer a.amu.Unlock()

	byName := make(map[string]config.TaskConfig, len(cfg.Tasks))
	for _, tc := range cfg.Tasks {
		byName[strings.TrimSpace(tc.Name)] = tc
	}
	d := config.DiffTasks(a.applied.Tasks, cfg.Tasks)

	var errs []error
	for _, name := range d.Removed {
		a.sched.RemoveTask(name)
		a.metrics.Forget(name)
	}
	for _, name := range d.Added {
		desc, err := descriptor(byName[name])
		if err == nil {
			err = a.sched.AddTask(name, desc)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	for _, name := range d.Changed {
		desc, err := descriptor(byName[name])
		if err == nil {
			err = a.sched.UpdateTask(name, desc)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	next := *a.applied
	next.Tasks = cfg.Tasks
	a.applied = &next

	if !d.Empty() {
		a.log.Info("tasks synced",
			logx.Int("added", len(d.Added)),
			logx.Int("changed", len(d.Changed)),
			logx.Int("removed", len(d.Removed)),
		)
	}
	return errors.Join(errs...)
}

// apply pushes a committed reload into the running components.
func (a *App) apply(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(mapLogConfig(cfg))

	a.amu.Lock()
	old := *a.applied
	a.amu.Unlock()

	if old.Scheduler.Timezone != cfg.Scheduler.Timezone {
		a.log.Warn("scheduler.timezone changed; restart required for changes to take effect")
	}
	if old.Engine != cfg.Engine {
		a.log.Warn("engine config changed; restart required for changes to take effect")
	}
	if !storageEqual(old.Storage, cfg.Storage) {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	switch {
	case cfg.Scheduler.Enabled && !a.sched.Running():
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	case !cfg.Scheduler.Enabled && a.sched.Running():
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		_ = a.sched.Stop(stopCtx)
		cancel()
	}

	if err := a.syncTasks(cfg); err != nil {
		a.log.Warn("task sync incomplete", logx.Err(err))
	}

	if ncfg, token, err := mapNotifyConfig(cfg); err != nil {
		a.log.Warn("invalid notify config; keeping previous", logx.Err(err))
	} else {
		a.reconfigureNotify(ctx, ncfg, token)
	}

	a.http.Reconfigure(ctx, mapServerConfig(cfg))

	a.amu.Lock()
	next := *cfg
	next.Tasks = a.applied.Tasks
	// Restart-only settings keep reflecting what is actually running.
	next.Scheduler.Timezone = old.Scheduler.Timezone
	next.Engine = old.Engine
	next.Storage = old.Storage
	a.applied = &next
	a.amu.Unlock()

	a.log.Info("config applied")
}

func storageEqual(a, b *config.StorageConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (a *App) startNotify(ctx context.Context) error {
	a.nmu.Lock()
	defer a.nmu.Unlock()
	if !a.ncfg.Enabled || a.notif != nil {
		return nil
	}
	sender, err := notify.NewTelegramSender(a.ntoken)
	if err != nil {
		return fmt.Errorf("telegram notify: %w", err)
	}
	a.notif = notify.New(a.ncfg, sender, a.root, a.bus)
	a.notif.Start(ctx)
	return nil
}

func (a *App) reconfigureNotify(ctx context.Context, ncfg notify.Config, token string) {
	a.nmu.Lock()
	if ncfg == a.ncfg && token == a.ntoken {
		a.nmu.Unlock()
		return
	}
	old := a.notif
	a.notif, a.ncfg, a.ntoken = nil, ncfg, token
	a.nmu.Unlock()

	if old != nil {
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		_ = old.Stop(stopCtx)
		cancel()
	}
	if err := a.startNotify(ctx); err != nil {
		a.log.Warn("failure alerts disabled", logx.Err(err))
		return
	}
	if !ncfg.Enabled {
		a.log.Info("failure alerts disabled via config")
	}
}

// health backs /healthz.
func (a *App) health() error {
	if a.sup != nil && a.sup.Context().Err() != nil {
		return errors.New("stopping")
	}
	if !a.engine.Running() {
		return errors.New("task engine not running")
	}
	if a.current().Scheduler.Enabled && !a.sched.Running() {
		return errors.New("scheduler not running")
	}
	return nil
}

// Stop shuts components down in dependency order. Each step is bounded; the
// engine gets up to DrainTimeout to finish in-flight runs.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	var stopErr error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				stopErr = errors.Join(stopErr, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			stopErr = errors.Join(stopErr, fmt.Errorf("%s: %w", name, stepCtx.Err()))
		}
	}

	step("scheduler", 2*time.Second, a.sched.Stop)
	step("taskengine", a.drain, a.engine.Stop)
	step("notify", 2*time.Second, func(c context.Context) error {
		a.nmu.Lock()
		n := a.notif
		a.notif = nil
		a.nmu.Unlock()
		if n == nil {
			return nil
		}
		return n.Stop(c)
	})
	step("http", 2*time.Second, a.http.Stop)
	step("storage", time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return stopErr
}
