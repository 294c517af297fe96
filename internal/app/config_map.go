package app

import (
	"strings"
	"time"

	"tickcron/internal/config"
	"tickcron/internal/notify"
	"tickcron/internal/observability"
	"tickcron/internal/storage"
	"tickcron/internal/task/engine"
	logx "tickcron/pkg/logx"
)

const defaultDrainTimeout = 30 * time.Second

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		MaxRecords:  sc.MaxRecords,
	}, true, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, time.Duration, error) {
	drain, err := config.ParseDurationOrDefault("engine.drain_timeout", cfg.Engine.DrainTimeout, defaultDrainTimeout)
	if err != nil {
		return engine.Config{}, 0, err
	}
	return engine.Config{HistorySize: cfg.Engine.HistorySize}, drain, nil
}

func mapNotifyConfig(cfg *config.Config) (notify.Config, string, error) {
	if cfg == nil || cfg.Notify == nil || !cfg.Notify.Telegram.Enabled {
		return notify.Config{}, "", nil
	}
	tg := cfg.Notify.Telegram
	// An explicit "0" keeps suppression off; empty uses the default.
	var minInterval time.Duration
	if s := strings.TrimSpace(tg.MinInterval); s != "" {
		d, err := config.ParseDurationField("notify.telegram.min_interval", s)
		if err != nil {
			return notify.Config{}, "", err
		}
		minInterval = d
		if d == 0 {
			minInterval = -1
		}
	}
	return notify.Config{
		Enabled:     true,
		ChatID:      tg.ChatID,
		RatePerSec:  tg.RatePerSec,
		MinInterval: minInterval,
	}, strings.TrimSpace(tg.Token), nil
}

func mapServerConfig(cfg *config.Config) observability.ServerConfig {
	if cfg == nil || cfg.Metrics == nil {
		return observability.ServerConfig{}
	}
	m := cfg.Metrics
	return observability.ServerConfig{
		Enabled:       m.Enabled,
		Addr:          strings.TrimSpace(m.Addr),
		Token:         strings.TrimSpace(m.Token),
		AllowInsecure: m.AllowInsecure,
		Pprof:         m.Pprof,
		ReadTimeout:   10 * time.Second,
		IdleTimeout:   60 * time.Second,
	}
}
