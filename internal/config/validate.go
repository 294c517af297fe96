package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"tickcron/internal/task/schedule"
)

// Validate checks everything that can be checked without side effects.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	if cfg.Engine.HistorySize < 0 {
		add(errors.New("engine.history_size must be >= 0"))
	}
	_, err := ParseDurationField("engine.drain_timeout", cfg.Engine.DrainTimeout)
	add(err)

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3", "bolt", "bbolt":
			if strings.TrimSpace(st.Path) == "" {
				add(errors.New("storage.path is required"))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout)
		add(err)
	}

	if n := cfg.Notify; n != nil && n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.Token) == "" {
			add(errors.New("notify.telegram.token is required when enabled"))
		}
		if n.Telegram.ChatID == 0 {
			add(errors.New("notify.telegram.chat_id is required when enabled"))
		}
		_, err := ParseDurationField("notify.telegram.min_interval", n.Telegram.MinInterval)
		add(err)
	}

	if m := cfg.Metrics; m != nil && m.Enabled {
		add(validateMetricsAddr(m))
	}

	seen := make(map[string]struct{}, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		name := strings.TrimSpace(t.Name)
		if name == "" {
			add(fmt.Errorf("%s.name is required", path))
		} else {
			path = fmt.Sprintf("tasks[%s]", name)
			if _, dup := seen[name]; dup {
				add(fmt.Errorf("%s: duplicate task name", path))
			}
			seen[name] = struct{}{}
		}
		if strings.TrimSpace(t.Command) == "" {
			add(fmt.Errorf("%s.command is required", path))
		}
		if strings.TrimSpace(t.Schedule) != "" {
			if _, err := schedule.Parse(t.Schedule); err != nil {
				add(fmt.Errorf("%s.schedule: %w", path, err))
			}
		}
		_, err := ParseDurationField(path+".timeout", t.Timeout)
		add(err)
		for _, kv := range t.Env {
			if k, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(k) == "" {
				add(fmt.Errorf("%s.env: %q is not KEY=VALUE", path, kv))
			}
		}
	}

	return errors.Join(errs...)
}

func validateMetricsAddr(m *MetricsConfig) error {
	addr := strings.TrimSpace(m.Addr)
	if addr == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("metrics.addr: %w", err)
	}
	if isLoopbackHost(host) || strings.TrimSpace(m.Token) != "" || m.AllowInsecure {
		return nil
	}
	return fmt.Errorf("metrics.addr %q is not loopback; set metrics.token or metrics.allow_insecure", addr)
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
