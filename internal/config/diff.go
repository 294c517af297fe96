package config

import (
	"reflect"
	"sort"
	"strings"

	logx "tickcron/pkg/logx"
)

// SummarizeChange lists the changed sections and returns log fields that are
// safe to print. Tokens are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}
	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}
	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		if newCfg.Notify != nil {
			attrs = append(attrs,
				logx.Bool("notify.telegram.enabled", newCfg.Notify.Telegram.Enabled),
				logx.Bool("notify.telegram.token_set", strings.TrimSpace(newCfg.Notify.Telegram.Token) != ""),
			)
		}
	}
	if !reflect.DeepEqual(oldCfg.Metrics, newCfg.Metrics) {
		changed = append(changed, "metrics")
		if newCfg.Metrics != nil {
			attrs = append(attrs,
				logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
				logx.String("metrics.addr", newCfg.Metrics.Addr),
			)
		}
	}

	d := DiffTasks(oldCfg.Tasks, newCfg.Tasks)
	if !d.Empty() {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.added", len(d.Added)),
			logx.Int("tasks.changed", len(d.Changed)),
			logx.Int("tasks.removed", len(d.Removed)),
		)
	}
	return changed, attrs
}

// TaskDiff names tasks by how they differ between two configs. Each list is sorted.
type TaskDiff struct {
	Added   []string
	Changed []string
	Removed []string
}

func (d TaskDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}

// DiffTasks compares task lists by trimmed name.
func DiffTasks(oldTasks, newTasks []TaskConfig) TaskDiff {
	index := func(ts []TaskConfig) map[string]TaskConfig {
		m := make(map[string]TaskConfig, len(ts))
		for _, t := range ts {
			m[strings.TrimSpace(t.Name)] = t
		}
		return m
	}
	oldM, newM := index(oldTasks), index(newTasks)

	var d TaskDiff
	for name, nt := range newM {
		ot, ok := oldM[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case !reflect.DeepEqual(ot, nt):
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range oldM {
		if _, ok := newM[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Changed)
	sort.Strings(d.Removed)
	return d
}
