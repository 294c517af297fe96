package config

// Config is the daemon configuration. YAML and JSON files decode into the
// same struct; unknown keys are rejected.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Engine    EngineConfig    `json:"engine"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Notify    *NotifyConfig   `json:"notify,omitempty"`
	Metrics   *MetricsConfig  `json:"metrics,omitempty"`
	Tasks     []TaskConfig    `json:"tasks"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the tick driver.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone is an IANA name (e.g. "Asia/Jakarta"). Empty means UTC.
	Timezone string `json:"timezone,omitempty"`
}

// EngineConfig controls task execution.
//
// Durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults:
//   - history_size: 200
//   - drain_timeout: "30s"
type EngineConfig struct {
	HistorySize  int    `json:"history_size,omitempty"`
	DrainTimeout string `json:"drain_timeout,omitempty"`
}

// StorageConfig controls the optional run-history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/runs.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxRecords  int    `json:"max_records,omitempty"`
}

type NotifyConfig struct {
	Telegram TelegramNotifyConfig `json:"telegram"`
}

// TelegramNotifyConfig sends task failure alerts to one chat.
type TelegramNotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token"` // never logged
	ChatID     int64  `json:"chat_id"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	// MinInterval suppresses repeated alerts for the same task.
	MinInterval string `json:"min_interval,omitempty"`
}

// MetricsConfig controls the optional HTTP endpoint for /metrics, /healthz
// and pprof.
//
// Prefer a loopback address. A non-loopback address requires a token or
// allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// TaskConfig declares a shell command task.
type TaskConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule,omitempty"`
	Command  string `json:"command"`
	Shell    string `json:"shell,omitempty"`   // default: /bin/sh
	Timeout  string `json:"timeout,omitempty"` // Go duration; empty means none
	Dir      string `json:"dir,omitempty"`
	// Env entries are KEY=VALUE and extend the daemon's environment.
	Env []string `json:"env,omitempty"`
}
