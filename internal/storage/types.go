package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// MaxRecords bounds the number of retained runs (sqlite and bolt).
	// 0 applies a default; the file driver keeps everything.
	MaxRecords int
}

// RunRecord is one completed task run.
// Keep it compact and schema-stable.
type RunRecord struct {
	ID         string    `json:"id"`
	Task       string    `json:"task"`
	Slot       time.Time `json:"slot"`
	Started    time.Time `json:"started"`
	DurationMS int64     `json:"duration_ms"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
}

const defaultMaxRecords = 10000
