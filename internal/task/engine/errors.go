package engine

import "errors"

var (
	ErrStopped  = errors.New("task engine stopped")
	ErrPanicked = errors.New("task panicked")
	ErrNoFunc   = errors.New("task run func is nil")
)
