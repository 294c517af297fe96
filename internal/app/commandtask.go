package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"tickcron/internal/config"
	"tickcron/internal/task/scheduler"
)

const (
	defaultShell = "/bin/sh"
	outputTail   = 2048
	killWait     = 2 * time.Second
)

// commandTask runs a config-declared shell command.
type commandTask struct {
	shell   string
	command string
	dir     string
	env     []string
	timeout time.Duration
}

func newCommandTask(tc config.TaskConfig) (*commandTask, error) {
	cmd := strings.TrimSpace(tc.Command)
	if cmd == "" {
		return nil, fmt.Errorf("task %q: command is required", tc.Name)
	}
	timeout, err := config.ParseDurationField("tasks."+tc.Name+".timeout", tc.Timeout)
	if err != nil {
		return nil, err
	}
	shell := strings.TrimSpace(tc.Shell)
	if shell == "" {
		shell = defaultShell
	}
	return &commandTask{
		shell:   shell,
		command: cmd,
		dir:     strings.TrimSpace(tc.Dir),
		env:     append([]string(nil), tc.Env...),
		timeout: timeout,
	}, nil
}

// descriptor turns a task config into a scheduler registration.
func descriptor(tc config.TaskConfig) (scheduler.Descriptor, error) {
	ct, err := newCommandTask(tc)
	if err != nil {
		return scheduler.Descriptor{}, err
	}
	return scheduler.Descriptor{Run: ct.Run, Schedule: tc.Schedule}, nil
}

// Run executes the command. A non-zero exit returns an error carrying the
// tail of the combined output.
func (c *commandTask) Run(ctx context.Context) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.shell, "-c", c.command)
	cmd.Dir = c.dir
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	out := &tailBuffer{max: outputTail}
	cmd.Stdout = out
	cmd.Stderr = out
	// Children that keep the pipes open must not hold the run forever.
	cmd.WaitDelay = killWait

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && c.timeout > 0 {
		err = fmt.Errorf("timed out after %s: %w", c.timeout, err)
	}
	if tail := strings.TrimSpace(out.String()); tail != "" {
		return fmt.Errorf("%w: %s", err, tail)
	}
	return err
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu      sync.Mutex
	max     int
	buf     []byte
	dropped bool
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if n >= b.max {
		b.buf = append(b.buf[:0], p[n-b.max:]...)
		b.dropped = true
		return n, nil
	}
	if over := len(b.buf) + n - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
		b.dropped = true
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dropped {
		return "..." + string(b.buf)
	}
	return string(b.buf)
}
