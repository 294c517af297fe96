// Package systemd speaks the sd_notify protocol for Type=notify units.
//
// Every call is a no-op when the process is not running under systemd.
package systemd

import (
	"context"
	"os"
	"time"

	logx "tickcron/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady sends READY=1. It reports whether the notification was delivered.
func NotifyReady(log logx.Logger) bool {
	return notify(log, daemon.SdNotifyReady)
}

// NotifyStopping sends STOPPING=1.
func NotifyStopping(log logx.Logger) bool {
	return notify(log, daemon.SdNotifyStopping)
}

func notify(log logx.Logger, state string) bool {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	if sent {
		log.Debug("systemd notified", logx.String("state", state))
	}
	return sent
}

// Watchdog pings WATCHDOG=1 at half the unit's WatchdogSec until ctx is done.
// A ping is skipped while healthy reports an error, so systemd restarts a
// wedged daemon. It returns immediately if the watchdog is not enabled.
func Watchdog(ctx context.Context, healthy func() error, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	every := interval / 2
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil {
				if err := healthy(); err != nil {
					log.Warn("health check failed; skipping watchdog ping", logx.Err(err))
					continue
				}
			}
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				log.Warn("watchdog ping failed", logx.Err(err))
			}
		}
	}
}

// UnderSystemd reports whether a notify socket was handed to the process.
func UnderSystemd() bool {
	return os.Getenv("NOTIFY_SOCKET") != ""
}
