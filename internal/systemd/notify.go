// Package systemd reports service state to the systemd manager over
// NOTIFY_SOCKET. Every call is a no-op when the process was not started by a
// Type=notify unit.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "teamsrelay/pkg/logx"
)

type Notifier struct {
	enabled  bool
	log      logx.Logger
	notify   func(state string) (bool, error)
	watchdog func() (time.Duration, error)
}

func New(enabled bool, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		enabled:  enabled,
		log:      log.With(logx.String("comp", "systemd")),
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *Notifier) Ready()     { n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping()  { n.send(daemon.SdNotifyStopping) }
func (n *Notifier) Reloading() { n.send(daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by `systemctl status`.
func (n *Notifier) Status(s string) { n.send("STATUS=" + s) }

func (n *Notifier) send(state string) {
	if n == nil || !n.enabled {
		return
	}
	sent, err := n.notify(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if !sent {
		n.log.Debug("sd_notify skipped; NOTIFY_SOCKET unset", logx.String("state", state))
	}
}

// WatchdogInterval is half of WATCHDOG_USEC, or zero when the unit has no
// watchdog configured.
func (n *Notifier) WatchdogInterval() time.Duration {
	if n == nil || !n.enabled {
		return 0
	}
	d, err := n.watchdog()
	if err != nil {
		n.log.Warn("watchdog interval lookup failed", logx.Err(err))
		return 0
	}
	return d / 2
}

// RunWatchdog pings WATCHDOG=1 until ctx is done. healthy may veto a ping so
// systemd restarts a wedged process.
func (n *Notifier) RunWatchdog(ctx context.Context, healthy func() bool) error {
	interval := n.WatchdogInterval()
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	n.log.Info("watchdog enabled", logx.Duration("interval", interval))
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if healthy != nil && !healthy() {
				n.log.Warn("watchdog ping withheld; unhealthy")
				continue
			}
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
