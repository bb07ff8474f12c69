// Package app wires configuration, logging, the relay, the HTTP server and
// the optional audit trail into one process lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"teamsrelay/internal/alert"
	"teamsrelay/internal/audit"
	"teamsrelay/internal/config"
	"teamsrelay/internal/eventbus"
	"teamsrelay/internal/metrics"
	"teamsrelay/internal/runtime/supervisor"
	"teamsrelay/internal/server"
	"teamsrelay/internal/storage"
	"teamsrelay/internal/systemd"
	"teamsrelay/internal/teams"
	logx "teamsrelay/pkg/logx"
)

type App struct {
	cfgm    *config.Manager
	version string

	log  logx.Logger
	logs *logx.Service

	alertMu  sync.Mutex
	alertCfg alert.Config

	bus     eventbus.Bus
	metrics *metrics.Metrics
	relay   *teams.Relay
	server  *server.Server

	store  storage.Store
	pub    audit.Publisher
	sink   *audit.Sink
	pruner *audit.Pruner

	sd  *systemd.Notifier
	sup *supervisor.Supervisor
}

func New(cfgPath, version string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateMapping(cfg); err != nil {
		return nil, err
	}

	ac, alertOn := mapAlertConfig(cfg)
	sender, alertErr := newAlertSender(ac, alertOn)
	logSvc, root := logx.New(mapLogConfig(cfg), sender)
	a := &App{
		cfgm:    cfgm,
		version: version,
		logs:    logSvc,
		log:     root.With(logx.String("comp", "app")),
		bus:     eventbus.New(),
		metrics: metrics.New(),
	}
	if sender != nil {
		a.alertCfg = ac
	}
	if alertErr != nil {
		a.log.Warn("telegram alerts disabled", logx.Err(alertErr))
	}
	a.log.Debug("config loaded", logx.String("path", cfgm.Path()))

	a.metrics.WatchDropped("eventbus_dropped_total", "Events dropped because a subscriber queue was full", a.bus.Dropped)

	settings, _ := mapRelaySettings(cfg)
	a.relay = teams.New(settings, &http.Client{}, root.With(logx.String("comp", "teams")), a.bus)

	if sc, enabled, _ := mapStorageConfig(cfg); enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		a.store = st
		retention, _ := mapRetention(cfg)
		a.pruner = audit.NewPruner(st, retention, cfg.Audit.PruneSchedule, root)
		a.log.Info("audit enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	srvCfg, _ := mapServerConfig(cfg)
	opts := server.Options{
		Config:  srvCfg,
		Relay:   a.relay,
		Metrics: a.metrics,
		Health:  a.snapshots,
		Version: version,
		Log:     root,
	}
	if a.store != nil {
		opts.Audit = a.store
	}
	a.server = server.New(opts)

	if kc, enabled, _ := mapKafkaConfig(cfg); enabled {
		a.pub = audit.NewKafkaPublisher(kc)
		a.log.Info("event export enabled", logx.String("topic", kc.Topic), logx.Int("brokers", len(kc.Brokers)))
	}
	a.sink = audit.NewSink(audit.Options{
		Bus:       a.bus,
		Store:     a.store,
		Publisher: a.pub,
		Metrics:   a.metrics,
		Log:       root,
		Buffer:    cfg.Audit.Buffer,
	})

	a.sd = systemd.New(cfg.Systemd.Enabled, root)
	return a, nil
}

// Done is closed when the app supervisor stops (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) snapshots() []supervisor.Snapshot {
	if a.sup == nil {
		return nil
	}
	return []supervisor.Snapshot{a.sup.Snapshot()}
}

func (a *App) healthy() bool {
	return a.sup != nil && a.sup.Context().Err() == nil
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, "app",
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return validateMapping(c)
	})

	a.sup.GoRestart("http.serve", a.server.Serve,
		supervisor.WithBackoff(500*time.Millisecond, 10*time.Second),
		supervisor.WithMaxRestarts(10),
		supervisor.WithPublishError(true),
	)
	a.sup.GoRestart("audit.sink", a.sink.Run, supervisor.WithPublishError(true))
	if a.pruner != nil {
		a.sup.GoRestart("audit.prune", a.pruner.Run, supervisor.WithBackoff(time.Second, time.Minute))
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if cfg.Systemd.Watchdog {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			return a.sd.RunWatchdog(c, a.healthy)
		})
	}

	a.sd.Ready()
	a.sd.Status("serving on " + cfg.Server.ListenAddr())
	a.log.Info("app started",
		logx.String("addr", cfg.Server.ListenAddr()),
		logx.String("version", a.version),
		logx.Bool("audit", a.store != nil),
		logx.Bool("kafka", a.pub != nil),
	)
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts; only the latest config matters.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	a.sd.Reloading()
	defer a.sd.Ready()

	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.applyAlert(newCfg)
	a.logs.Apply(mapLogConfig(newCfg))

	if settings, err := mapRelaySettings(newCfg); err != nil {
		a.log.Warn("invalid teams config; keeping previous", logx.Err(err))
	} else {
		a.relay.Apply(settings)
	}
	if sc, err := mapServerConfig(newCfg); err != nil {
		a.log.Warn("invalid server config; keeping previous", logx.Err(err))
	} else {
		a.server.Apply(sc)
	}

	if restart := config.RestartRequired(oldCfg, newCfg); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("settings", strings.Join(restart, ",")))
	}
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

// applyAlert rebuilds the Telegram sender when its target changed.
func (a *App) applyAlert(cfg *config.Config) {
	ac, enabled := mapAlertConfig(cfg)

	a.alertMu.Lock()
	defer a.alertMu.Unlock()
	if enabled && reflect.DeepEqual(ac, a.alertCfg) {
		return
	}
	sender, err := newAlertSender(ac, enabled)
	if err != nil {
		a.log.Warn("telegram alerts disabled", logx.Err(err))
	}
	a.alertCfg = alert.Config{}
	if sender != nil {
		a.alertCfg = ac
	}
	a.logs.SetSender(sender)
}

// newAlertSender returns a nil Sender (not a typed nil) when alerts are off
// or the bot cannot be built.
func newAlertSender(ac alert.Config, enabled bool) (logx.Sender, error) {
	if !enabled {
		return nil, nil
	}
	tg, err := alert.NewTelegram(ac)
	if err != nil {
		return nil, err
	}
	return tg, nil
}

// Stop cancels every supervised loop, waits for them within ctx, then
// flushes exporters and closes storage and logging.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	a.step(ctx, "supervisor", 15*time.Second, func(c context.Context) error { return a.sup.Stop(c) })
	a.step(ctx, "audit.sink", time.Second, func(context.Context) error { a.sink.Close(); return nil })
	a.step(ctx, "events", 3*time.Second, func(context.Context) error {
		if a.pub != nil {
			return a.pub.Close()
		}
		return nil
	})
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs fn bounded by max and by ctx's deadline so one component cannot
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
