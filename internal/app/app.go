// Package app wires the scheduler, storage, executor, bot, and the
// supporting services into one process with config hot reload.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"dockmate/internal/bot"
	"dockmate/internal/config"
	"dockmate/internal/eventbus"
	"dockmate/internal/executor"
	"dockmate/internal/notify"
	"dockmate/internal/observability/pprof"
	"dockmate/internal/runtime/supervisor"
	"dockmate/internal/scheduler"
	"dockmate/internal/storage"
	logx "dockmate/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *supervisor.Supervisor

	logs *logx.Service
	log  logx.Logger

	bus   eventbus.Bus
	store storage.Store
	exec  executor.Executor
	sched *scheduler.Service

	bot   *bot.Service // nil when telegram is not configured
	notif *notify.Service
	prof  *pprof.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	store, err := storage.Open(mapStorage(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	execCfg, err := mapExecutor(cfg)
	if err != nil {
		store.Close()
		logs.Close()
		return nil, err
	}
	exec, err := executor.New(execCfg, log.With(logx.String("comp", "executor")))
	if err != nil {
		store.Close()
		logs.Close()
		return nil, fmt.Errorf("init executor: %w", err)
	}

	bus := eventbus.New()

	schedCfg, err := mapScheduler(cfg)
	if err != nil {
		store.Close()
		logs.Close()
		return nil, err
	}
	sched := scheduler.New(schedCfg, store, exec,
		log.With(logx.String("comp", "scheduler")), bus,
		scheduler.WithHook(watchdogHook))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		bus:     bus,
		store:   store,
		exec:    exec,
		sched:   sched,
		prof:    pprof.New(mapPprof(cfg), log.With(logx.String("comp", "pprof"))),
	}

	if cfg.Telegram != nil {
		botCfg, err := mapBot(cfg)
		if err != nil {
			a.closePartial()
			return nil, err
		}
		b, err := bot.New(botCfg, sched, store, log.With(logx.String("comp", "bot")))
		if err != nil {
			a.closePartial()
			return nil, fmt.Errorf("init bot: %w", err)
		}
		a.bot = b
		a.notif = notify.New(mapNotifier(cfg), b, bus,
			log.With(logx.String("comp", "notify")))
	}

	cfgm.SetValidator(func(ctx context.Context, c *config.Config) error {
		// Structural changes cannot be hot-swapped; reject them so the
		// running process keeps a consistent view.
		if c.Storage != cfg.Storage {
			return fmt.Errorf("storage settings cannot change at runtime (restart required)")
		}
		if (c.Telegram == nil) != (cfg.Telegram == nil) {
			return fmt.Errorf("telegram section cannot be added or removed at runtime")
		}
		return nil
	})

	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))
	runCtx := a.sup.Context()

	a.sched.Start(runCtx)
	if a.bot != nil {
		if err := a.bot.Start(runCtx); err != nil {
			return fmt.Errorf("start bot: %w", err)
		}
	}
	if a.notif != nil {
		a.notif.Start(runCtx)
	}
	a.prof.Reconfigure(runCtx, mapPprof(a.cfgm.Get()))

	sub := a.cfgm.Subscribe()
	a.sup.Go0("config.reload", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(ctx, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.GoRestart("storage.prune", a.pruneRuns,
		supervisor.WithRestartBackoff(time.Minute, 30*time.Minute))

	// Tell systemd we're up. No-op outside a Type=notify unit.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	a.log.Info("app started")
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: apply only the newest revision.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					goto apply
				}
			}
		apply:
			a.applyConfig(ctx, cfg)
		}
	}
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	schedCfg, err := mapScheduler(cfg)
	if err != nil {
		// The validator should have caught this; keep the old tunables.
		a.log.Warn("reloaded scheduler config invalid; keeping current", logx.Err(err))
	} else {
		a.sched.Apply(schedCfg)
	}

	if a.notif != nil {
		a.notif.Apply(mapNotifier(cfg))
	}
	a.prof.Reconfigure(ctx, mapPprof(cfg))

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.sup != nil {
		a.sup.Cancel()
	}

	// One component must not stall the whole shutdown.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
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
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	if a.notif != nil {
		step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	}
	if a.bot != nil {
		step("bot", 3*time.Second, func(c context.Context) error { return a.bot.Stop(c) })
	}
	step("pprof", 2*time.Second, func(c context.Context) error { a.prof.Stop(c); return nil })
	if a.sup != nil {
		step("supervisor", 2*time.Second, a.sup.Wait)
	}
	step("executor", 2*time.Second, func(context.Context) error { return a.exec.Close() })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) closePartial() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.exec != nil {
		_ = a.exec.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

const (
	runRetention  = 30 * 24 * time.Hour
	pruneInterval = 6 * time.Hour
)

// pruneRuns trims the run-history audit trail on a slow cadence.
func (a *App) pruneRuns(ctx context.Context) error {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := a.store.PruneRuns(ctx, time.Now().Add(-runRetention))
			if err != nil {
				return fmt.Errorf("prune runs: %w", err)
			}
			if n > 0 {
				a.log.Debug("run history pruned", logx.Int64("removed", n))
			}
		}
	}
}

// watchdogHook pets the systemd watchdog once per poll cycle.
// Outside a systemd unit SdNotify is a cheap no-op.
func watchdogHook(ctx context.Context) error {
	_, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	return err
}
