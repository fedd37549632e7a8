package app

import (
	"time"

	"dockmate/internal/bot"
	"dockmate/internal/config"
	"dockmate/internal/executor"
	"dockmate/internal/notify"
	"dockmate/internal/observability/pprof"
	"dockmate/internal/scheduler"
	"dockmate/internal/storage"
)

// Mapping between the on-disk config sections and the typed configs the
// components take. Durations are already validated by config.Validate.

func mapScheduler(cfg *config.Config) (scheduler.Config, error) {
	check, err := config.ParseDurationField("scheduler.check_interval", cfg.Scheduler.CheckInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	pause, err := config.ParseDurationField("scheduler.chunk_pause", cfg.Scheduler.ChunkPause)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		CheckInterval:      check,
		MaxConcurrentTasks: cfg.Scheduler.MaxConcurrentTasks,
		TaskBatchSize:      cfg.Scheduler.TaskBatchSize,
		ChunkPause:         pause,
	}, nil
}

func mapStorage(cfg *config.Config) storage.Config {
	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}
}

func mapExecutor(cfg *config.Config) (executor.Config, error) {
	timeout, err := config.ParseDurationField("executor.command_timeout", cfg.Executor.CommandTimeout)
	if err != nil {
		return executor.Config{}, err
	}
	return executor.Config{
		Backend:        cfg.Executor.Backend,
		DockerBin:      cfg.Executor.DockerBin,
		UnitSuffix:     cfg.Executor.UnitSuffix,
		CommandTimeout: timeout,
	}, nil
}

func mapBot(cfg *config.Config) (bot.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return bot.Config{}, err
	}
	return bot.Config{
		Token:        cfg.Telegram.Token,
		OwnerUserIDs: cfg.Telegram.OwnerUserIDs,
		PollTimeout:  poll,
	}, nil
}

func mapNotifier(cfg *config.Config) notify.Config {
	n := cfg.Notifier
	if n == nil || cfg.Telegram == nil {
		return notify.Config{}
	}
	return notify.Config{
		Enabled:       n.Enabled,
		ChatID:        cfg.Telegram.ChatID,
		RatePerSec:    n.RatePerSec,
		NotifySuccess: n.NotifySuccess,
	}
}

func mapPprof(cfg *config.Config) pprof.Config {
	p := cfg.Pprof
	if p == nil {
		return pprof.Config{}
	}
	return pprof.Config{
		Enabled:       p.Enabled,
		Addr:          p.Addr,
		Prefix:        p.Prefix,
		Token:         p.Token,
		AllowInsecure: p.AllowInsecure,
	}
}
