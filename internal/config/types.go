package config

import (
	"fmt"
	"strings"
)

// Config is the full on-disk configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "2m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Executor  ExecutorConfig  `json:"executor,omitempty"`

	// Telegram enables the ops bot surface when present.
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Pprof    *PprofConfig    `json:"pprof,omitempty"`
}

// SchedulerConfig holds the polling tunables.
//
// Defaults (when fields are omitted/zero):
//   - check_interval: "120s"
//   - max_concurrent_tasks: 3
//   - task_batch_size: 5
//   - chunk_pause: "1s"
type SchedulerConfig struct {
	CheckInterval      string `json:"check_interval,omitempty"`
	MaxConcurrentTasks int    `json:"max_concurrent_tasks,omitempty"`
	TaskBatchSize      int    `json:"task_batch_size,omitempty"`
	ChunkPause         string `json:"chunk_pause,omitempty"`
}

// StorageConfig controls the task store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./dockmate.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ExecutorConfig selects the container backend.
type ExecutorConfig struct {
	Backend        string `json:"backend,omitempty"` // "docker" (default) | "systemd"
	DockerBin      string `json:"docker_bin,omitempty"`
	UnitSuffix     string `json:"unit_suffix,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	ChatID       int64   `json:"chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// NotifierConfig controls Telegram push notifications for task outcomes.
type NotifierConfig struct {
	Enabled       bool `json:"enabled"`
	RatePerSec    int  `json:"rate_per_sec,omitempty"`
	NotifySuccess bool `json:"notify_success,omitempty"`
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

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// Validate rejects values that would misconfigure a running scheduler.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := ParseDurationField("scheduler.check_interval", c.Scheduler.CheckInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.chunk_pause", c.Scheduler.ChunkPause); err != nil {
		return err
	}
	if c.Scheduler.MaxConcurrentTasks < 0 {
		return fmt.Errorf("scheduler.max_concurrent_tasks must be >= 0")
	}
	if c.Scheduler.TaskBatchSize < 0 {
		return fmt.Errorf("scheduler.task_batch_size must be >= 0")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("executor.command_timeout", c.Executor.CommandTimeout); err != nil {
		return err
	}
	if c.Telegram != nil {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token required when telegram section is present")
		}
		if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
			return err
		}
	}
	return nil
}
