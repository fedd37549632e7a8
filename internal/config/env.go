package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment overrides, applied after decoding and before validation.
// They make the scheduler tunable in container deployments without
// editing the config file.
const (
	EnvCheckInterval      = "CHECK_INTERVAL"
	EnvMaxConcurrentTasks = "MAX_CONCURRENT_TASKS"
	EnvTaskBatchSize      = "TASK_BATCH_SIZE"
)

func applyEnv(cfg *Config) error {
	if v, ok := lookup(EnvCheckInterval); ok {
		d, err := parseEnvDuration(EnvCheckInterval, v)
		if err != nil {
			return err
		}
		cfg.Scheduler.CheckInterval = d.String()
	}
	if v, ok := lookup(EnvMaxConcurrentTasks); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: invalid value %q", EnvMaxConcurrentTasks, v)
		}
		cfg.Scheduler.MaxConcurrentTasks = n
	}
	if v, ok := lookup(EnvTaskBatchSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: invalid value %q", EnvTaskBatchSize, v)
		}
		cfg.Scheduler.TaskBatchSize = n
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// parseEnvDuration accepts a bare integer (seconds) or a Go duration string.
func parseEnvDuration(key, raw string) (time.Duration, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%s: must be >= 0", key)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return d, nil
}
