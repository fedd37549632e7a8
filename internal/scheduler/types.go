package scheduler

import (
	"context"
	"time"

	"dockmate/internal/storage"
)

// Defaults mirror the reference deployment.
const (
	DefaultCheckInterval      = 120 * time.Second
	DefaultMaxConcurrentTasks = 3
	DefaultTaskBatchSize      = 5
	DefaultChunkPause         = time.Second

	// slowCycleThreshold marks a cycle as a backpressure signal.
	slowCycleThreshold = 5 * time.Second

	// maxBackoffSleep caps both the error backoff and the slow-cycle interval.
	maxBackoffSleep = 300 * time.Second

	// saturatedSleepBump / saturatedSleepCap slow polling modestly while
	// in-flight work drains.
	saturatedSleepBump = 30 * time.Second
	saturatedSleepCap  = 180 * time.Second
)

// Config holds the scheduler tunables.
type Config struct {
	CheckInterval      time.Duration
	MaxConcurrentTasks int
	TaskBatchSize      int
	// ChunkPause is the fixed delay between successive dispatch chunks,
	// smoothing host load.
	ChunkPause time.Duration
}

func (c Config) withDefaults() Config {
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	if c.TaskBatchSize <= 0 {
		c.TaskBatchSize = DefaultTaskBatchSize
	}
	if c.ChunkPause <= 0 {
		c.ChunkPause = DefaultChunkPause
	}
	return c
}

// Executor performs the actual container lifecycle action for one task.
// It is an opaque, potentially long-running, potentially-failing operation.
type Executor interface {
	Execute(ctx context.Context, t storage.Task) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, t storage.Task) error

func (f ExecutorFunc) Execute(ctx context.Context, t storage.Task) error { return f(ctx, t) }

// Hook is an optional side-check invoked once per cycle. Failures are
// logged and never abort the cycle.
type Hook func(ctx context.Context) error

// Snapshot is a read-only view of the scheduler's runtime state.
type Snapshot struct {
	Running          bool          `json:"running"`
	ActiveTasksCount int           `json:"active_tasks_count"`
	ActiveTaskIDs    []string      `json:"active_task_ids,omitempty"`
	LastCheckTime    time.Time     `json:"last_check_time"`
	CheckInterval    time.Duration `json:"check_interval"`
	MaxConcurrent    int           `json:"max_concurrent_tasks"`
	TaskBatchSize    int           `json:"task_batch_size"`
	TotalExecuted    uint64        `json:"total_executed"`
	TotalSkipped     uint64        `json:"total_skipped"`
	LastBatchSize    int           `json:"last_batch_size"`
	AvgExecutionTime time.Duration `json:"avg_execution_time"`
}
