package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "dockmate/pkg/logx"
)

// Store is the persistence API consumed by the scheduler core and the bot.
type Store interface {
	// LoadTasks returns all tasks in stable (creation) order.
	LoadTasks(ctx context.Context) ([]Task, error)
	FindTask(ctx context.Context, id string) (Task, error)
	// CreateTask assigns an ID when empty, computes the initial next_run_ts
	// from the schedule, and persists the task.
	CreateTask(ctx context.Context, t Task) (Task, error)
	UpdateTask(ctx context.Context, t Task) error
	DeleteTask(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error

	// Advance recomputes and persists next_run_ts after a successful firing,
	// stamping last-run bookkeeping. Returns the new next_run_ts.
	Advance(ctx context.Context, id string, now time.Time) (int64, error)

	AppendRun(ctx context.Context, e RunEntry) error
	// PruneRuns deletes run history older than the cutoff, returning the
	// number of removed entries.
	PruneRuns(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" && strings.TrimSpace(cfg.Path) != "" {
		driver = "sqlite"
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
