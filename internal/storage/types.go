package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("task not found")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default when Path is set)
//   - "memory": in-memory, lost on restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Container lifecycle actions a task may perform.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
)

// ValidAction reports whether s names a supported lifecycle action.
func ValidAction(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ActionStart, ActionStop, ActionRestart:
		return true
	}
	return false
}

// Task is one recurring container lifecycle job.
//
// The scheduler core reads only IsActive and NextRunTS; the remaining fields
// are opaque to it.
type Task struct {
	ID        string
	Name      string
	Container string
	Action    string
	Schedule  string
	IsActive  bool
	NextRunTS int64 // unix seconds of the next scheduled firing

	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastRunAt  time.Time
	LastStatus string // "" | "ok" | "error"
}

// NextRun returns NextRunTS as a wall-clock time.
func (t Task) NextRun() time.Time { return time.Unix(t.NextRunTS, 0) }

func (t Task) Validate() error {
	if strings.TrimSpace(t.Container) == "" {
		return fmt.Errorf("container name required")
	}
	if !ValidAction(t.Action) {
		return fmt.Errorf("invalid action %q (use start/stop/restart)", t.Action)
	}
	if strings.TrimSpace(t.Schedule) == "" {
		return fmt.Errorf("schedule required")
	}
	return nil
}

// RunEntry records one execution attempt.
// Keep it compact and schema-stable.
type RunEntry struct {
	At        time.Time
	TaskID    string
	Container string
	Action    string
	OK        bool
	Error     string
	TookMS    int64
}
