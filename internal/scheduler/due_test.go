package scheduler

import (
	"testing"
	"time"

	"dockmate/internal/storage"
)

func taskAt(id string, ts int64, active bool) storage.Task {
	return storage.Task{
		ID:        id,
		Container: "c-" + id,
		Action:    storage.ActionRestart,
		Schedule:  "5m",
		IsActive:  active,
		NextRunTS: ts,
	}
}

func TestDueWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	window := 60 * time.Second // check_interval=120s

	tests := []struct {
		name string
		ts   int64
		due  bool
	}{
		{name: "exactly now", ts: now.Unix(), due: true},
		{name: "just inside window", ts: now.Add(-59 * time.Second).Unix(), due: true},
		{name: "at window edge", ts: now.Add(-60 * time.Second).Unix(), due: false},
		{name: "future", ts: now.Add(time.Second).Unix(), due: false},
		{name: "long overdue after outage", ts: now.Add(-10000 * time.Second).Unix(), due: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			g := newGate(3)
			due, skipped := selectDue([]storage.Task{taskAt("t1", tt.ts, true)}, now, window, g)
			if got := len(due) == 1; got != tt.due {
				t.Fatalf("due = %v, want %v", got, tt.due)
			}
			if len(skipped) != 0 {
				t.Fatalf("skipped = %d, want 0", len(skipped))
			}
		})
	}
}

func TestDueInactiveNeverSelected(t *testing.T) {
	t.Parallel()
	now := time.Now()
	g := newGate(3)
	due, skipped := selectDue([]storage.Task{taskAt("t1", now.Unix(), false)}, now, time.Minute, g)
	if len(due) != 0 || len(skipped) != 0 {
		t.Fatalf("inactive task selected: due=%d skipped=%d", len(due), len(skipped))
	}
}

func TestDueActiveTaskCountedSkipped(t *testing.T) {
	t.Parallel()
	now := time.Now()
	g := newGate(3)
	if !g.Add("t1") {
		t.Fatal("gate.Add failed")
	}
	tasks := []storage.Task{taskAt("t1", now.Unix(), true), taskAt("t2", now.Unix(), true)}
	due, skipped := selectDue(tasks, now, time.Minute, g)
	if len(due) != 1 || due[0].ID != "t2" {
		t.Fatalf("due = %v, want [t2]", due)
	}
	if len(skipped) != 1 || skipped[0].ID != "t1" {
		t.Fatalf("skipped = %v, want [t1]", skipped)
	}
}

func TestDuePreservesOrder(t *testing.T) {
	t.Parallel()
	now := time.Now()
	g := newGate(10)
	var tasks []storage.Task
	for _, id := range []string{"a", "b", "c", "d"} {
		tasks = append(tasks, taskAt(id, now.Unix(), true))
	}
	due, _ := selectDue(tasks, now, time.Minute, g)
	if len(due) != 4 {
		t.Fatalf("len(due) = %d, want 4", len(due))
	}
	for i, id := range []string{"a", "b", "c", "d"} {
		if due[i].ID != id {
			t.Fatalf("order[%d] = %s, want %s", i, due[i].ID, id)
		}
	}
}
