package storage

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	created, err := m.CreateTask(ctx, Task{
		Name:      "nightly restart",
		Container: "web",
		Action:    ActionRestart,
		Schedule:  "0 3 * * *",
		IsActive:  true,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}
	if created.NextRunTS == 0 {
		t.Fatal("expected initial next_run_ts")
	}

	got, err := m.FindTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("FindTask: %v", err)
	}
	if got.Container != "web" || got.Action != ActionRestart {
		t.Fatalf("unexpected task: %+v", got)
	}

	if err := m.SetActive(ctx, created.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	got, _ = m.FindTask(ctx, created.ID)
	if got.IsActive {
		t.Fatal("expected inactive")
	}

	if err := m.DeleteTask(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, err := m.FindTask(ctx, created.ID); err != ErrNotFound {
		t.Fatalf("FindTask after delete = %v, want ErrNotFound", err)
	}
}

func TestMemoryValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.CreateTask(ctx, Task{Container: "web", Action: "explode", Schedule: "5m"}); err == nil {
		t.Fatal("expected error for invalid action")
	}
	if _, err := m.CreateTask(ctx, Task{Action: ActionStop, Schedule: "5m"}); err == nil {
		t.Fatal("expected error for missing container")
	}
	if _, err := m.CreateTask(ctx, Task{Container: "web", Action: ActionStop, Schedule: "bogus"}); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestMemoryAdvance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	created, err := m.CreateTask(ctx, Task{
		Container: "db",
		Action:    ActionStop,
		Schedule:  "every:1h",
		IsActive:  true,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ts, err := m.Advance(ctx, created.ID, now)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if want := now.Add(time.Hour).Unix(); ts != want {
		t.Fatalf("next_run_ts = %d, want %d", ts, want)
	}

	got, _ := m.FindTask(ctx, created.ID)
	if got.LastStatus != "ok" || !got.LastRunAt.Equal(now) {
		t.Fatalf("last-run bookkeeping not stamped: %+v", got)
	}

	if _, err := m.Advance(ctx, "missing", now); err != ErrNotFound {
		t.Fatalf("Advance(missing) = %v, want ErrNotFound", err)
	}
}

func TestMemoryPruneRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := m.AppendRun(ctx, RunEntry{
			At: base.Add(time.Duration(i) * 24 * time.Hour), TaskID: "t1", Container: "web", Action: ActionRestart, OK: true,
		})
		if err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}

	removed, err := m.PruneRuns(ctx, base.Add(2*24*time.Hour))
	if err != nil {
		t.Fatalf("PruneRuns: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	runs := m.Runs()
	if len(runs) != 3 {
		t.Fatalf("remaining = %d, want 3", len(runs))
	}
	if runs[0].At.Before(base.Add(2 * 24 * time.Hour)) {
		t.Fatalf("oldest remaining run %v is before cutoff", runs[0].At)
	}
}

func TestMemoryLoadOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	for _, name := range []string{"a", "b", "c"} {
		if _, err := m.CreateTask(ctx, Task{Name: name, Container: name, Action: ActionStart, Schedule: "10m"}); err != nil {
			t.Fatalf("CreateTask(%s): %v", name, err)
		}
	}
	tasks, err := m.LoadTasks(ctx)
	if err != nil {
		t.Fatalf("LoadTasks: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("len = %d, want 3", len(tasks))
	}
	for i, want := range []string{"a", "b", "c"} {
		if tasks[i].Name != want {
			t.Fatalf("order[%d] = %s, want %s", i, tasks[i].Name, want)
		}
	}
}
