package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"dockmate/internal/eventbus"
	"dockmate/internal/storage"
	logx "dockmate/pkg/logx"
)

func TestStartTwiceIsNoOp(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, Config{CheckInterval: time.Hour}, ExecutorFunc(func(ctx context.Context, task storage.Task) error { return nil }))
	ctx := context.Background()

	if !svc.Start(ctx) {
		t.Fatal("first Start returned false")
	}
	if svc.Start(ctx) {
		t.Fatal("second Start returned true, want no-op false")
	}
	if !svc.Running() {
		t.Fatal("scheduler should be running")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if !svc.Stop(stopCtx) {
		t.Fatal("Stop returned false on a running scheduler")
	}
}

func TestStopWhenStoppedIsNoOp(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, Config{CheckInterval: time.Hour}, ExecutorFunc(func(ctx context.Context, task storage.Task) error { return nil }))
	if svc.Stop(context.Background()) {
		t.Fatal("Stop on a stopped scheduler returned true")
	}
}

func TestStartStopStartCycle(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, Config{CheckInterval: time.Hour}, ExecutorFunc(func(ctx context.Context, task storage.Task) error { return nil }))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !svc.Start(ctx) {
			t.Fatalf("Start #%d returned false", i)
		}
		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		ok := svc.Stop(stopCtx)
		cancel()
		if !ok {
			t.Fatalf("Stop #%d returned false", i)
		}
	}
	if svc.Running() {
		t.Fatal("scheduler still running after Stop")
	}
}

func TestLoopExecutesDueTask(t *testing.T) {
	t.Parallel()
	ran := make(chan string, 1)
	exec := ExecutorFunc(func(ctx context.Context, task storage.Task) error {
		select {
		case ran <- task.ID:
		default:
		}
		return nil
	})
	svc, mem := newTestService(t, Config{
		CheckInterval:      time.Second,
		MaxConcurrentTasks: 3,
		TaskBatchSize:      5,
		ChunkPause:         time.Millisecond,
	}, exec)
	seedDue(t, mem, 1, time.Now())

	ctx := context.Background()
	if !svc.Start(ctx) {
		t.Fatal("Start failed")
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		svc.Stop(stopCtx)
	}()

	select {
	case id := <-ran:
		if id != "a" {
			t.Fatalf("ran task %s, want a", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("due task was not executed by the loop")
	}

	snap := svc.Stats()
	if snap.LastCheckTime.IsZero() {
		t.Fatal("last_check_time not stamped")
	}
	if snap.TotalExecuted == 0 {
		t.Fatal("total_executed not incremented")
	}
}

type failingStore struct {
	*storage.Memory
	fail bool
}

func (f *failingStore) LoadTasks(ctx context.Context) ([]storage.Task, error) {
	if f.fail {
		return nil, errors.New("store outage")
	}
	return f.Memory.LoadTasks(ctx)
}

// A store outage is a cycle-level error: the loop logs, backs off, and keeps
// running rather than dying.
func TestCycleErrorKeepsLoopAlive(t *testing.T) {
	t.Parallel()
	fs := &failingStore{Memory: storage.NewMemory(), fail: true}
	svc := New(Config{CheckInterval: time.Hour}, fs, ExecutorFunc(func(ctx context.Context, task storage.Task) error { return nil }), logx.Nop(), eventbus.New())

	if err := svc.runCycle(context.Background()); err == nil {
		t.Fatal("expected cycle error from store outage")
	}

	ctx := context.Background()
	if !svc.Start(ctx) {
		t.Fatal("Start failed")
	}
	time.Sleep(50 * time.Millisecond)
	if !svc.Running() {
		t.Fatal("loop died on cycle error")
	}
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	svc.Stop(stopCtx)
}

func TestHookFailureIsolated(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	hookCalls := 0
	svc := New(
		Config{CheckInterval: time.Minute},
		mem,
		ExecutorFunc(func(ctx context.Context, task storage.Task) error { return nil }),
		logx.Nop(),
		eventbus.New(),
		WithHook(func(ctx context.Context) error {
			hookCalls++
			if hookCalls == 1 {
				return errors.New("aux check failed")
			}
			panic("aux check panicked")
		}),
	)

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("hook error leaked into cycle: %v", err)
	}
	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("hook panic leaked into cycle: %v", err)
	}
	if hookCalls != 2 {
		t.Fatalf("hook calls = %d, want 2", hookCalls)
	}
}

func TestEWMA(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, Config{}, ExecutorFunc(func(ctx context.Context, task storage.Task) error { return nil }))

	svc.observeCycle(time.Second)
	if got := svc.Stats().AvgExecutionTime; got != time.Second {
		t.Fatalf("first observation = %v, want 1s", got)
	}
	svc.observeCycle(2 * time.Second)
	// 1s*0.9 + 2s*0.1 = 1.1s
	if got := svc.Stats().AvgExecutionTime; got != 1100*time.Millisecond {
		t.Fatalf("EWMA = %v, want 1.1s", got)
	}
}

func TestStatsMonotonic(t *testing.T) {
	t.Parallel()
	svc, mem := newTestService(t, Config{
		CheckInterval:      time.Minute,
		MaxConcurrentTasks: 5,
		TaskBatchSize:      5,
		ChunkPause:         time.Millisecond,
	}, ExecutorFunc(func(ctx context.Context, task storage.Task) error { return nil }))

	prev := uint64(0)
	now := time.Now()
	seedDue(t, mem, 3, now)
	for i := 0; i < 3; i++ {
		tasks, err := mem.LoadTasks(context.Background())
		if err != nil {
			t.Fatalf("LoadTasks: %v", err)
		}
		due, _ := selectDue(tasks, now, 30*time.Second, svc.gate)
		svc.dispatch(context.Background(), due)

		snap := svc.Stats()
		sum := snap.TotalExecuted + snap.TotalSkipped
		if sum < prev {
			t.Fatalf("total_executed+total_skipped decreased: %d -> %d", prev, sum)
		}
		prev = sum
	}
}

func TestSnapshotEchoesConfig(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, Config{
		CheckInterval:      45 * time.Second,
		MaxConcurrentTasks: 7,
		TaskBatchSize:      4,
	}, ExecutorFunc(func(ctx context.Context, task storage.Task) error { return nil }))

	snap := svc.Stats()
	if snap.Running {
		t.Fatal("Running = true before Start")
	}
	if snap.CheckInterval != 45*time.Second || snap.MaxConcurrent != 7 || snap.TaskBatchSize != 4 {
		t.Fatalf("snapshot does not echo config: %+v", snap)
	}

	svc.Apply(Config{CheckInterval: 90 * time.Second, MaxConcurrentTasks: 2, TaskBatchSize: 3})
	snap = svc.Stats()
	if snap.CheckInterval != 90*time.Second || snap.MaxConcurrent != 2 {
		t.Fatalf("Apply not reflected: %+v", snap)
	}
}
