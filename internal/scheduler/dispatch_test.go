package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dockmate/internal/eventbus"
	"dockmate/internal/storage"
	logx "dockmate/pkg/logx"
)

// countingExecutor records how many task bodies run at once.
type countingExecutor struct {
	mu      sync.Mutex
	current int
	peak    int
	total   int
	delay   time.Duration
	failFor map[string]error
}

func (e *countingExecutor) Execute(ctx context.Context, t storage.Task) error {
	e.mu.Lock()
	e.current++
	if e.current > e.peak {
		e.peak = e.current
	}
	e.total++
	e.mu.Unlock()

	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	e.mu.Lock()
	e.current--
	err := error(nil)
	if e.failFor != nil {
		err = e.failFor[t.ID]
	}
	e.mu.Unlock()
	return err
}

func (e *countingExecutor) Peak() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peak
}

func newTestService(t *testing.T, cfg Config, exec Executor) (*Service, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	svc := New(cfg, mem, exec, logx.Nop(), eventbus.New())
	return svc, mem
}

func seedDue(t *testing.T, mem *storage.Memory, n int, now time.Time) []storage.Task {
	t.Helper()
	out := make([]storage.Task, 0, n)
	for i := 0; i < n; i++ {
		created, err := mem.CreateTask(context.Background(), storage.Task{
			ID:        string(rune('a' + i)),
			Container: "ctr",
			Action:    storage.ActionRestart,
			Schedule:  "every:1h",
			IsActive:  true,
			NextRunTS: now.Unix(),
		})
		if err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		out = append(out, created)
	}
	return out
}

// Reference scenario: check_interval=120, max_concurrent=3, batch=5, 6 due
// tasks, none active. Exactly 3 run concurrently, 3 are deferred, and the
// deferred ones are not counted as skipped.
func TestDispatchSaturationScenario(t *testing.T) {
	t.Parallel()
	exec := &countingExecutor{delay: 50 * time.Millisecond}
	svc, mem := newTestService(t, Config{
		CheckInterval:      120 * time.Second,
		MaxConcurrentTasks: 3,
		TaskBatchSize:      5,
		ChunkPause:         time.Millisecond,
	}, exec)
	due := seedDue(t, mem, 6, time.Now())

	executed, deferred := svc.dispatch(context.Background(), due)

	if executed != 3 {
		t.Fatalf("executed = %d, want 3", executed)
	}
	if deferred != 3 {
		t.Fatalf("deferred = %d, want 3", deferred)
	}
	if exec.Peak() != 3 {
		t.Fatalf("peak concurrency = %d, want 3", exec.Peak())
	}
	snap := svc.Stats()
	if snap.TotalSkipped != 0 {
		t.Fatalf("total_skipped = %d, want 0 (deferred, not skipped)", snap.TotalSkipped)
	}
	if snap.TotalExecuted != 3 {
		t.Fatalf("total_executed = %d, want 3", snap.TotalExecuted)
	}
	if snap.LastBatchSize != 3 {
		t.Fatalf("last_batch_size = %d, want 3", snap.LastBatchSize)
	}
	if svc.gate.Len() != 0 {
		t.Fatalf("gate not drained: %d", svc.gate.Len())
	}
}

func TestDispatchChunksSequentially(t *testing.T) {
	t.Parallel()
	exec := &countingExecutor{delay: 20 * time.Millisecond}
	svc, mem := newTestService(t, Config{
		CheckInterval:      time.Minute,
		MaxConcurrentTasks: 10,
		TaskBatchSize:      2,
		ChunkPause:         time.Millisecond,
	}, exec)
	due := seedDue(t, mem, 5, time.Now())

	executed, deferred := svc.dispatch(context.Background(), due)
	if executed != 5 || deferred != 0 {
		t.Fatalf("executed=%d deferred=%d, want 5/0", executed, deferred)
	}
	// Chunks of 2 fan in before the next chunk starts, so at most 2 at once.
	if exec.Peak() > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", exec.Peak())
	}
	if svc.Stats().LastBatchSize != 1 {
		t.Fatalf("last_batch_size = %d, want 1 (final chunk)", svc.Stats().LastBatchSize)
	}
}

// A deferred task stays eligible: next_run_ts is untouched, so the next poll
// selects it again (deferral, not loss).
func TestDeferredTasksRemainEligible(t *testing.T) {
	t.Parallel()
	exec := &countingExecutor{delay: 10 * time.Millisecond}
	svc, mem := newTestService(t, Config{
		CheckInterval:      120 * time.Second,
		MaxConcurrentTasks: 2,
		TaskBatchSize:      5,
		ChunkPause:         time.Millisecond,
	}, exec)
	now := time.Now()
	due := seedDue(t, mem, 4, now)

	executed, deferred := svc.dispatch(context.Background(), due)
	if executed != 2 || deferred != 2 {
		t.Fatalf("executed=%d deferred=%d, want 2/2", executed, deferred)
	}

	tasks, err := mem.LoadTasks(context.Background())
	if err != nil {
		t.Fatalf("LoadTasks: %v", err)
	}
	stillDue, _ := selectDue(tasks, now, 60*time.Second, svc.gate)
	if len(stillDue) != 2 {
		t.Fatalf("still due = %d, want 2 (deferred tasks eligible)", len(stillDue))
	}
	for _, d := range stillDue {
		if d.NextRunTS != now.Unix() {
			t.Fatalf("deferred task %s next_run_ts changed", d.ID)
		}
	}
}

func TestRunTaskAdvancesOnSuccessOnly(t *testing.T) {
	t.Parallel()
	exec := &countingExecutor{failFor: map[string]error{"b": errors.New("boom")}}
	svc, mem := newTestService(t, Config{
		CheckInterval:      time.Minute,
		MaxConcurrentTasks: 5,
		TaskBatchSize:      5,
		ChunkPause:         time.Millisecond,
	}, exec)
	now := time.Now()
	due := seedDue(t, mem, 2, now)

	executed, deferred := svc.dispatch(context.Background(), due)
	if executed != 1 || deferred != 0 {
		t.Fatalf("executed=%d deferred=%d, want 1/0", executed, deferred)
	}

	okTask, _ := mem.FindTask(context.Background(), "a")
	if okTask.NextRunTS == now.Unix() {
		t.Fatal("successful task was not advanced")
	}
	failed, _ := mem.FindTask(context.Background(), "b")
	if failed.NextRunTS != now.Unix() {
		t.Fatal("failed task must keep its next_run_ts")
	}
	if svc.Stats().TotalExecuted != 1 {
		t.Fatalf("total_executed = %d, want 1 (failures not counted)", svc.Stats().TotalExecuted)
	}

	runs := mem.Runs()
	if len(runs) != 2 {
		t.Fatalf("run history = %d entries, want 2", len(runs))
	}
	var fails int
	for _, r := range runs {
		if !r.OK {
			fails++
			if r.Error == "" {
				t.Fatal("failed run entry missing error")
			}
		}
	}
	if fails != 1 {
		t.Fatalf("failed runs = %d, want 1", fails)
	}
}

// A panicking executor must not leak a gate entry or kill the dispatcher.
func TestRunTaskPanicReleasesGate(t *testing.T) {
	t.Parallel()
	exec := ExecutorFunc(func(ctx context.Context, task storage.Task) error {
		panic("executor exploded")
	})
	svc, mem := newTestService(t, Config{
		CheckInterval:      time.Minute,
		MaxConcurrentTasks: 3,
		TaskBatchSize:      5,
		ChunkPause:         time.Millisecond,
	}, exec)
	due := seedDue(t, mem, 1, time.Now())

	executed, deferred := svc.dispatch(context.Background(), due)
	if executed != 0 || deferred != 0 {
		t.Fatalf("executed=%d deferred=%d, want 0/0", executed, deferred)
	}
	if svc.gate.Len() != 0 {
		t.Fatalf("gate leaked after panic: %d", svc.gate.Len())
	}
}

func TestDispatchGlobalBoundUnderLoad(t *testing.T) {
	t.Parallel()
	const max = 3
	var current, peak atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, task storage.Task) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return nil
	})
	svc, mem := newTestService(t, Config{
		CheckInterval:      time.Minute,
		MaxConcurrentTasks: max,
		TaskBatchSize:      3,
		ChunkPause:         time.Millisecond,
	}, exec)
	due := seedDue(t, mem, 9, time.Now())

	executed, _ := svc.dispatch(context.Background(), due)
	if executed != 9 {
		t.Fatalf("executed = %d, want 9", executed)
	}
	if p := peak.Load(); p > max {
		t.Fatalf("observed concurrency %d exceeds max %d", p, max)
	}
}
