package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"dockmate/internal/eventbus"
	"dockmate/internal/storage"
	logx "dockmate/pkg/logx"
)

// Service owns the background polling loop and its runtime state.
//
// State machine: Stopped -> Start() -> Running -> Stop() -> Stopped.
// Errors inside the loop never transition to a separate state; the loop
// logs, backs off, and continues.
type Service struct {
	mu  sync.Mutex
	cfg Config

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	exec  Executor
	hook  Hook

	gate *gate

	stopCh    chan struct{}
	stopDone  chan struct{}
	runCancel context.CancelFunc
	loopWG    sync.WaitGroup

	statsMu       sync.Mutex
	lastCheck     time.Time
	totalExecuted uint64
	totalSkipped  uint64
	lastBatchSize int
	avgExec       time.Duration
}

type Option func(*Service)

// WithHook installs the optional per-cycle side-check.
func WithHook(h Hook) Option {
	return func(s *Service) { s.hook = h }
}

func New(cfg Config, store storage.Store, exec Executor, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	s := &Service{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		store: store,
		exec:  exec,
		gate:  newGate(cfg.MaxConcurrentTasks),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply updates the tunables at runtime (config hot reload).
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.gate.Resize(cfg.MaxConcurrentTasks)
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start transitions Stopped -> Running. It reports false (a logged no-op,
// not a fatal condition) when the scheduler is already running. Exactly one
// background goroutine owns the polling loop; the caller is never blocked.
func (s *Service) Start(ctx context.Context) bool {
	// If a Stop() is in progress, wait for it to complete (prevents double loops).
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			s.mu.Unlock()
			s.log.Error("start requested but scheduler already running")
			return false
		}
		s.mu.Unlock()
		select {
		case <-done:
			// loop and retry
		case <-ctx.Done():
			return false
		}
	}
	defer s.mu.Unlock()

	s.stopCh = make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel

	cfg := s.cfg
	stopCh := s.stopCh

	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in scheduler loop", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		s.loop(runCtx, stopCh)
	}()

	s.log.Info("scheduler started",
		logx.Duration("check_interval", cfg.CheckInterval),
		logx.Int("max_concurrent_tasks", cfg.MaxConcurrentTasks),
		logx.Int("task_batch_size", cfg.TaskBatchSize))
	return true
}

// Stop transitions Running -> Stopped. It signals the loop, cancels pending
// work, and waits for a graceful exit bounded by ctx. Tasks already handed
// to the executor run to their own completion (cancellation is cooperative).
// Reports false if the scheduler is not running.
func (s *Service) Stop(ctx context.Context) bool {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		s.log.Warn("stop requested but scheduler not running")
		return false
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return false
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	// Finalize cleanup in background so Stop() can return on timeout safely.
	go func() {
		s.loopWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)

		snap := s.Stats()
		s.log.Info("scheduler stopped",
			logx.Duration("took", time.Since(start)),
			logx.Uint64("total_executed", snap.TotalExecuted),
			logx.Uint64("total_skipped", snap.TotalSkipped),
			logx.Duration("avg_execution_time", snap.AvgExecutionTime))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
	return true
}

// Running reports whether the polling loop is live.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil
}

func (s *Service) loop(ctx context.Context, stopCh <-chan struct{}) {
	for {
		// Fast-exit check so a closed stopCh wins over another cycle.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		started := time.Now()
		err := s.runCycle(ctx)
		dur := time.Since(started)
		s.observeCycle(dur)

		cfg := s.config()
		var sleep time.Duration
		if err != nil {
			sleep = errorBackoff(cfg.CheckInterval)
			s.log.Error("scheduler cycle failed; backing off",
				logx.Err(err),
				logx.Duration("backoff", sleep))
		} else {
			sleep = nextPollInterval(cfg.CheckInterval, dur, s.gate.Len(), cfg.MaxConcurrentTasks)
			if sleep != cfg.CheckInterval {
				s.log.Debug("poll interval adapted",
					logx.Duration("sleep", sleep),
					logx.Duration("cycle", dur),
					logx.Int("active", s.gate.Len()))
			}
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runCycle is one poll: aux hook, due selection, dispatch.
// Only store/dispatch-level failures surface as the cycle error; a panic is
// converted so the loop backs off instead of dying.
func (s *Service) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v\n%s", r, debug.Stack())
		}
	}()

	s.runHook(ctx)

	now := time.Now()
	s.setLastCheck(now)

	tasks, err := s.store.LoadTasks(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	cfg := s.config()
	due, skipped := selectDue(tasks, now, cfg.CheckInterval/2, s.gate)
	for _, t := range skipped {
		s.noteSkipped(t)
	}

	executed, deferred := s.dispatch(ctx, due)

	s.bus.Publish(eventbus.Event{Type: eventbus.CycleDone, Data: eventbus.CycleEvent{
		Due:      len(due),
		Executed: executed,
		Deferred: deferred,
		Duration: time.Since(now),
	}})
	if len(due) > 0 || len(skipped) > 0 {
		s.log.Debug("cycle complete",
			logx.Int("due", len(due)),
			logx.Int("executed", executed),
			logx.Int("skipped", len(skipped)),
			logx.Int("deferred", deferred),
			logx.Duration("took", time.Since(now)))
	}
	return nil
}

// runHook invokes the optional per-cycle side-check. A hook failure or panic
// must never abort the main due-task logic.
func (s *Service) runHook(ctx context.Context) {
	hook := s.hook
	if hook == nil {
		return
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return hook(ctx)
	}()
	if err != nil {
		s.log.Warn("cycle hook failed", logx.Err(err))
	}
}

// ---- statistics ----

func (s *Service) observeCycle(dur time.Duration) {
	s.statsMu.Lock()
	if s.avgExec == 0 {
		s.avgExec = dur
	} else {
		// EWMA, decay 0.9/0.1 per cycle.
		s.avgExec = time.Duration(float64(s.avgExec)*0.9 + float64(dur)*0.1)
	}
	s.statsMu.Unlock()
}

func (s *Service) setLastCheck(t time.Time) {
	s.statsMu.Lock()
	s.lastCheck = t
	s.statsMu.Unlock()
}

func (s *Service) setLastBatch(n int) {
	s.statsMu.Lock()
	s.lastBatchSize = n
	s.statsMu.Unlock()
}

func (s *Service) bumpExecuted() {
	s.statsMu.Lock()
	s.totalExecuted++
	s.statsMu.Unlock()
}

func (s *Service) bumpSkipped() {
	s.statsMu.Lock()
	s.totalSkipped++
	s.statsMu.Unlock()
}

// Stats returns a read-only snapshot, safe for concurrent callers.
func (s *Service) Stats() Snapshot {
	cfg := s.config()
	running := s.Running()
	ids := s.gate.IDs()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return Snapshot{
		Running:          running,
		ActiveTasksCount: len(ids),
		ActiveTaskIDs:    ids,
		LastCheckTime:    s.lastCheck,
		CheckInterval:    cfg.CheckInterval,
		MaxConcurrent:    cfg.MaxConcurrentTasks,
		TaskBatchSize:    cfg.TaskBatchSize,
		TotalExecuted:    s.totalExecuted,
		TotalSkipped:     s.totalSkipped,
		LastBatchSize:    s.lastBatchSize,
		AvgExecutionTime: s.avgExec,
	}
}
