package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"dockmate/internal/eventbus"
	"dockmate/internal/storage"
	logx "dockmate/pkg/logx"
)

// dispatch executes the due list in chunks of at most TaskBatchSize.
//
// Each chunk fans out up to the gate's free capacity and fans back in before
// the next chunk starts. When capacity runs out, the rest of the due list is
// deferred to the next poll (not an error, not a skip). Successive chunks
// are paced by ChunkPause to smooth host load.
func (s *Service) dispatch(ctx context.Context, due []storage.Task) (executed, deferred int) {
	if len(due) == 0 {
		return 0, 0
	}
	cfg := s.config()
	limiter := rate.NewLimiter(rate.Every(cfg.ChunkPause), 1)

	for start := 0; start < len(due); start += cfg.TaskBatchSize {
		if ctx.Err() != nil {
			deferred += len(due) - start
			break
		}
		end := start + cfg.TaskBatchSize
		if end > len(due) {
			end = len(due)
		}
		chunk := due[start:end]

		avail := s.gate.Free()
		if avail <= 0 {
			deferred += len(due) - start
			s.log.Info("concurrency saturated; deferring due tasks",
				logx.Int("deferred", len(due)-start),
				logx.Int("active", s.gate.Len()))
			break
		}

		take := len(chunk)
		if take > avail {
			take = avail
		}

		// Inter-chunk pacing. The first Wait consumes the initial token
		// immediately, so only chunk N+1 onward pays the pause.
		if err := limiter.Wait(ctx); err != nil {
			deferred += len(due) - start
			break
		}

		executed += s.runChunk(ctx, chunk[:take])
		s.setLastBatch(take)

		if take < len(chunk) {
			// Partial chunk: no slots left for the remainder of this cycle.
			deferred += (len(chunk) - take) + (len(due) - end)
			s.log.Info("concurrency saturated; deferring due tasks",
				logx.Int("deferred", (len(chunk)-take)+(len(due)-end)),
				logx.Int("active", s.gate.Len()))
			break
		}
	}

	if deferred > 0 {
		s.bus.Publish(eventbus.Event{Type: eventbus.TasksDeferred, Data: eventbus.CycleEvent{
			Due:      len(due),
			Executed: executed,
			Deferred: deferred,
		}})
	}
	return executed, deferred
}

// runChunk launches the chunk concurrently and waits for all of it.
// Returns the number of successful executions.
func (s *Service) runChunk(ctx context.Context, chunk []storage.Task) int {
	var wg sync.WaitGroup
	var ok atomic.Int32

	for _, t := range chunk {
		if !s.gate.Add(t.ID) {
			// Raced with a still-running execution of the same task.
			s.noteSkipped(t)
			continue
		}
		wg.Add(1)
		go func(t storage.Task) {
			defer wg.Done()
			defer s.gate.Remove(t.ID)
			if s.runTask(ctx, t) {
				ok.Add(1)
			}
		}(t)
	}

	wg.Wait()
	return int(ok.Load())
}

// runTask executes one task body. The gate entry is held by the caller for
// the full duration; this function never leaves it behind.
func (s *Service) runTask(ctx context.Context, t storage.Task) bool {
	start := time.Now()
	s.log.Debug("task started",
		logx.String("task", t.ID),
		logx.String("container", t.Container),
		logx.String("action", t.Action))
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, Data: taskEvent(t, start, 0, nil)})

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
			}
		}()
		return s.exec.Execute(ctx, t)
	}()
	took := time.Since(start)

	entry := storage.RunEntry{
		At:        start,
		TaskID:    t.ID,
		Container: t.Container,
		Action:    t.Action,
		OK:        err == nil,
		TookMS:    took.Milliseconds(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if aerr := s.store.AppendRun(ctx, entry); aerr != nil {
		s.log.Warn("run history append failed", logx.String("task", t.ID), logx.Err(aerr))
	}

	if err != nil {
		s.log.Error("task failed",
			logx.String("task", t.ID),
			logx.String("container", t.Container),
			logx.String("action", t.Action),
			logx.Duration("took", took),
			logx.Err(err))
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Data: taskEvent(t, start, took, err)})
		return false
	}

	s.bumpExecuted()

	// The store owns the cycle math; a persist failure here means the task
	// may be evaluated as due again next cycle. Accepted, logged degradation.
	if _, aerr := s.store.Advance(ctx, t.ID, time.Now()); aerr != nil {
		s.log.Warn("next-run update failed; task may re-fire",
			logx.String("task", t.ID),
			logx.Err(aerr))
	}

	s.log.Info("task completed",
		logx.String("task", t.ID),
		logx.String("container", t.Container),
		logx.String("action", t.Action),
		logx.Duration("took", took))
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskFinished, Data: taskEvent(t, start, took, nil)})
	return true
}

func (s *Service) noteSkipped(t storage.Task) {
	s.bumpSkipped()
	s.log.Debug("task skipped (already running)", logx.String("task", t.ID), logx.String("container", t.Container))
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskSkipped, Data: taskEvent(t, time.Now(), 0, nil)})
}

func taskEvent(t storage.Task, started time.Time, took time.Duration, err error) eventbus.TaskEvent {
	e := eventbus.TaskEvent{
		TaskID:    t.ID,
		Name:      t.Name,
		Container: t.Container,
		Action:    t.Action,
		Started:   started,
		Duration:  took,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
