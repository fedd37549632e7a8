package scheduler

import (
	"context"
	"errors"
	"fmt"
)

// ErrBusy reports that the concurrency gate had no slot for an on-demand run.
var ErrBusy = errors.New("scheduler: concurrency limit reached")

// RunNow executes one task immediately, outside the polling cycle.
// The gate still applies: the task keeps its at-most-once guarantee and
// counts against max_concurrent_tasks alongside scheduled executions.
// The task's next_run_ts advances on success, exactly as a scheduled run.
func (s *Service) RunNow(ctx context.Context, id string) error {
	t, err := s.store.FindTask(ctx, id)
	if err != nil {
		return err
	}
	if !s.gate.Add(t.ID) {
		return fmt.Errorf("%w: task %s", ErrBusy, t.ID)
	}
	defer s.gate.Remove(t.ID)

	if !s.runTask(ctx, t) {
		return fmt.Errorf("task %s failed", t.ID)
	}
	return nil
}
