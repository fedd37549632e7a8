package scheduler

import (
	"time"

	"dockmate/internal/storage"
)

// selectDue picks the tasks that must run this cycle, preserving task-list
// order (no priority scheme).
//
// A task is due iff next_run <= now < next_run + window, where window is
// half the poll interval. The lower bound means a task scheduled between two
// polls is not missed; the upper bound keeps a long-overdue task (e.g. after
// an extended outage) from firing as a backlog storm. Stale tasks simply
// wait for their next recomputed occurrence.
//
// Tasks already in flight are excluded and counted as skipped, never as due.
func selectDue(tasks []storage.Task, now time.Time, window time.Duration, g *gate) (due []storage.Task, skipped []storage.Task) {
	for _, t := range tasks {
		if !t.IsActive {
			continue
		}
		fireAt := t.NextRun()
		if now.Before(fireAt) {
			continue
		}
		if !now.Before(fireAt.Add(window)) {
			// stale: outside the tolerance window
			continue
		}
		if g.Contains(t.ID) {
			skipped = append(skipped, t)
			continue
		}
		due = append(due, t)
	}
	return due, skipped
}
