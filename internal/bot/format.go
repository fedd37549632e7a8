package bot

import (
	"fmt"
	"strings"
	"time"

	"dockmate/internal/scheduler"
	"dockmate/internal/storage"
)

func formatStatus(snap scheduler.Snapshot) string {
	var b strings.Builder
	if snap.Running {
		b.WriteString("▶️ scheduler: running\n")
	} else {
		b.WriteString("⏸ scheduler: stopped\n")
	}
	fmt.Fprintf(&b, "check interval: %s\n", snap.CheckInterval)
	fmt.Fprintf(&b, "active: %d/%d", snap.ActiveTasksCount, snap.MaxConcurrent)
	if len(snap.ActiveTaskIDs) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(snap.ActiveTaskIDs, ", "))
	}
	b.WriteString("\n")
	if !snap.LastCheckTime.IsZero() {
		fmt.Fprintf(&b, "last check: %s\n", snap.LastCheckTime.Format("15:04:05"))
	}
	fmt.Fprintf(&b, "executed: %d, skipped: %d\n", snap.TotalExecuted, snap.TotalSkipped)
	if snap.AvgExecutionTime > 0 {
		fmt.Fprintf(&b, "avg cycle: %s", snap.AvgExecutionTime.Round(time.Millisecond))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTasks(tasks []storage.Task, now time.Time) string {
	if len(tasks) == 0 {
		return "no tasks configured"
	}
	var b strings.Builder
	for _, t := range tasks {
		mark := "🟢"
		if !t.IsActive {
			mark = "⚪️"
		}
		fmt.Fprintf(&b, "%s %s - %s %s (%s)\n", mark, t.Name, t.Action, t.Container, t.Schedule)
		if t.IsActive {
			next := t.NextRun()
			if next.After(now) {
				fmt.Fprintf(&b, "    next in %s\n", next.Sub(now).Round(time.Second))
			} else {
				b.WriteString("    due now\n")
			}
		}
		fmt.Fprintf(&b, "    id: %s\n", t.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}
