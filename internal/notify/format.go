package notify

import (
	"fmt"
	"time"

	"dockmate/internal/eventbus"
)

// formatEvent renders an event as chat text. An empty result means the
// event is not worth a notification.
func formatEvent(ev eventbus.Event, notifySuccess bool) string {
	switch ev.Type {
	case eventbus.TaskFailed:
		te, ok := ev.Data.(eventbus.TaskEvent)
		if !ok {
			return ""
		}
		return fmt.Sprintf("🚨 task %q failed\ncontainer: %s\naction: %s\nafter: %s\nerror: %s",
			te.Name, te.Container, te.Action, te.Duration.Round(time.Millisecond), te.Error)
	case eventbus.TaskFinished:
		if !notifySuccess {
			return ""
		}
		te, ok := ev.Data.(eventbus.TaskEvent)
		if !ok {
			return ""
		}
		return fmt.Sprintf("✅ task %q done (%s %s) in %s",
			te.Name, te.Action, te.Container, te.Duration.Round(time.Millisecond))
	case eventbus.CycleDone:
		ce, ok := ev.Data.(eventbus.CycleEvent)
		if !ok || ce.Err == "" {
			return ""
		}
		return fmt.Sprintf("⚠️ scheduler cycle error: %s", ce.Err)
	default:
		return ""
	}
}
