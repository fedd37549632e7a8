package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"dockmate/internal/storage"
	logx "dockmate/pkg/logx"
)

const commandTimeout = 15 * time.Second

func (s *Service) handleStatus(c tele.Context) error {
	return c.Send(formatStatus(s.core.Stats()))
}

func (s *Service) handleTasks(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	tasks, err := s.store.LoadTasks(ctx)
	if err != nil {
		return c.Send("failed to load tasks: " + err.Error())
	}
	return c.Send(formatTasks(tasks, time.Now()))
}

func (s *Service) handleRun(c tele.Context) error {
	t, err := s.resolveTask(c.Message().Payload)
	if err != nil {
		return c.Send(err.Error())
	}
	// Run in the background: container actions can outlive Telegram's
	// patience and the handler should ack quickly.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.core.RunNow(ctx, t.ID); err != nil {
			s.log.Warn("on-demand run failed", logx.String("task", t.ID), logx.Err(err))
			_ = s.reply(c, fmt.Sprintf("❌ %s: %v", t.Name, err))
			return
		}
		_ = s.reply(c, fmt.Sprintf("✅ %s done (%s %s)", t.Name, t.Action, t.Container))
	}()
	return c.Send(fmt.Sprintf("running %s (%s %s)...", t.Name, t.Action, t.Container))
}

func (s *Service) handlePause(c tele.Context) error {
	return s.setActive(c, false)
}

func (s *Service) handleResume(c tele.Context) error {
	return s.setActive(c, true)
}

func (s *Service) setActive(c tele.Context, active bool) error {
	t, err := s.resolveTask(c.Message().Payload)
	if err != nil {
		return c.Send(err.Error())
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := s.store.SetActive(ctx, t.ID, active); err != nil {
		return c.Send("update failed: " + err.Error())
	}
	verb := "paused"
	if active {
		verb = "resumed"
	}
	return c.Send(fmt.Sprintf("task %s %s", t.Name, verb))
}

func (s *Service) handleScheduler(c tele.Context) error {
	arg := strings.TrimSpace(strings.ToLower(c.Message().Payload))
	switch arg {
	case "start":
		if s.core.Start(context.Background()) {
			return c.Send("scheduler started")
		}
		return c.Send("scheduler already running")
	case "stop":
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if s.core.Stop(ctx) {
			return c.Send("scheduler stopped")
		}
		return c.Send("scheduler not running")
	default:
		if s.core.Running() {
			return c.Send("scheduler is running (use /scheduler stop)")
		}
		return c.Send("scheduler is stopped (use /scheduler start)")
	}
}

func (s *Service) handleHelp(c tele.Context) error {
	return c.Send(strings.Join([]string{
		"/status - scheduler state and counters",
		"/tasks - list tasks and next runs",
		"/run <id|name> - execute a task now",
		"/pause <id|name> - deactivate a task",
		"/resume <id|name> - activate a task",
		"/scheduler [start|stop] - control the loop",
	}, "\n"))
}

// resolveTask accepts either a task ID or a unique task name.
func (s *Service) resolveTask(arg string) (storage.Task, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return storage.Task{}, fmt.Errorf("usage: give a task id or name (see /tasks)")
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if t, err := s.store.FindTask(ctx, arg); err == nil {
		return t, nil
	}
	tasks, err := s.store.LoadTasks(ctx)
	if err != nil {
		return storage.Task{}, fmt.Errorf("failed to load tasks: %v", err)
	}
	return matchByName(tasks, arg)
}

func matchByName(tasks []storage.Task, name string) (storage.Task, error) {
	var found []storage.Task
	for _, t := range tasks {
		if strings.EqualFold(t.Name, name) {
			found = append(found, t)
		}
	}
	switch len(found) {
	case 0:
		return storage.Task{}, fmt.Errorf("no task named %q (see /tasks)", name)
	case 1:
		return found[0], nil
	default:
		return storage.Task{}, fmt.Errorf("name %q is ambiguous, use the task id", name)
	}
}

func (s *Service) reply(c tele.Context, text string) error {
	if c.Chat() == nil {
		return nil
	}
	return s.SendText(context.Background(), c.Chat().ID, text)
}
