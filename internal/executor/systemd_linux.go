//go:build linux

package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"

	"dockmate/internal/storage"
	logx "dockmate/pkg/logx"
)

// systemdExecutor drives container units (e.g. podman quadlets or
// docker-compose wrapper units) over the systemd D-Bus API.
type systemdExecutor struct {
	mu     sync.Mutex
	conn   *dbus.Conn
	suffix string
	cfg    Config
	log    logx.Logger
}

func newSystemd(cfg Config, log logx.Logger) (Executor, error) {
	suffix := strings.TrimSpace(cfg.UnitSuffix)
	if suffix == "" {
		suffix = ".service"
	}
	conn, err := dbus.NewSystemConnectionContext(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &systemdExecutor{conn: conn, suffix: suffix, cfg: cfg, log: log}, nil
}

func (s *systemdExecutor) unitName(container string) string {
	name := strings.TrimSpace(container)
	if strings.Contains(name, ".") {
		return name
	}
	return name + s.suffix
}

func (s *systemdExecutor) Execute(ctx context.Context, t storage.Task) error {
	runCtx, cancel := boundCtx(ctx, s.cfg.CommandTimeout)
	defer cancel()

	unit := s.unitName(t.Container)

	// "replace" queues the job, replacing any conflicting queued job.
	// The result channel reports the job outcome, not just submission.
	result := make(chan string, 1)

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("systemd connection closed")
	}

	var err error
	switch strings.ToLower(strings.TrimSpace(t.Action)) {
	case storage.ActionStart:
		_, err = conn.StartUnitContext(runCtx, unit, "replace", result)
	case storage.ActionStop:
		_, err = conn.StopUnitContext(runCtx, unit, "replace", result)
	case storage.ActionRestart:
		_, err = conn.RestartUnitContext(runCtx, unit, "replace", result)
	default:
		return actionErr(t)
	}
	if err != nil {
		return fmt.Errorf("systemd %s %s: %w", t.Action, unit, err)
	}

	select {
	case <-runCtx.Done():
		return runCtx.Err()
	case res := <-result:
		if res != "done" {
			return fmt.Errorf("systemd %s %s: job result %q", t.Action, unit, res)
		}
	}

	s.log.Debug("systemd action complete", logx.String("unit", unit), logx.String("action", t.Action))
	return nil
}

func (s *systemdExecutor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return nil
}
