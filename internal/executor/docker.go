package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"dockmate/internal/storage"
	logx "dockmate/pkg/logx"
)

// dockerExecutor shells out to the docker CLI. Actions map 1:1 onto
// `docker start|stop|restart <container>`.
type dockerExecutor struct {
	bin     string
	timeout time.Duration
	log     logx.Logger
}

func newDocker(cfg Config, log logx.Logger) *dockerExecutor {
	bin := strings.TrimSpace(cfg.DockerBin)
	if bin == "" {
		bin = "docker"
	}
	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &dockerExecutor{bin: bin, timeout: timeout, log: log}
}

func (d *dockerExecutor) Execute(ctx context.Context, t storage.Task) error {
	action := strings.ToLower(strings.TrimSpace(t.Action))
	switch action {
	case storage.ActionStart, storage.ActionStop, storage.ActionRestart:
	default:
		return actionErr(t)
	}

	runCtx, cancel := boundCtx(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, d.bin, action, t.Container)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		msg := strings.TrimSpace(out.String())
		if msg != "" {
			return fmt.Errorf("docker %s %s: %w: %s", action, t.Container, err, truncate(msg, 400))
		}
		return fmt.Errorf("docker %s %s: %w", action, t.Container, err)
	}

	d.log.Debug("docker action complete",
		logx.String("container", t.Container),
		logx.String("action", action),
		logx.Duration("took", time.Since(start)))
	return nil
}

func (d *dockerExecutor) Close() error { return nil }

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
