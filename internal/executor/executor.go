// Package executor performs container lifecycle actions on behalf of the
// scheduler. The scheduler treats it as a black box that either completes
// or returns an error.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dockmate/internal/storage"
	logx "dockmate/pkg/logx"
)

// Config selects and tunes the execution backend.
//
// Backend values:
//   - "docker" (default): drive the docker CLI
//   - "systemd": drive container units over the systemd D-Bus API
type Config struct {
	Backend string
	// DockerBin overrides the docker binary path (docker backend).
	DockerBin string
	// UnitSuffix is appended to container names lacking a unit suffix
	// (systemd backend). Defaults to ".service".
	UnitSuffix string
	// CommandTimeout bounds a single action. 0 means no extra bound beyond
	// the caller's context.
	CommandTimeout time.Duration
}

// Executor is the side-effecting end of the pipeline.
type Executor interface {
	Execute(ctx context.Context, t storage.Task) error
	Close() error
}

// New builds the configured backend.
func New(cfg Config, log logx.Logger) (Executor, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch backend {
	case "", "docker":
		return newDocker(cfg, log), nil
	case "systemd":
		return newSystemd(cfg, log)
	default:
		return nil, errors.New("unknown executor backend: " + backend)
	}
}

func actionErr(t storage.Task) error {
	return fmt.Errorf("unsupported action %q for container %q", t.Action, t.Container)
}

func boundCtx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return ctx, func() {}
}
