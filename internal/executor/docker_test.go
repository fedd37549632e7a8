package executor

import (
	"context"
	"testing"
	"time"

	"dockmate/internal/storage"
	logx "dockmate/pkg/logx"
)

func TestDockerRejectsUnknownAction(t *testing.T) {
	t.Parallel()
	d := newDocker(Config{DockerBin: "true"}, logx.Nop())
	err := d.Execute(context.Background(), storage.Task{Container: "web", Action: "explode"})
	if err == nil {
		t.Fatal("expected error for unknown action")
	}
}

// Uses a stand-in binary so the test doesn't need a container runtime.
func TestDockerRunsCommand(t *testing.T) {
	t.Parallel()
	d := newDocker(Config{DockerBin: "true", CommandTimeout: 5 * time.Second}, logx.Nop())
	err := d.Execute(context.Background(), storage.Task{Container: "web", Action: storage.ActionRestart})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestDockerReportsCommandFailure(t *testing.T) {
	t.Parallel()
	d := newDocker(Config{DockerBin: "false", CommandTimeout: 5 * time.Second}, logx.Nop())
	err := d.Execute(context.Background(), storage.Task{Container: "web", Action: storage.ActionStop})
	if err == nil {
		t.Fatal("expected error from failing binary")
	}
}

func TestNewDefaultsToDocker(t *testing.T) {
	t.Parallel()
	e, err := New(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := e.(*dockerExecutor); !ok {
		t.Fatalf("default backend = %T, want *dockerExecutor", e)
	}
	if _, err := New(Config{Backend: "nonsense"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
