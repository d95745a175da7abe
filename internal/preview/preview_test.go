package preview

import (
	"context"
	"testing"
	"time"
)

func TestRestartStartsAndReplacesChild(t *testing.T) {
	mgr := NewManager(Config{Command: "sleep 30", Dir: t.TempDir(), Port: 3000}, nil)

	pid1, err := mgr.Restart(context.Background())
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if pid1 == 0 {
		t.Fatal("expected non-zero pid")
	}
	if got := mgr.State(); got != StateRunning {
		t.Fatalf("expected running, got %s", got)
	}

	pid2, err := mgr.Restart(context.Background())
	if err != nil {
		t.Fatalf("restart again: %v", err)
	}
	if pid2 == pid1 {
		t.Fatal("expected a new child process")
	}

	if err := mgr.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := mgr.State(); got != StateNone {
		t.Fatalf("expected none after stop, got %s", got)
	}
}

func TestStopOnAlreadyExitedChildIsNoop(t *testing.T) {
	mgr := NewManager(Config{Command: "true", Dir: t.TempDir(), Port: 3000}, nil)
	if _, err := mgr.Restart(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := mgr.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
