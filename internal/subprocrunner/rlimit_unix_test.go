//go:build linux || darwin

package subprocrunner

import (
	"context"
	"os/exec"
	"testing"
)

func TestIsOOMSignalDetectsSignalKill(t *testing.T) {
	cmd := exec.CommandContext(context.Background(), "sh", "-c", "kill -SEGV $$")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected the self-signaled child to return a non-nil error")
	}
	if !isOOMSignal(err) {
		t.Errorf("expected isOOMSignal to recognize a SIGSEGV exit, got false for err=%v", err)
	}
}

func TestIsOOMSignalIgnoresCleanNonZeroExit(t *testing.T) {
	cmd := exec.CommandContext(context.Background(), "sh", "-c", "exit 1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected a non-nil error for exit 1")
	}
	if isOOMSignal(err) {
		t.Errorf("expected isOOMSignal to ignore a clean non-zero exit, got true for err=%v", err)
	}
}
