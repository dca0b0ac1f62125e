//go:build linux || darwin

package subprocrunner

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// runWithMemoryLimit starts and waits for cmd, capping its address-space
// size (RLIMIT_AS) for the duration of the child's lifetime. os/exec has no
// per-child rlimit hook; a forked child inherits whatever RLIMIT_AS is in
// effect on this process at fork time, so the limit is lowered immediately
// before Start and restored immediately after it returns. The race window
// between Start returning and the restore is inherent to this approach —
// the teacher's Docker isolation manager sidesteps it entirely via
// --memory, but there is no container boundary here to lean on. A cap of 0
// or less runs the command with whatever limit the process already has.
func runWithMemoryLimit(cmd *exec.Cmd, memoryLimitMb int) error {
	if memoryLimitMb <= 0 {
		return run(cmd)
	}

	var original unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_AS, &original); err != nil {
		return run(cmd)
	}

	limitBytes := uint64(memoryLimitMb) * 1024 * 1024
	capped := unix.Rlimit{Cur: limitBytes, Max: original.Max}
	if original.Max != unix.RLIM_INFINITY && limitBytes > original.Max {
		capped.Cur = original.Max
	}

	if err := unix.Setrlimit(unix.RLIMIT_AS, &capped); err != nil {
		return run(cmd)
	}

	err := cmd.Start()
	_ = unix.Setrlimit(unix.RLIMIT_AS, &original)
	if err != nil {
		return err
	}
	return cmd.Wait()
}

func run(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Wait()
}

// isOOMSignal reports whether runErr represents a child killed by a signal
// a glibc allocator typically raises when RLIMIT_AS (the memory cap
// runWithMemoryLimit installs) is exhausted, rather than a clean non-zero
// exit or ENOMEM return.
func isOOMSignal(runErr error) bool {
	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return false
	}
	switch status.Signal() {
	case syscall.SIGSEGV, syscall.SIGABRT, syscall.SIGBUS, syscall.SIGKILL:
		return true
	default:
		return false
	}
}
