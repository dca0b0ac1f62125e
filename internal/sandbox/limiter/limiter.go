// Package limiter implements the process-wide Resource Limiter (spec §4.4):
// admission control over concurrent executions and total reserved memory,
// adapted from the channel-based semaphore idiom in the teacher's
// internal/jsruntime.Pool, generalized from "N fixed runtime instances" to
// "N concurrency slots plus a shared memory budget".
package limiter

import (
	"context"
	"fmt"
	"sync"

	"github.com/smart-mcp-proxy/sandboxrt/internal/config"
	"github.com/smart-mcp-proxy/sandboxrt/internal/errs"
)

// ErrorKind distinguishes why admission was denied.
type ErrorKind string

const (
	KindConcurrency ErrorKind = "concurrency"
	KindMemory      ErrorKind = "memory"
)

// Error is the ResourceLimitError the spec's error taxonomy names (§7).
type Error struct {
	Kind    ErrorKind
	Current int
	Max     int
}

func (e *Error) Error() string {
	return fmt.Sprintf("resource limit exceeded (%s): current=%d max=%d", e.Kind, e.Current, e.Max)
}

// ExecKind reports this error's place in the shared taxonomy (spec §7):
// both concurrency and memory admission denials are ResourceLimitError.
func (e *Error) ExecKind() errs.Kind { return errs.ResourceLimitError }

// Token is the admission receipt Acquire returns; it must be passed to
// Release on every exit path.
type Token struct {
	memoryMb int
}

// rssSampler reports the host's used/total memory in MB. ok is false when
// sampling is unsupported on the current platform.
type rssSampler func() (usedMb, totalMb int, ok bool)

// Limiter is the process-wide admission controller. Its state is guarded by
// a single mutex, making it the single point of serialization for admission
// per §5 ("Resource-Limiter state is process-wide and guarded by a mutex").
type Limiter struct {
	mu   sync.Mutex
	cond *sync.Cond

	maxConcurrent int
	current       int

	totalCapMb int
	reservedMb int

	pressureEnabled bool
	pressurePct     float64
	sampler         rssSampler
}

// New builds a Limiter from configuration.
func New(cfg *config.Config) *Limiter {
	l := &Limiter{
		maxConcurrent:   cfg.MaxConcurrent,
		totalCapMb:      cfg.TotalMemoryCapMb,
		pressureEnabled: cfg.MemoryPressureEnabled,
		pressurePct:     cfg.MemoryPressurePct,
		sampler:         sampleHostMemory,
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire blocks until both a concurrency slot and enough of the memory
// budget are available, or ctx is done. Disabled-by-default memory-pressure
// sampling (§4.4) rejects immediately, independent of ctx, when host RSS is
// at or above the configured threshold.
func (l *Limiter) Acquire(ctx context.Context, memoryMb int) (*Token, error) {
	if l.pressureEnabled {
		if used, total, ok := l.sampler(); ok && total > 0 {
			pct := float64(used) / float64(total) * 100
			if pct >= l.pressurePct {
				return nil, &Error{Kind: KindMemory, Current: used, Max: total}
			}
		}
	}

	// Wake any waiters as soon as the caller's context ends, so a
	// reject-immediate ctx.Err() can be observed rather than blocking
	// forever on cond.Wait.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.cond.Broadcast()
			l.mu.Unlock()
		case <-stop:
		}
	}()

	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		if l.current < l.maxConcurrent && l.reservedMb+memoryMb <= l.totalCapMb {
			l.current++
			l.reservedMb += memoryMb
			return &Token{memoryMb: memoryMb}, nil
		}

		if err := ctx.Err(); err != nil {
			kind := KindConcurrency
			current, max := l.current, l.maxConcurrent
			if l.reservedMb+memoryMb > l.totalCapMb {
				kind = KindMemory
				current, max = l.reservedMb, l.totalCapMb
			}
			return nil, &Error{Kind: kind, Current: current, Max: max}
		}

		l.cond.Wait()
	}
}

// Release returns a token's reservation. Must be called on every exit path
// of the execution that acquired it.
func (l *Limiter) Release(tok *Token) error {
	if tok == nil {
		return fmt.Errorf("resource limiter: release of nil token")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current <= 0 {
		return fmt.Errorf("resource limiter: release without matching acquire")
	}

	l.current--
	l.reservedMb -= tok.memoryMb
	if l.reservedMb < 0 {
		l.reservedMb = 0
	}
	l.cond.Broadcast()
	return nil
}

// Snapshot reports current admission state for observability.
type Snapshot struct {
	Current       int
	MaxConcurrent int
	ReservedMb    int
	TotalCapMb    int
}

// Stats returns a point-in-time snapshot of limiter state.
func (l *Limiter) Stats() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Current:       l.current,
		MaxConcurrent: l.maxConcurrent,
		ReservedMb:    l.reservedMb,
		TotalCapMb:    l.totalCapMb,
	}
}
