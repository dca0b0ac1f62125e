package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smart-mcp-proxy/sandboxrt/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		MaxConcurrent:    2,
		TotalMemoryCapMb: 1024,
	}
}

func TestAcquireReleaseBasic(t *testing.T) {
	l := New(testConfig())
	ctx := context.Background()

	tok, err := l.Acquire(ctx, 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := l.Stats()
	if stats.Current != 1 || stats.ReservedMb != 256 {
		t.Errorf("unexpected stats after acquire: %+v", stats)
	}

	if err := l.Release(tok); err != nil {
		t.Fatalf("unexpected release error: %v", err)
	}

	stats = l.Stats()
	if stats.Current != 0 || stats.ReservedMb != 0 {
		t.Errorf("unexpected stats after release: %+v", stats)
	}
}

func TestAcquireRejectsBeyondConcurrency(t *testing.T) {
	l := New(testConfig())

	tok1, err := l.Acquire(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tok2, err := l.Acquire(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := l.Acquire(ctx, 10); err == nil {
		t.Fatal("expected admission denial at max_concurrent")
	} else if limErr, ok := err.(*Error); !ok || limErr.Kind != KindConcurrency {
		t.Errorf("expected KindConcurrency, got %#v", err)
	}

	l.Release(tok1)
	l.Release(tok2)
}

func TestAcquireRejectsBeyondMemoryCap(t *testing.T) {
	cfg := &config.Config{MaxConcurrent: 10, TotalMemoryCapMb: 100}
	l := New(cfg)

	tok, err := l.Acquire(context.Background(), 90)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := l.Acquire(ctx, 50); err == nil {
		t.Fatal("expected admission denial at total_memory_cap")
	} else if limErr, ok := err.(*Error); !ok || limErr.Kind != KindMemory {
		t.Errorf("expected KindMemory, got %#v", err)
	}

	l.Release(tok)
}

func TestReleaseWakesWaiter(t *testing.T) {
	cfg := &config.Config{MaxConcurrent: 1, TotalMemoryCapMb: 1024}
	l := New(cfg)

	tok1, err := l.Acquire(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var acquireErr error
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, acquireErr = l.Acquire(ctx, 10)
	}()

	time.Sleep(20 * time.Millisecond)
	l.Release(tok1)
	wg.Wait()

	if acquireErr != nil {
		t.Errorf("expected waiter to acquire after release, got %v", acquireErr)
	}
}

func TestNeverExceedsMaxConcurrent(t *testing.T) {
	cfg := &config.Config{MaxConcurrent: 3, TotalMemoryCapMb: 10000}
	l := New(cfg)

	var mu sync.Mutex
	maxObserved := 0
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			tok, err := l.Acquire(ctx, 1)
			if err != nil {
				return
			}
			mu.Lock()
			if c := l.Stats().Current; c > maxObserved {
				maxObserved = c
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			l.Release(tok)
		}()
	}
	wg.Wait()

	if maxObserved > 3 {
		t.Errorf("expected never more than 3 concurrent tokens, observed %d", maxObserved)
	}
}
