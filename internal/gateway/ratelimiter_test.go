package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/quantex-io/depositwatch/internal/models"
)

func TestRateLimiter_Name(t *testing.T) {
	rl := NewRateLimiter("blockstream", models.ChainBTC, 10)
	if rl.Name() != "blockstream" {
		t.Errorf("Name() = %q, want %q", rl.Name(), "blockstream")
	}
}

func TestRateLimiter_WaitAllowsWithinLimit(t *testing.T) {
	rl := NewRateLimiter("test-provider", models.ChainBTC, 100) // high RPS so it doesn't block

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait() error on iteration %d: %v", i, err)
		}
	}
}

func TestRateLimiter_WaitCancelledContext(t *testing.T) {
	// 1 request per second — after the first request, the second must wait.
	rl := NewRateLimiter("slow-provider", models.ChainBTC, 1)

	ctx := context.Background()
	// Consume the initial token.
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first Wait() error: %v", err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	if err := rl.Wait(cancelCtx); err == nil {
		t.Fatal("Wait() with cancelled context should return error")
	}
}

func TestRateLimiter_WaitContextTimeout(t *testing.T) {
	rl := NewRateLimiter("slow-provider", models.ChainBTC, 1)

	ctx := context.Background()
	// Consume the initial token.
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first Wait() error: %v", err)
	}

	// Short timeout — won't be enough for the next token at 1 RPS.
	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := rl.Wait(timeoutCtx); err == nil {
		t.Fatal("Wait() with expired timeout should return error")
	}
}

func TestRateLimiter_ThrottleDelaysNextWait(t *testing.T) {
	rl := NewRateLimiter("throttled-provider", models.ChainBTC, 100)

	rl.Throttle(50 * time.Millisecond)

	start := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Wait() returned after %v, want at least 50ms hold", elapsed)
	}
}

func TestRateLimiter_ThrottleNeverShortensHold(t *testing.T) {
	rl := NewRateLimiter("throttled-provider", models.ChainBTC, 100)

	rl.Throttle(60 * time.Millisecond)
	rl.Throttle(5 * time.Millisecond)

	start := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("Wait() returned after %v, want the longer 60ms hold", elapsed)
	}
}

func TestRateLimiter_ThrottleRespectsContext(t *testing.T) {
	rl := NewRateLimiter("throttled-provider", models.ChainBTC, 100)

	rl.Throttle(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err == nil {
		t.Fatal("Wait() during a long hold should fail when the context expires")
	}
}

func TestRateLimiter_ConcurrentWaiters(t *testing.T) {
	rl := NewRateLimiter("concurrent-provider", models.ChainBTC, 10)

	const goroutines = 20
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rl.Wait(ctx); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Wait() error: %v", err)
	}
}
