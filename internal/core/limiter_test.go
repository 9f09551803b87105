package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestOperationLimiter_AcquireRelease(t *testing.T) {
	limiter := NewOperationLimiter(2, time.Second)
	ctx := context.Background()

	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("initial ActiveCount = %d, want 0", got)
	}

	if err := limiter.Acquire(ctx, OpMerge); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if err := limiter.Acquire(ctx, OpIngest); err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}

	status := limiter.Status()
	if status.Active != 2 || status.Available != 0 {
		t.Errorf("Status = %+v, want 2 active and 0 available", status)
	}
	if status.ByKind[OpMerge] != 1 || status.ByKind[OpIngest] != 1 {
		t.Errorf("ByKind = %v, want one merge and one ingest", status.ByKind)
	}

	limiter.Release(OpMerge)
	limiter.Release(OpIngest)

	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("after Release, ActiveCount = %d, want 0", got)
	}
	if got := limiter.Status().ByKind; len(got) != 0 {
		t.Errorf("after Release, ByKind = %v, want empty", got)
	}
}

func TestOperationLimiter_BlocksWhenFull(t *testing.T) {
	limiter := NewOperationLimiter(1, 100*time.Millisecond)
	ctx := context.Background()

	if err := limiter.Acquire(ctx, OpMerge); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	start := time.Now()
	err := limiter.Acquire(ctx, OpMerge)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTooManyOperations) {
		t.Errorf("expected ErrTooManyOperations, got %v", err)
	}
	if elapsed < 90*time.Millisecond {
		t.Errorf("timeout too fast: %v", elapsed)
	}

	limiter.Release(OpMerge)
}

func TestOperationLimiter_ConcurrentAccess(t *testing.T) {
	const maxConcurrent = 3
	const totalRequests = 10

	limiter := NewOperationLimiter(maxConcurrent, 5*time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	maxObserved := 0

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := limiter.Do(context.Background(), OpIngest, func(context.Context) error {
				mu.Lock()
				if n := limiter.ActiveCount(); n > maxObserved {
					maxObserved = n
				}
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				return nil
			})
			if err != nil {
				t.Errorf("Do failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxObserved > maxConcurrent {
		t.Errorf("exceeded max concurrent: observed %d, max %d", maxObserved, maxConcurrent)
	}
	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("final ActiveCount = %d, want 0", got)
	}
}

func TestOperationLimiter_DoPropagatesError(t *testing.T) {
	limiter := NewOperationLimiter(1, time.Second)
	want := errors.New("boom")

	if err := limiter.Do(context.Background(), OpMerge, func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("Do error = %v, want %v", err, want)
	}
	if !limiter.TryAcquire(OpMerge) {
		t.Fatal("slot was not released after Do returned an error")
	}
	limiter.Release(OpMerge)
}

func TestOperationLimiter_ContextCancellation(t *testing.T) {
	limiter := NewOperationLimiter(1, 5*time.Second)

	if err := limiter.Acquire(context.Background(), OpMerge); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- limiter.Acquire(cancelCtx, OpMerge)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Acquire did not return after context cancellation")
	}

	limiter.Release(OpMerge)
}

func TestOperationLimiter_WaitForDrain(t *testing.T) {
	limiter := NewOperationLimiter(2, time.Second)
	limiter.TryAcquire(OpMerge)

	drainDone := make(chan error, 1)
	go func() {
		drainDone <- limiter.WaitForDrain(context.Background())
	}()

	select {
	case <-drainDone:
		t.Error("WaitForDrain returned too early")
	case <-time.After(80 * time.Millisecond):
	}

	limiter.Release(OpMerge)

	select {
	case err := <-drainDone:
		if err != nil {
			t.Errorf("WaitForDrain returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("WaitForDrain did not complete after release")
	}
}

func TestOperationLimiter_DefaultValues(t *testing.T) {
	limiter := NewOperationLimiter(0, 0)
	if got := limiter.MaxConcurrent(); got != DefaultMaxConcurrentOps {
		t.Errorf("MaxConcurrent = %d, want %d", got, DefaultMaxConcurrentOps)
	}
}
