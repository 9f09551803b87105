package core

// limiter.go bounds how many merges and ingests run at once.
//
// Both operations hold their whole working set in memory before committing,
// so they share one semaphore. When all slots are taken a caller waits up to
// maxWait and then fails with ErrTooManyOperations. WaitForDrain lets
// shutdown wait for in-flight commits.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyOperations is returned when no slot frees up within the wait
// timeout. Clients should retry after a short delay.
var ErrTooManyOperations = errors.New("too many concurrent operations, please try again later")

// DefaultMaxConcurrentOps is the default limit for parallel merges and ingests.
const DefaultMaxConcurrentOps = 4

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// OpKind names the operation holding a slot.
type OpKind string

const (
	OpMerge     OpKind = "merge"
	OpIngest    OpKind = "ingest"
	OpReconcile OpKind = "reconcile"
)

// OperationLimiter is a counting semaphore with per-kind bookkeeping.
type OperationLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active map[OpKind]int
}

// NewOperationLimiter creates a limiter allowing maxConcurrent operations.
func NewOperationLimiter(maxConcurrent int, maxWait time.Duration) *OperationLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentOps
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &OperationLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		active:    make(map[OpKind]int),
	}
}

// Acquire waits for a slot. The caller MUST call Release(kind) after a nil return.
func (l *OperationLimiter) Acquire(ctx context.Context, kind OpKind) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active[kind]++
		l.mu.Unlock()
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyOperations
	}
}

// TryAcquire takes a slot without blocking. Background jobs use it to skip
// a run instead of queueing behind user operations.
func (l *OperationLimiter) TryAcquire(kind OpKind) bool {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active[kind]++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release returns a slot taken by Acquire or TryAcquire.
func (l *OperationLimiter) Release(kind OpKind) {
	l.mu.Lock()
	if l.active[kind] > 0 {
		l.active[kind]--
	}
	l.mu.Unlock()
	<-l.semaphore
}

// Do runs fn while holding a slot.
func (l *OperationLimiter) Do(ctx context.Context, kind OpKind, fn func(context.Context) error) error {
	if err := l.Acquire(ctx, kind); err != nil {
		return err
	}
	defer l.Release(kind)
	return fn(ctx)
}

// ActiveCount returns the number of operations currently holding a slot.
func (l *OperationLimiter) ActiveCount() int {
	return len(l.semaphore)
}

// MaxConcurrent returns the slot count.
func (l *OperationLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// WaitForDrain blocks until no operation holds a slot or ctx ends.
func (l *OperationLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LimiterStatus is a snapshot of the limiter for health output.
type LimiterStatus struct {
	Active        int            `json:"active"`
	Available     int            `json:"available"`
	MaxConcurrent int            `json:"maxConcurrent"`
	ByKind        map[OpKind]int `json:"byKind"`
}

// Status returns the current limiter state.
func (l *OperationLimiter) Status() LimiterStatus {
	l.mu.RLock()
	byKind := make(map[OpKind]int, len(l.active))
	for k, n := range l.active {
		if n > 0 {
			byKind[k] = n
		}
	}
	l.mu.RUnlock()

	active := len(l.semaphore)
	return LimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - active,
		MaxConcurrent: cap(l.semaphore),
		ByKind:        byKind,
	}
}
