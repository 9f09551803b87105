package core

import (
	"context"
	"testing"
	"time"
)

// formatListStore answers ListFormats only; any other call panics on the
// nil embedded Store.
type formatListStore struct {
	Store
	onList func()
}

func (s formatListStore) ListFormats(ctx context.Context) ([]Format, error) {
	if s.onList != nil {
		s.onList()
	}
	return nil, nil
}

func TestRunReconcileJob_SkipsWhenBusy(t *testing.T) {
	s := &Service{limiter: NewOperationLimiter(1, time.Second)}
	if err := s.limiter.Acquire(context.Background(), OpMerge); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// The nil store would panic if the pass ran.
	if s.runReconcileJob(context.Background()) {
		t.Fatal("runReconcileJob ran with no free slot")
	}

	s.limiter.Release(OpMerge)
	if got := s.limiter.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
}

func TestRunReconcileJob_HoldsSlot(t *testing.T) {
	s := &Service{limiter: NewOperationLimiter(2, time.Second)}
	var during LimiterStatus
	s.store = formatListStore{onList: func() { during = s.limiter.Status() }}

	if !s.runReconcileJob(context.Background()) {
		t.Fatal("runReconcileJob skipped with free slots")
	}
	if during.ByKind[OpReconcile] != 1 {
		t.Errorf("status during pass = %+v, want one reconcile slot", during)
	}
	if got := s.limiter.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount after pass = %d, want 0", got)
	}
}
