package core

// scheduler.go provides background maintenance of reservation state.
//
// The reconcile job runs periodically to:
//  1. Release reservations on template indices that no longer exist
//  2. Trim projection files that reference released or vanished rows
//
// The scheduler is long-running and context-aware for graceful shutdown. A
// pass holds an operation slot, so shutdown waits for it like any merge.
// It logs progress and errors but does not fail the application if a
// single pass fails.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultReconcileInterval is used when no interval is configured.
const DefaultReconcileInterval = 15 * time.Minute

// ReconcileStats summarizes one reconcile pass.
type ReconcileStats struct {
	Formats            int
	OrphansReleased    int64
	ProjectionsFixed   int
	ProjectionsSkipped int
}

// StartReconcileScheduler runs a reconcile pass over every Format
// immediately, then every interval, until ctx is cancelled.
func (s *Service) StartReconcileScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	slog.Info("reconcile scheduler started", "interval", interval.String())

	s.runReconcileJob(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconcile scheduler stopped")
			return
		case <-ticker.C:
			s.runReconcileJob(ctx)
		}
	}
}

// runReconcileJob reconciles every Format and reports whether it ran. A pass
// is skipped when every operation slot is busy.
func (s *Service) runReconcileJob(ctx context.Context) bool {
	if !s.limiter.TryAcquire(OpReconcile) {
		slog.Warn("reconcile: skipped, all operation slots are busy", "max_concurrent", s.limiter.MaxConcurrent())
		return false
	}
	defer s.limiter.Release(OpReconcile)

	start := time.Now()

	formats, err := s.store.ListFormats(ctx)
	if err != nil {
		slog.Error("reconcile: list formats failed", "error", err)
		return true
	}

	var total ReconcileStats
	for _, f := range formats {
		id := f.ID
		stats, err := s.Reconcile(ctx, id)
		if err != nil {
			slog.Error("reconcile failed", "format_id", id, "error", err)
			continue
		}
		total.Formats++
		total.OrphansReleased += stats.OrphansReleased
		total.ProjectionsFixed += stats.ProjectionsFixed
		total.ProjectionsSkipped += stats.ProjectionsSkipped
	}

	slog.Info("reconcile job completed",
		"formats", total.Formats,
		"orphans_released", total.OrphansReleased,
		"projections_fixed", total.ProjectionsFixed,
		"projections_skipped", total.ProjectionsSkipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return true
}

// Reconcile repairs one Format: reservations beyond the template are
// released and projection files keep only indices their owner still holds.
func (s *Service) Reconcile(ctx context.Context, formatID string) (ReconcileStats, error) {
	stats := ReconcileStats{Formats: 1}

	count, err := s.store.CountTemplateRows(ctx, formatID)
	if err != nil {
		return stats, fmt.Errorf("count template rows: %w", err)
	}
	released, err := s.store.ReleaseBeyond(ctx, formatID, count)
	if err != nil {
		return stats, fmt.Errorf("release orphaned reservations: %w", err)
	}
	stats.OrphansReleased = released

	// Files are listed before reservations. A save that lands after the
	// listing bumps the file's version, so the conditional trim below is
	// refused instead of dropping rows that save just claimed.
	files, err := s.store.ListFilesByFormat(ctx, formatID)
	if err != nil {
		return stats, fmt.Errorf("list files: %w", err)
	}
	reservations, err := s.store.ListReservations(ctx, formatID)
	if err != nil {
		return stats, fmt.Errorf("list reservations: %w", err)
	}

	for _, f := range files {
		owner := f.OwnerID
		fixed, err := s.trimProjection(ctx, f, func(i int) bool {
			r, ok := reservations[i]
			return ok && r.HolderID == owner && i < count
		}, "")
		switch {
		case errors.Is(err, ErrStale), errors.Is(err, ErrNotFound):
			// Changed or deleted since the listing; the next pass sees it.
			stats.ProjectionsSkipped++
			continue
		case err != nil:
			return stats, fmt.Errorf("update projection %s: %w", f.ID, err)
		}
		if fixed {
			stats.ProjectionsFixed++
		}
	}

	return stats, nil
}
