package core

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/TemplatePick/internal/logging"
)

// Ingest normalizes raw attendance rows and commits them in one store
// transaction. Invalid rows are counted and skipped; the rest of the batch
// continues. Admin only.
func (s *Service) Ingest(ctx context.Context, actor Actor, raw []map[string]string) (*IngestResult, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if len(raw) > s.maxIngestRows {
		return nil, fmt.Errorf("%w: %d rows exceeds the limit of %d", ErrInvalidInput, len(raw), s.maxIngestRows)
	}

	var result *IngestResult
	err := s.limiter.Do(ctx, OpIngest, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.ingestTimeout)
		defer cancel()

		var err error
		result, err = s.ingest(ctx, raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) ingest(ctx context.Context, raw []map[string]string) (*IngestResult, error) {
	start := time.Now()

	rows, rowErrs := normalizeIngestRows(raw)

	existing, err := s.store.GetEntities(ctx, entityIDs(rows))
	if err != nil {
		return nil, fmt.Errorf("resolve entities: %w", err)
	}

	plan := planIngest(rows, existing, s.taxonomy, s.now())
	plan.Result.ErrorCount = len(rowErrs)
	plan.Result.Errors = rowErrs

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ingest cancelled: %w", err)
	}
	if len(plan.Entities) > 0 || len(plan.Records) > 0 {
		if err := s.store.CommitIngest(ctx, plan.Entities, plan.Records, s.batchSize); err != nil {
			return nil, fmt.Errorf("commit ingest: %w", err)
		}
	}

	logging.FromContext(ctx).Info("ingest committed",
		"rows", len(raw),
		"merged", plan.Result.MergedCount,
		"errors", plan.Result.ErrorCount,
		"entities_created", plan.Result.EntitiesCreated,
		"entities_updated", plan.Result.EntitiesUpdated,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &plan.Result, nil
}

// Attendance returns the stored attendance of one entity.
func (s *Service) Attendance(ctx context.Context, entityID string) ([]AttendanceRecord, error) {
	recs, err := s.store.GetAttendance(ctx, normalizeEntityID(entityID))
	if err != nil {
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return recs, nil
}
