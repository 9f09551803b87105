package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/TemplatePick/internal/logging"
)

// MergeRequest selects the files to merge, in merge order.
type MergeRequest struct {
	FileIDs []string `json:"fileIds"`
	Name    string   `json:"name"`
}

// MergeResult is a committed merge.
type MergeResult struct {
	File   *CreatedFile `json:"file"`
	Record *MergeRecord `json:"record"`
}

// MergeFiles merges the selected files into a new CreatedFile. All files
// must share one Format. Any duplicate, dropdown or field error refuses the
// merge with a *MergeError and nothing is written.
func (s *Service) MergeFiles(ctx context.Context, actor Actor, req MergeRequest) (*MergeResult, error) {
	if len(req.FileIDs) == 0 {
		return nil, fmt.Errorf("%w: no files selected", ErrInvalidInput)
	}
	seen := make(map[string]bool, len(req.FileIDs))
	for _, id := range req.FileIDs {
		if seen[id] {
			return nil, fmt.Errorf("%w: file %s selected twice", ErrInvalidInput, id)
		}
		seen[id] = true
	}

	var result *MergeResult
	err := s.limiter.Do(ctx, OpMerge, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.mergeTimeout)
		defer cancel()

		var err error
		result, err = s.merge(ctx, actor, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) merge(ctx context.Context, actor Actor, req MergeRequest) (*MergeResult, error) {
	start := time.Now()

	sources, err := s.fetchSources(ctx, actor, req.FileIDs)
	if err != nil {
		return nil, err
	}

	formatID := sources[0].FormatID
	if formatID == "" {
		return nil, fmt.Errorf("%w: file %s has no format", ErrInvalidInput, sources[0].ID)
	}
	for _, src := range sources[1:] {
		if src.FormatID != formatID {
			return nil, fmt.Errorf("%w: files use different formats (%s, %s)", ErrInvalidInput, formatID, src.FormatID)
		}
	}
	f, err := s.GetFormat(ctx, formatID)
	if err != nil {
		return nil, err
	}

	inputs := make([]MergeInput, len(sources))
	for i, src := range sources {
		inputs[i] = MergeInput{FileID: src.ID, Rows: src.Rows}
	}

	rec := Merge(f, inputs, s.taxonomy)
	if err := rec.Err(); err != nil {
		logging.FromContext(ctx).Info("merge refused",
			"format_id", formatID,
			"files", len(sources),
			"duplicates", len(rec.Duplicates),
			"dropdown_errors", len(rec.Dropdowns),
			"field_errors", len(rec.FieldErrors),
		)
		return nil, err
	}

	maxCount := 0
	var bump []string
	for _, src := range sources {
		if src.MergeCount > maxCount {
			maxCount = src.MergeCount
		}
		if src.IsMerged {
			bump = append(bump, src.ID)
		}
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Merged " + f.Name
	}
	now := s.now()
	out := &CreatedFile{
		ID:                s.newID(),
		Name:              name,
		OwnerID:           actor.ID,
		OwnerLabel:        actor.Label,
		FormatID:          formatID,
		Rows:              rec.OutputRows,
		IsMerged:          true,
		MergedFromFileIDs: append([]string{}, req.FileIDs...),
		MergeCount:        maxCount + 1,
		CreatedAt:         now,
		LastEditedAt:      now,
		LastEditedBy:      actor.Label,
	}

	// A cancelled merge must not leave a partial product behind.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("merge cancelled: %w", err)
	}
	if err := s.store.CommitMerge(ctx, out, bump); err != nil {
		return nil, fmt.Errorf("commit merge: %w", err)
	}

	logging.FromContext(ctx).Info("merge committed",
		"file_id", out.ID,
		"format_id", formatID,
		"files", len(sources),
		"rows", len(rec.OutputRows),
		"merge_count", out.MergeCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &MergeResult{File: out, Record: rec}, nil
}

// fetchSources loads and resolves the selected files in parallel, keeping
// selection order.
func (s *Service) fetchSources(ctx context.Context, actor Actor, ids []string) ([]*CreatedFile, error) {
	sources := make([]*CreatedFile, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchParallelism)
	for i, id := range ids {
		g.Go(func() error {
			file, err := s.ownedFile(gctx, actor, id)
			if err != nil {
				return err
			}
			if err := s.resolveRows(gctx, file); err != nil {
				return err
			}
			sources[i] = file
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sources, nil
}
