package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/JonMunkholm/TemplatePick/internal/logging"
)

// Pick reserves a template row for the actor. Picking a row the actor
// already holds succeeds without change. A row held by someone else yields
// PickConflict with the holder's label; it is not an error.
func (s *Service) Pick(ctx context.Context, actor Actor, formatID string, rowIndex int) (PickResult, error) {
	if _, err := s.templateRow(ctx, formatID, rowIndex); err != nil {
		return PickResult{}, err
	}

	owner, claimed, err := s.store.ClaimRow(ctx, Reservation{
		FormatID:    formatID,
		RowIndex:    rowIndex,
		HolderID:    actor.ID,
		HolderLabel: actor.Label,
		ReservedAt:  s.now(),
	})
	if err != nil {
		return PickResult{}, fmt.Errorf("claim row: %w", err)
	}

	res := PickResult{FormatID: formatID, RowIndex: rowIndex, HolderLabel: owner.HolderLabel}
	if claimed || owner.HolderID == actor.ID {
		res.Status = PickOK
		if claimed {
			logging.FromContext(ctx).Debug("row picked", "format_id", formatID, "row_index", rowIndex, "holder_id", actor.ID)
		}
		return res, nil
	}
	res.Status = PickConflict
	return res, nil
}

// Release frees a reserved row. Regular users can only release their own
// rows; administrators release any holder's row. The index is removed from
// the former holder's projection files.
func (s *Service) Release(ctx context.Context, actor Actor, formatID string, rowIndex int) error {
	holderID := actor.ID
	if actor.IsAdmin() {
		holderID = ""
	}

	prev, err := s.store.ReleaseRow(ctx, formatID, rowIndex, holderID)
	if err != nil {
		return fmt.Errorf("release format %s row %d: %w", formatID, rowIndex, err)
	}

	if err := s.dropFromProjections(ctx, prev.HolderID, formatID, []int{rowIndex}, actor); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("row released", "format_id", formatID, "row_index", rowIndex, "holder_id", prev.HolderID, "actor", actor.ID)
	return nil
}

// Assign sets the holder of a row regardless of its current state. Admin only.
func (s *Service) Assign(ctx context.Context, actor Actor, formatID string, rowIndex int, holder Holder) (Reservation, error) {
	if !actor.IsAdmin() {
		return Reservation{}, ErrForbidden
	}
	if holder.ID == "" {
		return Reservation{}, fmt.Errorf("%w: holder id is required", ErrInvalidInput)
	}
	if _, err := s.templateRow(ctx, formatID, rowIndex); err != nil {
		return Reservation{}, err
	}

	r := Reservation{
		FormatID:    formatID,
		RowIndex:    rowIndex,
		HolderID:    holder.ID,
		HolderLabel: holder.Label,
		ReservedAt:  s.now(),
	}
	prev, err := s.store.AssignRow(ctx, r)
	if err != nil {
		return Reservation{}, fmt.Errorf("assign row: %w", err)
	}

	if prev != nil && prev.HolderID != holder.ID {
		if err := s.dropFromProjections(ctx, prev.HolderID, formatID, []int{rowIndex}, actor); err != nil {
			return Reservation{}, err
		}
	}
	logging.FromContext(ctx).Info("row assigned", "format_id", formatID, "row_index", rowIndex, "holder_id", holder.ID, "actor", actor.ID)
	return r, nil
}

// ListReservations returns every reservation of a Format ordered by row.
// Holder ids are only shown to administrators.
func (s *Service) ListReservations(ctx context.Context, actor Actor, formatID string) ([]ReservationView, error) {
	reservations, err := s.store.ListReservations(ctx, formatID)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}

	views := make([]ReservationView, 0, len(reservations))
	for idx, r := range reservations {
		v := ReservationView{
			RowIndex:    idx,
			HolderLabel: r.HolderLabel,
			Mine:        r.HolderID == actor.ID,
		}
		if actor.IsAdmin() {
			v.HolderID = r.HolderID
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].RowIndex < views[j].RowIndex })
	return views, nil
}

// ListMyRows returns the row indices the actor holds in a Format.
func (s *Service) ListMyRows(ctx context.Context, actor Actor, formatID string) ([]int, error) {
	rows, err := s.store.ListHolderRows(ctx, formatID, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list holder rows: %w", err)
	}
	sort.Ints(rows)
	return rows, nil
}

// trimAttempts bounds how often a trim is retried after a concurrent save.
const trimAttempts = 3

// dropFromProjections removes indices from every projection file that
// holderID owns for formatID.
func (s *Service) dropFromProjections(ctx context.Context, holderID, formatID string, indices []int, actor Actor) error {
	if holderID == "" || len(indices) == 0 {
		return nil
	}
	files, err := s.store.ListFiles(ctx, holderID)
	if err != nil {
		return fmt.Errorf("list files of %s: %w", holderID, err)
	}

	for _, f := range files {
		if !f.IsProjection() || f.FormatID != formatID {
			continue
		}
		if err := s.dropFromProjection(ctx, f, indices, actor); err != nil {
			return err
		}
	}
	return nil
}

// dropFromProjection trims one file. When a save lands first the file is
// re-read and only indices its owner still does not hold are dropped, so a
// row the owner picked again in the meantime stays in the file.
func (s *Service) dropFromProjection(ctx context.Context, f *CreatedFile, indices []int, actor Actor) error {
	drop := make(map[int]bool, len(indices))
	for _, i := range indices {
		drop[i] = true
	}

	for attempt := 1; ; attempt++ {
		changed, err := s.trimProjection(ctx, f, func(i int) bool { return !drop[i] }, actor.Label)
		switch {
		case err == nil:
			if changed {
				logging.FromContext(ctx).Debug("projection trimmed", "file_id", f.ID, "format_id", f.FormatID, "rows", len(f.PickedRowIndices))
			}
			return nil
		case errors.Is(err, ErrNotFound):
			return nil
		case !errors.Is(err, ErrStale) || attempt == trimAttempts:
			return fmt.Errorf("update projection %s: %w", f.ID, err)
		}

		id := f.ID
		f, err = s.store.GetFile(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get file %s: %w", id, err)
		}
		held, err := s.store.ListHolderRows(ctx, f.FormatID, f.OwnerID)
		if err != nil {
			return fmt.Errorf("list holder rows: %w", err)
		}
		for _, i := range held {
			delete(drop, i)
		}
	}
}

// trimProjection rewrites f keeping only the picked indices keep accepts and
// reports whether anything was dropped. The write is conditional on the
// version f was read at and fails with ErrStale when a newer save exists.
// A non-empty editor is recorded as the last editor.
func (s *Service) trimProjection(ctx context.Context, f *CreatedFile, keep func(int) bool, editor string) (bool, error) {
	if !f.IsProjection() {
		return false, nil
	}
	kept := make([]int, 0, len(f.PickedRowIndices))
	for _, i := range f.PickedRowIndices {
		if keep(i) {
			kept = append(kept, i)
		}
	}
	if len(kept) == len(f.PickedRowIndices) {
		return false, nil
	}

	next := *f
	next.PickedRowIndices = kept
	next.Rows = nil
	if editor != "" {
		next.LastEditedAt = s.now()
		next.LastEditedBy = editor
	}
	if err := s.store.SaveFile(ctx, FileSave{File: &next, IfVersion: f.Version}); err != nil {
		return false, err
	}
	*f = next
	return true, nil
}

// backedElsewhere returns the indices that another projection file of
// ownerID (other than excludeFileID) still picks in formatID.
func (s *Service) backedElsewhere(ctx context.Context, ownerID, formatID, excludeFileID string) (map[int]bool, error) {
	files, err := s.store.ListFiles(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list files of %s: %w", ownerID, err)
	}
	backed := make(map[int]bool)
	for _, f := range files {
		if f.ID == excludeFileID || !f.IsProjection() || f.FormatID != formatID {
			continue
		}
		for _, i := range f.PickedRowIndices {
			backed[i] = true
		}
	}
	return backed, nil
}

// releaseRows frees each index held by holderID, ignoring rows that are
// already gone. It returns the indices actually released.
func (s *Service) releaseRows(ctx context.Context, formatID, holderID string, indices []int) ([]int, error) {
	var released []int
	for _, i := range indices {
		_, err := s.store.ReleaseRow(ctx, formatID, i, holderID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return released, fmt.Errorf("release row %d: %w", i, err)
		}
		released = append(released, i)
	}
	return released, nil
}
