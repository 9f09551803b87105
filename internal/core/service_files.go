package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/TemplatePick/internal/logging"
)

// SaveFileRequest creates (empty FileID) or replaces a CreatedFile.
//
// With FormatID and PickedRowIndices set the file is a projection of those
// template rows; Rows, when given, must line up with PickedRowIndices and
// carries the user's edits. With FormatID only, Rows is validated against
// the Format. Without FormatID, Rows is stored as given.
type SaveFileRequest struct {
	FileID           string `json:"-"`
	Name             string `json:"name"`
	FormatID         string `json:"formatId,omitempty"`
	Rows             []Row  `json:"rows"`
	PickedRowIndices []int  `json:"pickedRowIndices,omitempty"`
}

// SaveResult reports what a save changed.
type SaveResult struct {
	File        *CreatedFile            `json:"file"`
	Corrections []LockedColumnViolation `json:"corrections,omitempty"`
	Picked      []int                   `json:"picked,omitempty"`
	Released    []int                   `json:"released,omitempty"`
}

// PatchCellRequest sets one cell of a saved file. RowIndex is the row's
// position in the file.
type PatchCellRequest struct {
	RowIndex int    `json:"rowIndex"`
	Column   string `json:"column"`
	Value    Value  `json:"value"`
}

// SaveFile validates and writes a file. For projections it reserves newly
// picked rows, writes edits of editable columns back to the template and
// releases rows the file no longer picks. Rows reserved by someone else
// fail the whole save with a *ConflictError and nothing changes.
func (s *Service) SaveFile(ctx context.Context, actor Actor, req SaveFileRequest) (*SaveResult, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}

	now := s.now()
	file := &CreatedFile{
		ID:         req.FileID,
		OwnerID:    actor.ID,
		OwnerLabel: actor.Label,
		CreatedAt:  now,
	}
	var previous *CreatedFile
	if req.FileID != "" {
		existing, err := s.ownedFile(ctx, actor, req.FileID)
		if err != nil {
			return nil, err
		}
		previous = existing
		cp := *existing
		file = &cp
	} else {
		file.ID = s.newID()
	}
	file.Name = strings.TrimSpace(req.Name)
	file.FormatID = req.FormatID
	file.PickedRowIndices = nil
	file.LastEditedAt = now
	file.LastEditedBy = actor.Label

	if req.FormatID == "" {
		if req.PickedRowIndices != nil {
			return nil, fmt.Errorf("%w: picked rows need a format", ErrInvalidInput)
		}
		file.Rows = req.Rows
		if err := s.store.SaveFile(ctx, FileSave{File: file}); err != nil {
			return nil, fmt.Errorf("save file: %w", err)
		}
		released, err := s.releasePrevious(ctx, previous)
		if err != nil {
			return nil, err
		}
		return &SaveResult{File: file, Released: released}, nil
	}

	f, err := s.GetFormat(ctx, req.FormatID)
	if err != nil {
		return nil, err
	}

	if req.PickedRowIndices == nil {
		results, err := ValidateRows(f, req.Rows, nil)
		if err != nil {
			return nil, err
		}
		file.Rows = make([]Row, len(results))
		for i, res := range results {
			file.Rows[i] = res.Row
		}
		if err := s.store.SaveFile(ctx, FileSave{File: file}); err != nil {
			return nil, fmt.Errorf("save file: %w", err)
		}
		released, err := s.releasePrevious(ctx, previous)
		if err != nil {
			return nil, err
		}
		return &SaveResult{File: file, Released: released}, nil
	}

	return s.saveProjection(ctx, actor, f, file, previous, req)
}

func (s *Service) saveProjection(ctx context.Context, actor Actor, f *Format, file, previous *CreatedFile, req SaveFileRequest) (*SaveResult, error) {
	picked := req.PickedRowIndices
	seen := make(map[int]bool, len(picked))
	for _, i := range picked {
		if seen[i] {
			return nil, fmt.Errorf("%w: row %d picked twice", ErrInvalidInput, i)
		}
		seen[i] = true
	}
	if len(req.Rows) != 0 && len(req.Rows) != len(picked) {
		return nil, fmt.Errorf("%w: %d rows for %d picked indices", ErrInvalidInput, len(req.Rows), len(picked))
	}

	templates, err := s.store.GetTemplateRows(ctx, f.ID, picked)
	if err != nil {
		return nil, fmt.Errorf("get template rows: %w", err)
	}
	canonicals := make([]Row, len(picked))
	for pos, i := range picked {
		row, ok := templates[i]
		if !ok {
			return nil, fmt.Errorf("format %s row %d: %w", f.ID, i, ErrNotFound)
		}
		canonicals[pos] = row
	}

	// Validate before touching any reservation.
	submitted := req.Rows
	if len(submitted) == 0 {
		submitted = canonicals
	}
	results, err := ValidateRows(f, submitted, canonicals)
	if err != nil {
		return nil, err
	}

	result := &SaveResult{File: file}
	patches := make(map[int]Row)
	for pos, res := range results {
		idx := picked[pos]
		for _, c := range res.Corrections {
			c.RowIndex = idx
			result.Corrections = append(result.Corrections, c)
		}
		if !rowsEqual(f, res.Row, canonicals[pos]) {
			patches[idx] = res.Row
		}
	}

	held, err := s.store.ListHolderRows(ctx, f.ID, file.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("list holder rows: %w", err)
	}
	holds := make(map[int]bool, len(held))
	for _, i := range held {
		holds[i] = true
	}

	// Reserve new rows; undo on the first conflict.
	var claimed []int
	var conflicts []Conflict
	for _, i := range picked {
		if holds[i] {
			continue
		}
		owner, ok, err := s.store.ClaimRow(ctx, Reservation{
			FormatID:    f.ID,
			RowIndex:    i,
			HolderID:    file.OwnerID,
			HolderLabel: file.OwnerLabel,
			ReservedAt:  s.now(),
		})
		if err != nil {
			s.rollbackClaims(ctx, f.ID, file.OwnerID, claimed)
			return nil, fmt.Errorf("claim row %d: %w", i, err)
		}
		if ok {
			claimed = append(claimed, i)
			continue
		}
		if owner.HolderID != file.OwnerID {
			conflicts = append(conflicts, Conflict{FormatID: f.ID, RowIndex: i, HolderLabel: owner.HolderLabel})
		}
	}
	if len(conflicts) > 0 {
		s.rollbackClaims(ctx, f.ID, file.OwnerID, claimed)
		return nil, &ConflictError{Conflicts: conflicts}
	}

	file.PickedRowIndices = append([]int{}, picked...)
	file.Rows = nil
	if err := s.store.SaveFile(ctx, FileSave{File: file, TemplateRows: patches}); err != nil {
		s.rollbackClaims(ctx, f.ID, file.OwnerID, claimed)
		return nil, fmt.Errorf("save file: %w", err)
	}
	result.Picked = claimed

	if previous != nil && previous.IsProjection() {
		var removed []int
		for _, i := range previous.PickedRowIndices {
			if previous.FormatID != f.ID || !seen[i] {
				removed = append(removed, i)
			}
		}
		released, err := s.releaseUnbacked(ctx, previous, removed)
		if err != nil {
			return nil, err
		}
		result.Released = released
	}

	file.Rows = make([]Row, len(results))
	for pos, res := range results {
		file.Rows[pos] = res.Row
	}

	logging.FromContext(ctx).Info("file saved",
		"file_id", file.ID,
		"format_id", f.ID,
		"rows", len(picked),
		"picked", len(claimed),
		"released", len(result.Released),
		"corrections", len(result.Corrections),
	)
	return result, nil
}

func (s *Service) rollbackClaims(ctx context.Context, formatID, holderID string, claimed []int) {
	if len(claimed) == 0 {
		return
	}
	if _, err := s.releaseRows(ctx, formatID, holderID, claimed); err != nil {
		logging.FromContext(ctx).Error("rollback of claimed rows failed", "format_id", formatID, "holder_id", holderID, "error", err)
	}
}

// releasePrevious releases the rows a projection file picked before it was
// replaced by a file that picks none.
func (s *Service) releasePrevious(ctx context.Context, previous *CreatedFile) ([]int, error) {
	if previous == nil || !previous.IsProjection() {
		return nil, nil
	}
	return s.releaseUnbacked(ctx, previous, previous.PickedRowIndices)
}

// releaseUnbacked releases the given indices of file's format unless another
// projection file of the same owner still picks them.
func (s *Service) releaseUnbacked(ctx context.Context, file *CreatedFile, indices []int) ([]int, error) {
	if len(indices) == 0 {
		return nil, nil
	}
	backed, err := s.backedElsewhere(ctx, file.OwnerID, file.FormatID, file.ID)
	if err != nil {
		return nil, err
	}
	var free []int
	for _, i := range indices {
		if !backed[i] {
			free = append(free, i)
		}
	}
	return s.releaseRows(ctx, file.FormatID, file.OwnerID, free)
}

// GetFile returns a file with projection rows resolved from the template.
func (s *Service) GetFile(ctx context.Context, actor Actor, fileID string) (*CreatedFile, error) {
	file, err := s.ownedFile(ctx, actor, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.resolveRows(ctx, file); err != nil {
		return nil, err
	}
	return file, nil
}

// ListFiles returns the actor's files, or every file when all is set by an
// administrator. Projection rows are not resolved.
func (s *Service) ListFiles(ctx context.Context, actor Actor, all bool) ([]*CreatedFile, error) {
	owner := actor.ID
	if all {
		if !actor.IsAdmin() {
			return nil, ErrForbidden
		}
		owner = ""
	}
	files, err := s.store.ListFiles(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].CreatedAt.Before(files[j].CreatedAt) })
	return files, nil
}

// DeleteFile removes a file and releases its reservations unless another
// projection file of the owner still picks them.
func (s *Service) DeleteFile(ctx context.Context, actor Actor, fileID string) ([]int, error) {
	file, err := s.ownedFile(ctx, actor, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteFile(ctx, fileID); err != nil {
		return nil, fmt.Errorf("delete file %s: %w", fileID, err)
	}

	var released []int
	if file.IsProjection() {
		released, err = s.releaseUnbacked(ctx, file, file.PickedRowIndices)
		if err != nil {
			return nil, err
		}
	}
	logging.FromContext(ctx).Info("file deleted", "file_id", fileID, "released", len(released), "actor", actor.ID)
	return released, nil
}

// PatchCell sets one cell of a saved file. On a projection the change is
// written to the template row; regular users may only change editable
// columns there.
func (s *Service) PatchCell(ctx context.Context, actor Actor, fileID string, req PatchCellRequest) (*CreatedFile, error) {
	file, err := s.ownedFile(ctx, actor, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.resolveRows(ctx, file); err != nil {
		return nil, err
	}
	if req.RowIndex < 0 || req.RowIndex >= len(file.Rows) {
		return nil, fmt.Errorf("file %s row %d: %w", fileID, req.RowIndex, ErrNotFound)
	}

	value := req.Value
	column := req.Column
	if file.FormatID != "" {
		f, err := s.GetFormat(ctx, file.FormatID)
		if err != nil {
			return nil, err
		}
		col, ok := f.Column(req.Column)
		if !ok {
			return nil, fmt.Errorf("%w: unknown column %q", ErrInvalidInput, req.Column)
		}
		ref := SourceRowRef{FileID: fileID, RowIndex: req.RowIndex}
		if file.IsProjection() && !col.EditableByUser && !actor.IsAdmin() {
			return nil, &ValidationError{Rows: []RowFieldError{{Row: ref, Errors: []FieldError{{
				Column:  col.Name,
				Value:   req.Value.String(),
				Code:    CodeLockedColumn,
				Message: "column is not editable",
			}}}}}
		}
		nv, ferr := ValidateCell(req.Value, col)
		if ferr != nil {
			verr := &ValidationError{}
			dropdowns, other := splitDropdowns(f, ref, []FieldError{*ferr})
			verr.Dropdowns = dropdowns
			if len(other) > 0 {
				verr.Rows = []RowFieldError{{Row: ref, Errors: other}}
			}
			return nil, verr
		}
		value = nv
		column = col.Name
	}

	row := file.Rows[req.RowIndex].Clone()
	if row == nil {
		row = make(Row)
	}
	row[column] = value
	file.Rows[req.RowIndex] = row
	file.LastEditedAt = s.now()
	file.LastEditedBy = actor.Label

	save := FileSave{File: file}
	if file.IsProjection() {
		idx := file.PickedRowIndices[req.RowIndex]
		save.TemplateRows = map[int]Row{idx: row}
		resolved := file.Rows
		stored := *file
		stored.Rows = nil
		save.File = &stored
		if err := s.store.SaveFile(ctx, save); err != nil {
			return nil, fmt.Errorf("save file: %w", err)
		}
		file.Version = stored.Version
		file.Rows = resolved
		return file, nil
	}

	if err := s.store.SaveFile(ctx, save); err != nil {
		return nil, fmt.Errorf("save file: %w", err)
	}
	return file, nil
}

// ownedFile loads a file the actor may access.
func (s *Service) ownedFile(ctx context.Context, actor Actor, fileID string) (*CreatedFile, error) {
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", fileID, err)
	}
	if file.OwnerID != actor.ID && !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return file, nil
}

// resolveRows fills a projection's Rows from the template. Indices that no
// longer exist are skipped.
func (s *Service) resolveRows(ctx context.Context, file *CreatedFile) error {
	if !file.IsProjection() {
		return nil
	}
	rows, err := s.store.GetTemplateRows(ctx, file.FormatID, file.PickedRowIndices)
	if err != nil {
		return fmt.Errorf("resolve file %s: %w", file.ID, err)
	}
	kept := make([]int, 0, len(file.PickedRowIndices))
	file.Rows = make([]Row, 0, len(file.PickedRowIndices))
	for _, i := range file.PickedRowIndices {
		if row, ok := rows[i]; ok {
			kept = append(kept, i)
			file.Rows = append(file.Rows, row)
		}
	}
	file.PickedRowIndices = kept
	return nil
}

// rowsEqual compares two normalized rows over f's columns.
func rowsEqual(f *Format, a, b Row) bool {
	for _, col := range f.Columns {
		av, _ := a.Get(col.Name)
		bv, _ := b.Get(col.Name)
		if !av.Equal(bv) {
			return false
		}
	}
	return true
}
