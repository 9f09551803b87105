// Package memory provides an in-process core.Store. A single mutex
// serializes every operation, which makes each method one atomic step.
// It is meant for tests and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/TemplatePick/internal/config"
	"github.com/JonMunkholm/TemplatePick/internal/core"
	"github.com/JonMunkholm/TemplatePick/internal/store"
)

type rowKey struct {
	formatID string
	rowIndex int
}

// Store is an in-memory core.Store.
type Store struct {
	mu sync.Mutex

	formats      map[string]core.Format
	templates    map[string][]core.Row
	reservations map[rowKey]core.Reservation
	files        map[string]*core.CreatedFile
	entities     map[string]core.Entity
	attendance   map[string]core.AttendanceRecord
}

var _ core.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		formats:      make(map[string]core.Format),
		templates:    make(map[string][]core.Row),
		reservations: make(map[rowKey]core.Reservation),
		files:        make(map[string]*core.CreatedFile),
		entities:     make(map[string]core.Entity),
		attendance:   make(map[string]core.AttendanceRecord),
	}
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op.
func (s *Store) Close() {}

// ----------------------------------------------------------------------------
// Formats and template rows
// ----------------------------------------------------------------------------

func (s *Store) SaveFormat(ctx context.Context, f core.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.Columns = append([]core.Column(nil), f.Columns...)
	s.formats[f.ID] = f
	return nil
}

func (s *Store) GetFormat(ctx context.Context, formatID string) (*core.Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.formats[formatID]
	if !ok {
		return nil, core.ErrNotFound
	}
	f.Columns = append([]core.Column(nil), f.Columns...)
	return &f, nil
}

func (s *Store) ListFormats(ctx context.Context) ([]core.Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Format, 0, len(s.formats))
	for _, f := range s.formats {
		f.Columns = append([]core.Column(nil), f.Columns...)
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ReplaceTemplateRows(ctx context.Context, formatID string, rows []core.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.formats[formatID]; !ok {
		return core.ErrNotFound
	}
	copied := make([]core.Row, len(rows))
	for i, r := range rows {
		copied[i] = r.Clone()
	}
	s.templates[formatID] = copied
	s.releaseBeyondLocked(formatID, len(rows))
	return nil
}

func (s *Store) CountTemplateRows(ctx context.Context, formatID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.templates[formatID]), nil
}

func (s *Store) ListTemplateRows(ctx context.Context, formatID string, offset, limit int) ([]core.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.templates[formatID]
	if offset >= len(rows) || offset < 0 {
		return []core.Row{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(rows) {
		end = len(rows)
	}
	out := make([]core.Row, 0, end-offset)
	for _, r := range rows[offset:end] {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (s *Store) GetTemplateRows(ctx context.Context, formatID string, indices []int) (map[int]core.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.templates[formatID]
	out := make(map[int]core.Row, len(indices))
	for _, i := range indices {
		if i >= 0 && i < len(rows) {
			out[i] = rows[i].Clone()
		}
	}
	return out, nil
}

func (s *Store) UpdateTemplateRow(ctx context.Context, formatID string, rowIndex int, row core.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateTemplateRowLocked(formatID, rowIndex, row)
}

func (s *Store) updateTemplateRowLocked(formatID string, rowIndex int, row core.Row) error {
	rows := s.templates[formatID]
	if rowIndex < 0 || rowIndex >= len(rows) {
		return fmt.Errorf("format %s row %d: %w", formatID, rowIndex, core.ErrNotFound)
	}
	rows[rowIndex] = row.Clone()
	return nil
}

// ----------------------------------------------------------------------------
// Reservations
// ----------------------------------------------------------------------------

func (s *Store) ClaimRow(ctx context.Context, r core.Reservation) (core.Reservation, bool, error) {
	if err := ctx.Err(); err != nil {
		return core.Reservation{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := rowKey{r.FormatID, r.RowIndex}
	if cur, ok := s.reservations[k]; ok {
		return cur, false, nil
	}
	s.reservations[k] = r
	return r, true, nil
}

func (s *Store) AssignRow(ctx context.Context, r core.Reservation) (*core.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := rowKey{r.FormatID, r.RowIndex}
	var prev *core.Reservation
	if cur, ok := s.reservations[k]; ok {
		prev = &cur
	}
	s.reservations[k] = r
	return prev, nil
}

func (s *Store) ReleaseRow(ctx context.Context, formatID string, rowIndex int, holderID string) (core.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := rowKey{formatID, rowIndex}
	cur, ok := s.reservations[k]
	if !ok || (holderID != "" && cur.HolderID != holderID) {
		return core.Reservation{}, core.ErrNotFound
	}
	delete(s.reservations, k)
	return cur, nil
}

func (s *Store) ListReservations(ctx context.Context, formatID string) (map[int]core.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]core.Reservation)
	for k, r := range s.reservations {
		if k.formatID == formatID {
			out[k.rowIndex] = r
		}
	}
	return out, nil
}

func (s *Store) ListHolderRows(ctx context.Context, formatID, holderID string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []int{}
	for k, r := range s.reservations {
		if k.formatID == formatID && r.HolderID == holderID {
			out = append(out, k.rowIndex)
		}
	}
	sort.Ints(out)
	return out, nil
}

func (s *Store) ReleaseBeyond(ctx context.Context, formatID string, count int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseBeyondLocked(formatID, count), nil
}

func (s *Store) releaseBeyondLocked(formatID string, count int) int64 {
	var n int64
	for k := range s.reservations {
		if k.formatID == formatID && k.rowIndex >= count {
			delete(s.reservations, k)
			n++
		}
	}
	return n
}

// ----------------------------------------------------------------------------
// Files
// ----------------------------------------------------------------------------

func (s *Store) SaveFile(ctx context.Context, save core.FileSave) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Verify every template patch before applying any of them.
	rows := s.templates[save.File.FormatID]
	for i := range save.TemplateRows {
		if i < 0 || i >= len(rows) {
			return fmt.Errorf("format %s row %d: %w", save.File.FormatID, i, core.ErrNotFound)
		}
	}
	prev, exists := s.files[save.File.ID]
	if save.IfVersion != 0 {
		if !exists {
			return fmt.Errorf("file %s: %w", save.File.ID, core.ErrNotFound)
		}
		if prev.Version != save.IfVersion {
			return fmt.Errorf("file %s at version %d, want %d: %w", save.File.ID, prev.Version, save.IfVersion, core.ErrStale)
		}
	}
	for i, row := range save.TemplateRows {
		rows[i] = row.Clone()
	}
	save.File.Version = 1
	if exists {
		save.File.Version = prev.Version + 1
	}
	s.files[save.File.ID] = copyFile(save.File)
	return nil
}

func (s *Store) GetFile(ctx context.Context, fileID string) (*core.CreatedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return copyFile(f), nil
}

func (s *Store) ListFiles(ctx context.Context, ownerID string) ([]*core.CreatedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.CreatedFile
	for _, f := range s.files {
		if ownerID == "" || f.OwnerID == ownerID {
			out = append(out, copyFile(f))
		}
	}
	sortFiles(out)
	return out, nil
}

func (s *Store) ListFilesByFormat(ctx context.Context, formatID string) ([]*core.CreatedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.CreatedFile
	for _, f := range s.files {
		if f.FormatID == formatID {
			out = append(out, copyFile(f))
		}
	}
	sortFiles(out)
	return out, nil
}

func (s *Store) DeleteFile(ctx context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[fileID]; !ok {
		return core.ErrNotFound
	}
	delete(s.files, fileID)
	return nil
}

func (s *Store) CommitMerge(ctx context.Context, output *core.CreatedFile, bumpSourceIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range bumpSourceIDs {
		if _, ok := s.files[id]; !ok {
			return fmt.Errorf("merge source %s: %w", id, core.ErrNotFound)
		}
	}
	for _, id := range bumpSourceIDs {
		s.files[id].MergeCount++
		s.files[id].Version++
	}
	output.Version = 1
	if prev, ok := s.files[output.ID]; ok {
		output.Version = prev.Version + 1
	}
	s.files[output.ID] = copyFile(output)
	return nil
}

// ----------------------------------------------------------------------------
// Entities and attendance
// ----------------------------------------------------------------------------

func (s *Store) GetEntities(ctx context.Context, ids []string) (map[string]core.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]core.Entity, len(ids))
	for _, id := range ids {
		if e, ok := s.entities[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func (s *Store) CommitIngest(ctx context.Context, entities []core.Entity, records []core.AttendanceRecord, batchSize int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		s.entities[e.ID] = e
	}
	for _, r := range records {
		r.Extra = copyExtra(r.Extra)
		s.attendance[r.Key()] = r
	}
	return nil
}

func (s *Store) GetAttendance(ctx context.Context, entityID string) ([]core.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.AttendanceRecord
	for _, r := range s.attendance {
		if r.EntityID == entityID {
			r.Extra = copyExtra(r.Extra)
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

func copyFile(f *core.CreatedFile) *core.CreatedFile {
	cp := *f
	if f.PickedRowIndices != nil {
		cp.PickedRowIndices = append([]int{}, f.PickedRowIndices...)
	}
	if f.MergedFromFileIDs != nil {
		cp.MergedFromFileIDs = append([]string{}, f.MergedFromFileIDs...)
	}
	if f.Rows != nil {
		cp.Rows = make([]core.Row, len(f.Rows))
		for i, r := range f.Rows {
			cp.Rows[i] = r.Clone()
		}
	}
	return &cp
}

func copyExtra(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortFiles(files []*core.CreatedFile) {
	sort.Slice(files, func(i, j int) bool {
		if !files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].CreatedAt.Before(files[j].CreatedAt)
		}
		return files[i].ID < files[j].ID
	})
}

func init() {
	store.Register("memory", func(ctx context.Context, cfg config.DatabaseConfig) (core.Store, error) {
		return New(), nil
	})
}
