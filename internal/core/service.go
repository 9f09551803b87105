package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/TemplatePick/internal/config"
	"github.com/JonMunkholm/TemplatePick/internal/logging"
)

// Defaults used when no configuration is supplied.
const (
	DefaultMergeTimeout     = 2 * time.Minute
	DefaultIngestTimeout    = 10 * time.Minute
	DefaultIngestBatchSize  = 500
	DefaultIngestMaxRows    = 100000
	DefaultPageSize         = 100
	DefaultMaxPageSize      = 1000
	DefaultFetchParallelism = 8
)

// Service provides the business logic for template reservations, saved
// files, merges and attendance ingestion. It is safe for concurrent use;
// all shared state lives in the Store.
type Service struct {
	store    Store
	limiter  *OperationLimiter
	taxonomy Taxonomy

	mergeTimeout     time.Duration
	ingestTimeout    time.Duration
	batchSize        int
	maxIngestRows    int
	pageSize         int
	maxPageSize      int
	fetchParallelism int

	now   func() time.Time
	newID func() string
}

// NewService creates a Service backed by store. A nil cfg uses defaults.
func NewService(store Store, cfg *config.Config) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}

	s := &Service{
		store:            store,
		taxonomy:         DefaultTaxonomy(),
		mergeTimeout:     DefaultMergeTimeout,
		ingestTimeout:    DefaultIngestTimeout,
		batchSize:        DefaultIngestBatchSize,
		maxIngestRows:    DefaultIngestMaxRows,
		pageSize:         DefaultPageSize,
		maxPageSize:      DefaultMaxPageSize,
		fetchParallelism: DefaultFetchParallelism,
		now:              func() time.Time { return time.Now().UTC() },
		newID:            func() string { return uuid.New().String() },
	}

	if cfg == nil {
		s.limiter = NewOperationLimiter(DefaultMaxConcurrentOps, DefaultMaxWaitTime)
		return s, nil
	}

	s.limiter = NewOperationLimiter(cfg.Ops.MaxConcurrent, cfg.Ops.MaxWaitTime)
	if cfg.Ops.MergeTimeout > 0 {
		s.mergeTimeout = cfg.Ops.MergeTimeout
	}
	if cfg.Ops.IngestTimeout > 0 {
		s.ingestTimeout = cfg.Ops.IngestTimeout
	}
	if cfg.Ops.FetchParallelism > 0 {
		s.fetchParallelism = cfg.Ops.FetchParallelism
	}
	if cfg.Ingest.BatchSize > 0 {
		s.batchSize = cfg.Ingest.BatchSize
	}
	if cfg.Ingest.MaxRows > 0 {
		s.maxIngestRows = cfg.Ingest.MaxRows
	}
	if cfg.Template.DefaultPageSize > 0 {
		s.pageSize = cfg.Template.DefaultPageSize
	}
	if cfg.Template.MaxPageSize > 0 {
		s.maxPageSize = cfg.Template.MaxPageSize
	}
	if cfg.Taxonomy.File != "" {
		tax, err := LoadTaxonomy(cfg.Taxonomy.File)
		if err != nil {
			return nil, err
		}
		s.taxonomy = tax
	}

	return s, nil
}

// Taxonomy returns the attendance taxonomy in use.
func (s *Service) Taxonomy() Taxonomy { return s.taxonomy }

// Status returns the operation limiter state for health output.
func (s *Service) Status() LimiterStatus { return s.limiter.Status() }

// Ping checks that the store is reachable.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// WaitForOperations blocks until in-flight merges and ingests finish or ctx ends.
func (s *Service) WaitForOperations(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// GetFormat returns a Format by id.
func (s *Service) GetFormat(ctx context.Context, formatID string) (*Format, error) {
	f, err := s.store.GetFormat(ctx, formatID)
	if err != nil {
		return nil, fmt.Errorf("get format %s: %w", formatID, err)
	}
	return f, nil
}

// ListFormats returns every Format ordered by id.
func (s *Service) ListFormats(ctx context.Context) ([]Format, error) {
	formats, err := s.store.ListFormats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list formats: %w", err)
	}
	return formats, nil
}

// SaveFormat creates or replaces a Format. Admin only.
func (s *Service) SaveFormat(ctx context.Context, actor Actor, f Format) (*Format, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if err := f.Check(); err != nil {
		return nil, err
	}
	if err := s.store.SaveFormat(ctx, f); err != nil {
		return nil, fmt.Errorf("save format %s: %w", f.ID, err)
	}
	logging.FromContext(ctx).Info("format saved", "format_id", f.ID, "columns", len(f.Columns), "actor", actor.ID)
	return &f, nil
}

// ImportTemplate replaces the template rows of a Format. Every row is
// validated and unique columns are checked across the whole set; nothing
// is written unless all rows pass. Admin only.
func (s *Service) ImportTemplate(ctx context.Context, actor Actor, formatID string, rows []Row) (int, error) {
	if !actor.IsAdmin() {
		return 0, ErrForbidden
	}
	f, err := s.GetFormat(ctx, formatID)
	if err != nil {
		return 0, err
	}

	results, err := ValidateRows(f, rows, nil)
	if err != nil {
		return 0, err
	}

	normalized := make([]Row, len(results))
	refs := make([]SourceRowRef, len(results))
	for i, res := range results {
		normalized[i] = res.Row
		refs[i] = SourceRowRef{RowIndex: i}
	}
	if dups, _ := detectDuplicates(f, normalized, refs); len(dups) > 0 {
		return 0, &MergeError{Duplicates: dups}
	}

	if err := s.store.ReplaceTemplateRows(ctx, formatID, normalized); err != nil {
		return 0, fmt.Errorf("replace template rows: %w", err)
	}
	logging.FromContext(ctx).Info("template imported", "format_id", formatID, "rows", len(normalized), "actor", actor.ID)
	return len(normalized), nil
}

// ListTemplateRows returns one page of template rows with their lock state.
// Non-admins see holder labels but never other holders' ids.
func (s *Service) ListTemplateRows(ctx context.Context, actor Actor, formatID string, p Page) (*TemplatePage, error) {
	if _, err := s.GetFormat(ctx, formatID); err != nil {
		return nil, err
	}

	page, size := s.normalizePage(p)
	total, err := s.store.CountTemplateRows(ctx, formatID)
	if err != nil {
		return nil, fmt.Errorf("count template rows: %w", err)
	}

	offset := (page - 1) * size
	rows, err := s.store.ListTemplateRows(ctx, formatID, offset, size)
	if err != nil {
		return nil, fmt.Errorf("list template rows: %w", err)
	}
	reservations, err := s.store.ListReservations(ctx, formatID)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}

	out := &TemplatePage{
		FormatID: formatID,
		Page:     page,
		PageSize: size,
		Total:    total,
		Rows:     make([]TemplateRowView, len(rows)),
	}
	for i, row := range rows {
		idx := offset + i
		view := TemplateRowView{RowIndex: idx, Row: row}
		if r, ok := reservations[idx]; ok {
			view.Mine = r.HolderID == actor.ID
			view.Locked = !view.Mine
			view.HolderLabel = r.HolderLabel
		}
		out.Rows[i] = view
	}
	return out, nil
}

func (s *Service) normalizePage(p Page) (int, int) {
	page := p.Page
	if page < 1 {
		page = 1
	}
	size := p.PageSize
	if size <= 0 {
		size = s.pageSize
	}
	if size > s.maxPageSize {
		size = s.maxPageSize
	}
	return page, size
}

// PatchTemplateCell sets one cell of a template row. Admin only. Every
// projection file of the row sees the change on its next read.
func (s *Service) PatchTemplateCell(ctx context.Context, actor Actor, formatID string, rowIndex int, column string, v Value) (Row, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	f, err := s.GetFormat(ctx, formatID)
	if err != nil {
		return nil, err
	}
	row, err := s.templateRow(ctx, formatID, rowIndex)
	if err != nil {
		return nil, err
	}
	col, ok := f.Column(column)
	if !ok {
		return nil, fmt.Errorf("%w: unknown column %q", ErrInvalidInput, column)
	}

	nv, ferr := ValidateCell(v, col)
	if ferr != nil {
		return nil, &ValidationError{Rows: []RowFieldError{{Row: SourceRowRef{RowIndex: rowIndex}, Errors: []FieldError{*ferr}}}}
	}

	row = row.Clone()
	row[col.Name] = nv
	if err := s.store.UpdateTemplateRow(ctx, formatID, rowIndex, row); err != nil {
		return nil, fmt.Errorf("update template row: %w", err)
	}
	return row, nil
}

// templateRow loads one template row, returning ErrNotFound for a stale index.
func (s *Service) templateRow(ctx context.Context, formatID string, rowIndex int) (Row, error) {
	if rowIndex < 0 {
		return nil, fmt.Errorf("row %d: %w", rowIndex, ErrNotFound)
	}
	rows, err := s.store.GetTemplateRows(ctx, formatID, []int{rowIndex})
	if err != nil {
		return nil, fmt.Errorf("get template row: %w", err)
	}
	row, ok := rows[rowIndex]
	if !ok {
		return nil, fmt.Errorf("format %s row %d: %w", formatID, rowIndex, ErrNotFound)
	}
	return row, nil
}
