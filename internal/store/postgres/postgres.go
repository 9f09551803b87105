// Package postgres implements core.Store on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/TemplatePick/internal/config"
	"github.com/JonMunkholm/TemplatePick/internal/core"
	"github.com/JonMunkholm/TemplatePick/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// claimAttempts bounds the insert-then-read loops in ClaimRow and AssignRow when the
// conflicting reservation disappears between the two statements.
const claimAttempts = 3

func init() {
	store.Register("postgres", func(ctx context.Context, cfg config.DatabaseConfig) (core.Store, error) {
		return New(ctx, cfg)
	})
}

// Store is a PostgreSQL-backed core.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*Store)(nil)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// New connects a pool using cfg and applies the schema.
func New(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres: empty database URL")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Ping checks the pool.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close closes the pool.
func (s *Store) Close() { s.pool.Close() }

// ----------------------------------------------------------------------------
// Formats and template rows
// ----------------------------------------------------------------------------

func (s *Store) SaveFormat(ctx context.Context, f core.Format) error {
	def, err := store.EncodeFormat(f)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO formats (id, definition) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET definition = EXCLUDED.definition`,
		f.ID, def)
	if err != nil {
		return fmt.Errorf("save format: %w", err)
	}
	return nil
}

func (s *Store) GetFormat(ctx context.Context, formatID string) (*core.Format, error) {
	var def string
	err := s.pool.QueryRow(ctx, `SELECT definition::text FROM formats WHERE id = $1`, formatID).Scan(&def)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get format: %w", err)
	}
	return store.DecodeFormat(def)
}

func (s *Store) ListFormats(ctx context.Context) ([]core.Format, error) {
	rows, err := s.pool.Query(ctx, `SELECT definition::text FROM formats ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list formats: %w", err)
	}
	defs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list formats: %w", err)
	}

	out := make([]core.Format, 0, len(defs))
	for _, def := range defs {
		f, err := store.DecodeFormat(def)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, nil
}

func (s *Store) ReplaceTemplateRows(ctx context.Context, formatID string, rows []core.Row) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	var one int
	err = tx.QueryRow(ctx, `SELECT 1 FROM formats WHERE id = $1 FOR UPDATE`, formatID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock format: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM template_rows WHERE format_id = $1`, formatID); err != nil {
		return fmt.Errorf("clear template rows: %w", err)
	}

	copyRows := make([][]any, len(rows))
	for i, r := range rows {
		data, err := core.MarshalRow(r)
		if err != nil {
			return err
		}
		copyRows[i] = []any{formatID, int32(i), string(data)}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"template_rows"},
		[]string{"format_id", "row_index", "data"},
		pgx.CopyFromRows(copyRows),
	); err != nil {
		return fmt.Errorf("copy template rows: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM reservations WHERE format_id = $1 AND row_index >= $2`, formatID, len(rows)); err != nil {
		return fmt.Errorf("release orphaned reservations: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) CountTemplateRows(ctx context.Context, formatID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM template_rows WHERE format_id = $1`, formatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count template rows: %w", err)
	}
	return n, nil
}

func (s *Store) ListTemplateRows(ctx context.Context, formatID string, offset, limit int) ([]core.Row, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT data::text FROM template_rows WHERE format_id = $1 ORDER BY row_index LIMIT $2 OFFSET $3`,
		formatID, lim, offset)
	if err != nil {
		return nil, fmt.Errorf("list template rows: %w", err)
	}
	data, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list template rows: %w", err)
	}

	out := make([]core.Row, 0, len(data))
	for _, d := range data {
		r, err := core.UnmarshalRow([]byte(d))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) GetTemplateRows(ctx context.Context, formatID string, indices []int) (map[int]core.Row, error) {
	out := make(map[int]core.Row, len(indices))
	if len(indices) == 0 {
		return out, nil
	}

	idx := make([]int32, len(indices))
	for i, v := range indices {
		idx[i] = int32(v)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT row_index, data::text FROM template_rows WHERE format_id = $1 AND row_index = ANY($2)`,
		formatID, idx)
	if err != nil {
		return nil, fmt.Errorf("get template rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var i int
		var data string
		if err := rows.Scan(&i, &data); err != nil {
			return nil, err
		}
		r, err := core.UnmarshalRow([]byte(data))
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, rows.Err()
}

func (s *Store) UpdateTemplateRow(ctx context.Context, formatID string, rowIndex int, row core.Row) error {
	return updateTemplateRow(ctx, s.pool, formatID, rowIndex, row)
}

func updateTemplateRow(ctx context.Context, q querier, formatID string, rowIndex int, row core.Row) error {
	data, err := core.MarshalRow(row)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx,
		`UPDATE template_rows SET data = $1 WHERE format_id = $2 AND row_index = $3`,
		string(data), formatID, rowIndex)
	if err != nil {
		return fmt.Errorf("update template row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("format %s row %d: %w", formatID, rowIndex, core.ErrNotFound)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Reservations
// ----------------------------------------------------------------------------

const reservationColumns = `format_id, row_index, holder_id, holder_label, reserved_at`

func (s *Store) ClaimRow(ctx context.Context, r core.Reservation) (core.Reservation, bool, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO reservations (`+reservationColumns+`)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (format_id, row_index) DO NOTHING`,
			r.FormatID, r.RowIndex, r.HolderID, r.HolderLabel, r.ReservedAt)
		if err != nil {
			return core.Reservation{}, false, fmt.Errorf("insert reservation: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return r, true, nil
		}

		owner, err := getReservation(ctx, s.pool, r.FormatID, r.RowIndex)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return core.Reservation{}, false, err
		}
		return owner, false, nil
	}
	return core.Reservation{}, false, fmt.Errorf("claim format %s row %d: reservation changed %d times", r.FormatID, r.RowIndex, claimAttempts)
}

// AssignRow locks the existing reservation or inserts a new one, so a
// concurrent claim or assign on a free row is never overwritten unreported.
func (s *Store) AssignRow(ctx context.Context, r core.Reservation) (*core.Reservation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	prev, err := assignLocked(ctx, tx, r)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return prev, nil
}

func assignLocked(ctx context.Context, tx pgx.Tx, r core.Reservation) (*core.Reservation, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		row := tx.QueryRow(ctx,
			`SELECT `+reservationColumns+` FROM reservations WHERE format_id = $1 AND row_index = $2 FOR UPDATE`,
			r.FormatID, r.RowIndex)
		cur, err := scanReservation(row)
		switch {
		case err == nil:
			_, err = tx.Exec(ctx,
				`UPDATE reservations SET holder_id = $3, holder_label = $4, reserved_at = $5
				 WHERE format_id = $1 AND row_index = $2`,
				r.FormatID, r.RowIndex, r.HolderID, r.HolderLabel, r.ReservedAt)
			if err != nil {
				return nil, fmt.Errorf("assign reservation: %w", err)
			}
			return &cur, nil
		case !errors.Is(err, pgx.ErrNoRows):
			return nil, fmt.Errorf("lock reservation: %w", err)
		}

		// Free row: insert it, or lock the row a concurrent claim just added.
		tag, err := tx.Exec(ctx,
			`INSERT INTO reservations (`+reservationColumns+`)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (format_id, row_index) DO NOTHING`,
			r.FormatID, r.RowIndex, r.HolderID, r.HolderLabel, r.ReservedAt)
		if err != nil {
			return nil, fmt.Errorf("assign reservation: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("assign format %s row %d: reservation changed %d times", r.FormatID, r.RowIndex, claimAttempts)
}

func (s *Store) ReleaseRow(ctx context.Context, formatID string, rowIndex int, holderID string) (core.Reservation, error) {
	row := s.pool.QueryRow(ctx,
		`DELETE FROM reservations
		 WHERE format_id = $1 AND row_index = $2 AND ($3::text = '' OR holder_id = $3::text)
		 RETURNING `+reservationColumns,
		formatID, rowIndex, holderID)
	r, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Reservation{}, core.ErrNotFound
	}
	if err != nil {
		return core.Reservation{}, fmt.Errorf("release reservation: %w", err)
	}
	return r, nil
}

func (s *Store) ListReservations(ctx context.Context, formatID string) (map[int]core.Reservation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE format_id = $1`, formatID)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]core.Reservation)
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out[r.RowIndex] = r
	}
	return out, rows.Err()
}

func (s *Store) ListHolderRows(ctx context.Context, formatID, holderID string) ([]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT row_index FROM reservations WHERE format_id = $1 AND holder_id = $2 ORDER BY row_index`,
		formatID, holderID)
	if err != nil {
		return nil, fmt.Errorf("list holder rows: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("list holder rows: %w", err)
	}
	if out == nil {
		out = []int{}
	}
	return out, nil
}

func (s *Store) ReleaseBeyond(ctx context.Context, formatID string, count int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM reservations WHERE format_id = $1 AND row_index >= $2`, formatID, count)
	if err != nil {
		return 0, fmt.Errorf("release beyond: %w", err)
	}
	return tag.RowsAffected(), nil
}

func getReservation(ctx context.Context, q querier, formatID string, rowIndex int) (core.Reservation, error) {
	row := q.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE format_id = $1 AND row_index = $2`,
		formatID, rowIndex)
	r, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Reservation{}, core.ErrNotFound
	}
	if err != nil {
		return core.Reservation{}, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

func scanReservation(row pgx.Row) (core.Reservation, error) {
	var r core.Reservation
	var at time.Time
	if err := row.Scan(&r.FormatID, &r.RowIndex, &r.HolderID, &r.HolderLabel, &at); err != nil {
		return core.Reservation{}, err
	}
	r.ReservedAt = at.UTC()
	return r, nil
}

// ----------------------------------------------------------------------------
// Files
// ----------------------------------------------------------------------------

const fileColumns = `id, name, owner_id, owner_label, format_id, picked_row_indices, row_data,
	is_merged, merged_from_file_ids, merge_count, created_at, last_edited_at, last_edited_by, version`

func (s *Store) SaveFile(ctx context.Context, save core.FileSave) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	if save.IfVersion != 0 {
		var current int
		err := tx.QueryRow(ctx, `SELECT version FROM created_files WHERE id = $1 FOR UPDATE`, save.File.ID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("file %s: %w", save.File.ID, core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock file: %w", err)
		}
		if current != save.IfVersion {
			return fmt.Errorf("file %s at version %d, want %d: %w", save.File.ID, current, save.IfVersion, core.ErrStale)
		}
	}
	for idx, row := range save.TemplateRows {
		if err := updateTemplateRow(ctx, tx, save.File.FormatID, idx, row); err != nil {
			return err
		}
	}
	if err := upsertFile(ctx, tx, save.File); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// upsertFile writes f and sets f.Version to the stored version.
func upsertFile(ctx context.Context, q querier, f *core.CreatedFile) error {
	picked, err := store.EncodeList(f.PickedRowIndices)
	if err != nil {
		return err
	}
	mergedFrom, err := store.EncodeList(f.MergedFromFileIDs)
	if err != nil {
		return err
	}
	rows, err := core.MarshalRows(f.Rows)
	if err != nil {
		return err
	}

	var version int
	err = q.QueryRow(ctx,
		`INSERT INTO created_files (`+fileColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
		 ON CONFLICT (id) DO UPDATE SET
		     name = EXCLUDED.name,
		     owner_id = EXCLUDED.owner_id,
		     owner_label = EXCLUDED.owner_label,
		     format_id = EXCLUDED.format_id,
		     picked_row_indices = EXCLUDED.picked_row_indices,
		     row_data = EXCLUDED.row_data,
		     is_merged = EXCLUDED.is_merged,
		     merged_from_file_ids = EXCLUDED.merged_from_file_ids,
		     merge_count = EXCLUDED.merge_count,
		     last_edited_at = EXCLUDED.last_edited_at,
		     last_edited_by = EXCLUDED.last_edited_by,
		     version = created_files.version + 1
		 RETURNING version`,
		f.ID, f.Name, f.OwnerID, f.OwnerLabel, f.FormatID,
		jsonText(picked), string(rows),
		f.IsMerged, jsonText(mergedFrom), f.MergeCount,
		f.CreatedAt, f.LastEditedAt, f.LastEditedBy,
	).Scan(&version)
	if err != nil {
		return fmt.Errorf("save file %s: %w", f.ID, err)
	}
	f.Version = version
	return nil
}

func (s *Store) GetFile(ctx context.Context, fileID string) (*core.CreatedFile, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+fileSelect+` FROM created_files WHERE id = $1`, fileID)
	f, err := scanFile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

func (s *Store) ListFiles(ctx context.Context, ownerID string) ([]*core.CreatedFile, error) {
	if ownerID == "" {
		return s.queryFiles(ctx, `SELECT `+fileSelect+` FROM created_files ORDER BY created_at, id`)
	}
	return s.queryFiles(ctx, `SELECT `+fileSelect+` FROM created_files WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
}

func (s *Store) ListFilesByFormat(ctx context.Context, formatID string) ([]*core.CreatedFile, error) {
	return s.queryFiles(ctx, `SELECT `+fileSelect+` FROM created_files WHERE format_id = $1 ORDER BY created_at, id`, formatID)
}

func (s *Store) queryFiles(ctx context.Context, sql string, args ...any) ([]*core.CreatedFile, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []*core.CreatedFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) DeleteFile(ctx context.Context, fileID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM created_files WHERE id = $1`, fileID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) CommitMerge(ctx context.Context, output *core.CreatedFile, bumpSourceIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	if len(bumpSourceIDs) > 0 {
		tag, err := tx.Exec(ctx,
			`UPDATE created_files SET merge_count = merge_count + 1, version = version + 1 WHERE id = ANY($1)`, bumpSourceIDs)
		if err != nil {
			return fmt.Errorf("bump merge count: %w", err)
		}
		if tag.RowsAffected() != int64(len(bumpSourceIDs)) {
			return fmt.Errorf("merge sources: %w", core.ErrNotFound)
		}
	}
	if err := upsertFile(ctx, tx, output); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// fileSelect reads the JSONB columns back as text so NULL stays distinct
// from an empty list.
const fileSelect = `id, name, owner_id, owner_label, format_id,
	picked_row_indices::text, row_data::text,
	is_merged, merged_from_file_ids::text, merge_count, created_at, last_edited_at, last_edited_by, version`

func scanFile(row pgx.Row) (*core.CreatedFile, error) {
	var (
		f                     core.CreatedFile
		picked, mergedFrom    pgtype.Text
		rows                  pgtype.Text
		createdAt, lastEdited time.Time
	)
	err := row.Scan(&f.ID, &f.Name, &f.OwnerID, &f.OwnerLabel, &f.FormatID, &picked, &rows,
		&f.IsMerged, &mergedFrom, &f.MergeCount, &createdAt, &lastEdited, &f.LastEditedBy, &f.Version)
	if err != nil {
		return nil, err
	}

	if f.PickedRowIndices, err = store.DecodeList[int](textBytes(picked)); err != nil {
		return nil, err
	}
	if f.MergedFromFileIDs, err = store.DecodeList[string](textBytes(mergedFrom)); err != nil {
		return nil, err
	}
	if f.Rows, err = core.UnmarshalRows(textBytes(rows)); err != nil {
		return nil, err
	}
	f.CreatedAt = createdAt.UTC()
	f.LastEditedAt = lastEdited.UTC()
	return &f, nil
}

// ----------------------------------------------------------------------------
// Entities and attendance
// ----------------------------------------------------------------------------

func (s *Store) GetEntities(ctx context.Context, ids []string) (map[string]core.Entity, error) {
	out := make(map[string]core.Entity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, site, site_category, designation, updated_at FROM entities WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e core.Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Site, &e.SiteCategory, &e.Designation, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.UpdatedAt = e.UpdatedAt.UTC()
		out[e.ID] = e
	}
	return out, rows.Err()
}

func (s *Store) CommitIngest(ctx context.Context, entities []core.Entity, records []core.AttendanceRecord, batchSize int) error {
	if batchSize <= 0 {
		batchSize = len(records)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	if len(entities) > 0 {
		batch := &pgx.Batch{}
		for _, e := range entities {
			batch.Queue(
				`INSERT INTO entities (id, name, site, site_category, designation, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (id) DO UPDATE SET
				     name = EXCLUDED.name,
				     site = EXCLUDED.site,
				     site_category = EXCLUDED.site_category,
				     designation = EXCLUDED.designation,
				     updated_at = EXCLUDED.updated_at`,
				e.ID, e.Name, e.Site, e.SiteCategory, e.Designation, e.UpdatedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert entities: %w", err)
		}
	}

	for start := 0; start < len(records); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, len(records))

		batch := &pgx.Batch{}
		for _, r := range records[start:end] {
			extra, err := store.EncodeMap(r.Extra)
			if err != nil {
				return err
			}
			batch.Queue(
				`INSERT INTO attendance (entity_id, day, status, site, extra)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (entity_id, day) DO UPDATE SET
				     status = EXCLUDED.status,
				     site = EXCLUDED.site,
				     extra = EXCLUDED.extra`,
				r.EntityID, pgtype.Date{Time: r.Date, Valid: true}, r.Status, r.Site, jsonText(extra))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert attendance rows %d-%d: %w", start, end-1, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) GetAttendance(ctx context.Context, entityID string) ([]core.AttendanceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT entity_id, day, status, site, extra::text FROM attendance WHERE entity_id = $1 ORDER BY day`, entityID)
	if err != nil {
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	defer rows.Close()

	var out []core.AttendanceRecord
	for rows.Next() {
		var r core.AttendanceRecord
		var day pgtype.Date
		var extra pgtype.Text
		if err := rows.Scan(&r.EntityID, &day, &r.Status, &r.Site, &extra); err != nil {
			return nil, err
		}
		r.Date = day.Time
		if r.Extra, err = store.DecodeMap(textBytes(extra)); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

// jsonText maps an encoded value to a nullable JSONB parameter.
func jsonText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func textBytes(t pgtype.Text) []byte {
	if !t.Valid {
		return nil
	}
	return []byte(t.String)
}
