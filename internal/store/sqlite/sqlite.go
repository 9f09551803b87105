// Package sqlite implements core.Store on an embedded SQLite database.
//
// Design points:
//   - One open connection. SQLite serializes writers anyway, and a single
//     connection makes every method one atomic step without busy retries.
//   - Timestamps are stored as RFC3339Nano strings, dates as YYYY-MM-DD.
//   - Rows use the kind-preserving JSON encoding from core.MarshalRow.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/TemplatePick/internal/config"
	"github.com/JonMunkholm/TemplatePick/internal/core"
	"github.com/JonMunkholm/TemplatePick/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// maxVars keeps multi-row statements under SQLite's bound parameter limit.
const maxVars = 30000

func init() {
	store.Register("sqlite", func(ctx context.Context, cfg config.DatabaseConfig) (core.Store, error) {
		return Open(ctx, cfg.SQLitePath)
	})
}

// Store is a SQLite-backed core.Store.
type Store struct {
	db *sql.DB
}

var _ core.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite: empty database path")
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database.
func (s *Store) Close() { _ = s.db.Close() }

// withTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Formats and template rows
// ----------------------------------------------------------------------------

func (s *Store) SaveFormat(ctx context.Context, f core.Format) error {
	def, err := store.EncodeFormat(f)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO formats (id, definition) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET definition = excluded.definition`,
		f.ID, def)
	if err != nil {
		return fmt.Errorf("save format: %w", err)
	}
	return nil
}

func (s *Store) GetFormat(ctx context.Context, formatID string) (*core.Format, error) {
	var def string
	err := s.db.QueryRowContext(ctx, `SELECT definition FROM formats WHERE id = ?`, formatID).Scan(&def)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get format: %w", err)
	}
	return store.DecodeFormat(def)
}

func (s *Store) ListFormats(ctx context.Context) ([]core.Format, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT definition FROM formats ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list formats: %w", err)
	}
	defer rows.Close()

	var out []core.Format
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, err
		}
		f, err := store.DecodeFormat(def)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceTemplateRows(ctx context.Context, formatID string, rows []core.Row) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM formats WHERE id = ?`, formatID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check format: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM template_rows WHERE format_id = ?`, formatID); err != nil {
			return fmt.Errorf("clear template rows: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO template_rows (format_id, row_index, data) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, r := range rows {
			data, err := core.MarshalRow(r)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, formatID, i, string(data)); err != nil {
				return fmt.Errorf("insert row %d: %w", i, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM reservations WHERE format_id = ? AND row_index >= ?`, formatID, len(rows)); err != nil {
			return fmt.Errorf("release orphaned reservations: %w", err)
		}
		return nil
	})
}

func (s *Store) CountTemplateRows(ctx context.Context, formatID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM template_rows WHERE format_id = ?`, formatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count template rows: %w", err)
	}
	return n, nil
}

func (s *Store) ListTemplateRows(ctx context.Context, formatID string, offset, limit int) ([]core.Row, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM template_rows WHERE format_id = ? ORDER BY row_index LIMIT ? OFFSET ?`,
		formatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list template rows: %w", err)
	}
	defer rows.Close()

	out := []core.Row{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		r, err := core.UnmarshalRow([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetTemplateRows(ctx context.Context, formatID string, indices []int) (map[int]core.Row, error) {
	out := make(map[int]core.Row, len(indices))
	for start := 0; start < len(indices); start += maxVars {
		end := min(start+maxVars, len(indices))
		chunk := indices[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, formatID)
		for _, i := range chunk {
			args = append(args, i)
		}
		q := `SELECT row_index, data FROM template_rows WHERE format_id = ? AND row_index IN (` + placeholders(len(chunk)) + `)`

		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("get template rows: %w", err)
		}
		for rows.Next() {
			var idx int
			var data string
			if err := rows.Scan(&idx, &data); err != nil {
				rows.Close()
				return nil, err
			}
			r, err := core.UnmarshalRow([]byte(data))
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[idx] = r
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) UpdateTemplateRow(ctx context.Context, formatID string, rowIndex int, row core.Row) error {
	return updateTemplateRow(ctx, s.db, formatID, rowIndex, row)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateTemplateRow(ctx context.Context, db execer, formatID string, rowIndex int, row core.Row) error {
	data, err := core.MarshalRow(row)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE template_rows SET data = ? WHERE format_id = ? AND row_index = ?`,
		string(data), formatID, rowIndex)
	if err != nil {
		return fmt.Errorf("update template row: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("format %s row %d: %w", formatID, rowIndex, core.ErrNotFound)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Reservations
// ----------------------------------------------------------------------------

func (s *Store) ClaimRow(ctx context.Context, r core.Reservation) (core.Reservation, bool, error) {
	var owner core.Reservation
	var claimed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO reservations (format_id, row_index, holder_id, holder_label, reserved_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (format_id, row_index) DO NOTHING`,
			r.FormatID, r.RowIndex, r.HolderID, r.HolderLabel, formatTime(r.ReservedAt))
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			owner, claimed = r, true
			return nil
		}
		owner, err = getReservation(ctx, tx, r.FormatID, r.RowIndex)
		return err
	})
	if err != nil {
		return core.Reservation{}, false, err
	}
	return owner, claimed, nil
}

func (s *Store) AssignRow(ctx context.Context, r core.Reservation) (*core.Reservation, error) {
	var prev *core.Reservation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getReservation(ctx, tx, r.FormatID, r.RowIndex)
		switch {
		case err == nil:
			prev = &cur
		case !errors.Is(err, core.ErrNotFound):
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO reservations (format_id, row_index, holder_id, holder_label, reserved_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (format_id, row_index) DO UPDATE SET
			     holder_id = excluded.holder_id,
			     holder_label = excluded.holder_label,
			     reserved_at = excluded.reserved_at`,
			r.FormatID, r.RowIndex, r.HolderID, r.HolderLabel, formatTime(r.ReservedAt))
		if err != nil {
			return fmt.Errorf("assign reservation: %w", err)
		}
		return nil
	})
	return prev, err
}

func (s *Store) ReleaseRow(ctx context.Context, formatID string, rowIndex int, holderID string) (core.Reservation, error) {
	var released core.Reservation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getReservation(ctx, tx, formatID, rowIndex)
		if err != nil {
			return err
		}
		if holderID != "" && cur.HolderID != holderID {
			return core.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM reservations WHERE format_id = ? AND row_index = ?`, formatID, rowIndex); err != nil {
			return fmt.Errorf("delete reservation: %w", err)
		}
		released = cur
		return nil
	})
	return released, err
}

func (s *Store) ListReservations(ctx context.Context, formatID string) (map[int]core.Reservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT format_id, row_index, holder_id, holder_label, reserved_at FROM reservations WHERE format_id = ?`,
		formatID)
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_index FROM reservations WHERE format_id = ? AND holder_id = ? ORDER BY row_index`,
		formatID, holderID)
	if err != nil {
		return nil, fmt.Errorf("list holder rows: %w", err)
	}
	defer rows.Close()

	out := []int{}
	for rows.Next() {
		var i int
		if err := rows.Scan(&i); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *Store) ReleaseBeyond(ctx context.Context, formatID string, count int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reservations WHERE format_id = ? AND row_index >= ?`, formatID, count)
	if err != nil {
		return 0, fmt.Errorf("release beyond: %w", err)
	}
	return res.RowsAffected()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getReservation(ctx context.Context, q queryRower, formatID string, rowIndex int) (core.Reservation, error) {
	row := q.QueryRowContext(ctx,
		`SELECT format_id, row_index, holder_id, holder_label, reserved_at
		 FROM reservations WHERE format_id = ? AND row_index = ?`,
		formatID, rowIndex)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Reservation{}, core.ErrNotFound
	}
	return r, err
}

func scanReservation(sc scanner) (core.Reservation, error) {
	var r core.Reservation
	var at string
	if err := sc.Scan(&r.FormatID, &r.RowIndex, &r.HolderID, &r.HolderLabel, &at); err != nil {
		return core.Reservation{}, err
	}
	t, err := parseTime(at)
	if err != nil {
		return core.Reservation{}, err
	}
	r.ReservedAt = t
	return r, nil
}

// ----------------------------------------------------------------------------
// Files
// ----------------------------------------------------------------------------

const fileColumns = `id, name, owner_id, owner_label, format_id, picked_row_indices, row_data,
	is_merged, merged_from_file_ids, merge_count, created_at, last_edited_at, last_edited_by, version`

func (s *Store) SaveFile(ctx context.Context, save core.FileSave) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if save.IfVersion != 0 {
			var current int
			err := tx.QueryRowContext(ctx, `SELECT version FROM created_files WHERE id = ?`, save.File.ID).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("file %s: %w", save.File.ID, core.ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("read file version: %w", err)
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
		return upsertFile(ctx, tx, save.File)
	})
}

// upsertFile writes f and sets f.Version to the stored version.
func upsertFile(ctx context.Context, tx *sql.Tx, f *core.CreatedFile) error {
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
	err = tx.QueryRowContext(ctx,
		`INSERT INTO created_files (`+fileColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		 ON CONFLICT (id) DO UPDATE SET
		     name = excluded.name,
		     owner_id = excluded.owner_id,
		     owner_label = excluded.owner_label,
		     format_id = excluded.format_id,
		     picked_row_indices = excluded.picked_row_indices,
		     row_data = excluded.row_data,
		     is_merged = excluded.is_merged,
		     merged_from_file_ids = excluded.merged_from_file_ids,
		     merge_count = excluded.merge_count,
		     last_edited_at = excluded.last_edited_at,
		     last_edited_by = excluded.last_edited_by,
		     version = created_files.version + 1
		 RETURNING version`,
		f.ID, f.Name, f.OwnerID, f.OwnerLabel, f.FormatID,
		nullString(picked), string(rows),
		f.IsMerged, nullString(mergedFrom), f.MergeCount,
		formatTime(f.CreatedAt), formatTime(f.LastEditedAt), f.LastEditedBy,
	).Scan(&version)
	if err != nil {
		return fmt.Errorf("save file %s: %w", f.ID, err)
	}
	f.Version = version
	return nil
}

func (s *Store) GetFile(ctx context.Context, fileID string) (*core.CreatedFile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM created_files WHERE id = ?`, fileID)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

func (s *Store) ListFiles(ctx context.Context, ownerID string) ([]*core.CreatedFile, error) {
	if ownerID == "" {
		return s.queryFiles(ctx, `SELECT `+fileColumns+` FROM created_files ORDER BY created_at, id`)
	}
	return s.queryFiles(ctx, `SELECT `+fileColumns+` FROM created_files WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
}

func (s *Store) ListFilesByFormat(ctx context.Context, formatID string) ([]*core.CreatedFile, error) {
	return s.queryFiles(ctx, `SELECT `+fileColumns+` FROM created_files WHERE format_id = ? ORDER BY created_at, id`, formatID)
}

func (s *Store) queryFiles(ctx context.Context, q string, args ...any) ([]*core.CreatedFile, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM created_files WHERE id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) CommitMerge(ctx context.Context, output *core.CreatedFile, bumpSourceIDs []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range bumpSourceIDs {
			res, err := tx.ExecContext(ctx, `UPDATE created_files SET merge_count = merge_count + 1, version = version + 1 WHERE id = ?`, id)
			if err != nil {
				return fmt.Errorf("bump merge count: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("merge source %s: %w", id, core.ErrNotFound)
			}
		}
		return upsertFile(ctx, tx, output)
	})
}

func scanFile(sc scanner) (*core.CreatedFile, error) {
	var (
		f                     core.CreatedFile
		picked, mergedFrom    sql.NullString
		rows                  sql.NullString
		createdAt, lastEdited string
	)
	err := sc.Scan(&f.ID, &f.Name, &f.OwnerID, &f.OwnerLabel, &f.FormatID, &picked, &rows,
		&f.IsMerged, &mergedFrom, &f.MergeCount, &createdAt, &lastEdited, &f.LastEditedBy, &f.Version)
	if err != nil {
		return nil, err
	}

	if f.PickedRowIndices, err = store.DecodeList[int](nullBytes(picked)); err != nil {
		return nil, err
	}
	if f.MergedFromFileIDs, err = store.DecodeList[string](nullBytes(mergedFrom)); err != nil {
		return nil, err
	}
	if f.Rows, err = core.UnmarshalRows(nullBytes(rows)); err != nil {
		return nil, err
	}
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if f.LastEditedAt, err = parseTime(lastEdited); err != nil {
		return nil, err
	}
	return &f, nil
}

// ----------------------------------------------------------------------------
// Entities and attendance
// ----------------------------------------------------------------------------

func (s *Store) GetEntities(ctx context.Context, ids []string) (map[string]core.Entity, error) {
	out := make(map[string]core.Entity, len(ids))
	for start := 0; start < len(ids); start += maxVars {
		end := min(start+maxVars, len(ids))
		chunk := ids[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, name, site, site_category, designation, updated_at FROM entities WHERE id IN (`+placeholders(len(chunk))+`)`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("get entities: %w", err)
		}
		for rows.Next() {
			var e core.Entity
			var at string
			if err := rows.Scan(&e.ID, &e.Name, &e.Site, &e.SiteCategory, &e.Designation, &at); err != nil {
				rows.Close()
				return nil, err
			}
			if e.UpdatedAt, err = parseTime(at); err != nil {
				rows.Close()
				return nil, err
			}
			out[e.ID] = e
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) CommitIngest(ctx context.Context, entities []core.Entity, records []core.AttendanceRecord, batchSize int) error {
	const attendanceCols = 5
	if batchSize <= 0 || batchSize*attendanceCols > maxVars {
		batchSize = maxVars / attendanceCols
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO entities (id, name, site, site_category, designation, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			     name = excluded.name,
			     site = excluded.site,
			     site_category = excluded.site_category,
			     designation = excluded.designation,
			     updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("prepare entity upsert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entities {
			if _, err := stmt.ExecContext(ctx, e.ID, e.Name, e.Site, e.SiteCategory, e.Designation, formatTime(e.UpdatedAt)); err != nil {
				return fmt.Errorf("upsert entity %s: %w", e.ID, err)
			}
		}

		for start := 0; start < len(records); start += batchSize {
			end := min(start+batchSize, len(records))
			if err := insertAttendance(ctx, tx, records[start:end]); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertAttendance(ctx context.Context, tx *sql.Tx, batch []core.AttendanceRecord) error {
	var b strings.Builder
	b.WriteString(`INSERT INTO attendance (entity_id, date, status, site, extra) VALUES `)
	args := make([]any, 0, len(batch)*5)
	for i, r := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?)")
		extra, err := store.EncodeMap(r.Extra)
		if err != nil {
			return err
		}
		args = append(args, r.EntityID, r.Date.Format(core.DateLayout), r.Status, r.Site, nullString(extra))
	}
	b.WriteString(` ON CONFLICT (entity_id, date) DO UPDATE SET
		status = excluded.status,
		site = excluded.site,
		extra = excluded.extra`)

	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("upsert attendance batch: %w", err)
	}
	return nil
}

func (s *Store) GetAttendance(ctx context.Context, entityID string) ([]core.AttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, date, status, site, extra FROM attendance WHERE entity_id = ? ORDER BY date`, entityID)
	if err != nil {
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	defer rows.Close()

	var out []core.AttendanceRecord
	for rows.Next() {
		var r core.AttendanceRecord
		var date string
		var extra sql.NullString
		if err := rows.Scan(&r.EntityID, &date, &r.Status, &r.Site, &extra); err != nil {
			return nil, err
		}
		if r.Date, err = time.Parse(core.DateLayout, date); err != nil {
			return nil, fmt.Errorf("parse attendance date %q: %w", date, err)
		}
		if r.Extra, err = store.DecodeMap(nullBytes(extra)); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

func placeholders(n int) string {
	return strings.TrimRight(strings.Repeat("?,", n), ",")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nullString(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: b != nil}
}

func nullBytes(s sql.NullString) []byte {
	if !s.Valid {
		return nil
	}
	return []byte(s.String)
}
