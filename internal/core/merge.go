package core

// merge.go combines several row sets under one Format.
//
// The pass is single-threaded and deterministic: inputs are concatenated in
// selection order, every row is normalized by the validator, and for each
// unique column the first occurrence wins. Errors are collected, never
// short-circuited, so a refused merge reports every offending row at once.

import (
	"strings"
)

// MergeInput is one source row set in selection order.
type MergeInput struct {
	FileID string
	Rows   []Row
}

// AttendanceAnalysis summarizes the status column of a merge output.
type AttendanceAnalysis struct {
	Present     int            `json:"present"`
	Absent      int            `json:"absent"`
	Other       int            `json:"other"`
	Total       int            `json:"total"`
	OtherValues map[string]int `json:"otherValues"`
}

// MergeRecord is the in-memory result of a merge. It is only written to a
// CreatedFile when it has no errors.
type MergeRecord struct {
	OutputRows        []Row               `json:"outputRows"`
	Sources           []SourceRowRef      `json:"-"`
	DuplicatesRemoved int                 `json:"duplicatesRemoved"`
	Attendance        *AttendanceAnalysis `json:"attendanceAnalysis,omitempty"`
	Duplicates        []DuplicateError    `json:"duplicateErrors,omitempty"`
	Dropdowns         []DropdownError     `json:"dropdownErrors,omitempty"`
	FieldErrors       []RowFieldError     `json:"fieldErrors,omitempty"`
}

// OK reports whether the merge may be committed.
func (m *MergeRecord) OK() bool {
	return len(m.Duplicates) == 0 && len(m.Dropdowns) == 0 && len(m.FieldErrors) == 0
}

// Err returns the merge refusal, or nil when the record is clean.
func (m *MergeRecord) Err() error {
	if m.OK() {
		return nil
	}
	return &MergeError{Duplicates: m.Duplicates, Dropdowns: m.Dropdowns, FieldErrors: m.FieldErrors}
}

// Merge runs the merge algorithm over inputs without touching any store.
func Merge(f *Format, inputs []MergeInput, tax Taxonomy) *MergeRecord {
	rec := &MergeRecord{}

	type candidate struct {
		ref SourceRowRef
		row Row
	}

	// 1. Concatenate and normalize.
	var all []candidate
	for order, in := range inputs {
		for i, raw := range in.Rows {
			ref := SourceRowRef{FileID: in.FileID, FileOrder: order, RowIndex: i}
			res := ValidateRow(f, raw, nil)

			dropdowns, other := splitDropdowns(f, ref, res.Errors)
			rec.Dropdowns = append(rec.Dropdowns, dropdowns...)
			if len(other) > 0 {
				rec.FieldErrors = append(rec.FieldErrors, RowFieldError{Row: ref, Errors: other})
			}

			// Keep the raw enum text so a bad value still takes part in
			// duplicate detection on other columns.
			row := res.Row
			if len(res.Errors) > 0 {
				row = row.Clone()
				for _, fe := range res.Errors {
					if v, ok := raw.Get(fe.Column); ok {
						row[fe.Column] = v
					}
				}
			}
			all = append(all, candidate{ref: ref, row: row})
		}
	}

	// 2. Unique columns: first occurrence wins.
	rows := make([]Row, len(all))
	refs := make([]SourceRowRef, len(all))
	for i, c := range all {
		rows[i] = c.row
		refs[i] = c.ref
	}
	var dropped []bool
	rec.Duplicates, dropped = detectDuplicates(f, rows, refs)

	for i, c := range all {
		if dropped[i] {
			rec.DuplicatesRemoved++
			continue
		}
		rec.OutputRows = append(rec.OutputRows, c.row)
		rec.Sources = append(rec.Sources, c.ref)
	}

	// 3. Statistics only for a clean merge.
	if rec.OK() && f.StatusColumn != "" {
		rec.Attendance = analyzeAttendance(rec.OutputRows, f.StatusColumn, tax)
	}

	return rec
}

// detectDuplicates checks every unique column of f over rows in order.
// A row dropped for one column no longer takes part in later columns.
func detectDuplicates(f *Format, rows []Row, refs []SourceRowRef) ([]DuplicateError, []bool) {
	var dups []DuplicateError
	dropped := make([]bool, len(rows))
	for _, col := range f.UniqueColumns() {
		seen := make(map[string]SourceRowRef)
		for i, row := range rows {
			if dropped[i] {
				continue
			}
			v, _ := row.Get(col.Name)
			if v.IsEmpty() {
				continue
			}
			key := uniqueKey(v)
			if first, ok := seen[key]; ok {
				dups = append(dups, DuplicateError{
					Column:    col.Name,
					Value:     v.String(),
					First:     first,
					Duplicate: refs[i],
				})
				dropped[i] = true
				continue
			}
			seen[key] = refs[i]
		}
	}
	return dups, dropped
}

// uniqueKey is the comparison form of a unique cell. Text compares
// case-sensitively after trimming.
func uniqueKey(v Value) string {
	return strings.TrimSpace(v.String())
}

func analyzeAttendance(rows []Row, column string, tax Taxonomy) *AttendanceAnalysis {
	a := &AttendanceAnalysis{OtherValues: make(map[string]int)}
	for _, row := range rows {
		v, _ := row.Get(column)
		status := strings.TrimSpace(v.String())
		a.Total++
		if status == "" {
			a.Other++
			a.OtherValues[BlankStatus]++
			continue
		}
		switch tax.Classify(status) {
		case StatusPresent:
			a.Present++
		case StatusAbsent:
			a.Absent++
		default:
			a.Other++
			a.OtherValues[status]++
		}
	}
	return a
}
