package core

import (
	"fmt"
	"sort"
	"strings"
)

// ColumnType is the declared data type of a Format column.
type ColumnType string

const (
	ColumnText   ColumnType = "text"
	ColumnNumber ColumnType = "number"
	ColumnDate   ColumnType = "date"
	ColumnEmail  ColumnType = "email"
	ColumnEnum   ColumnType = "enum"
)

// Valid reports whether t is one of the known column types.
func (t ColumnType) Valid() bool {
	switch t {
	case ColumnText, ColumnNumber, ColumnDate, ColumnEmail, ColumnEnum:
		return true
	}
	return false
}

// NumericRange bounds a number column. Nil ends are open.
type NumericRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Contains reports whether f lies inside the inclusive range.
func (r *NumericRange) Contains(f float64) bool {
	if r == nil {
		return true
	}
	if r.Min != nil && f < *r.Min {
		return false
	}
	if r.Max != nil && f > *r.Max {
		return false
	}
	return true
}

func (r *NumericRange) String() string {
	lo, hi := "-inf", "+inf"
	if r.Min != nil {
		lo = formatNumber(*r.Min)
	}
	if r.Max != nil {
		hi = formatNumber(*r.Max)
	}
	return "[" + lo + ", " + hi + "]"
}

// Column defines validation rules for a single template column.
type Column struct {
	Name           string        `json:"name"`
	Order          int           `json:"order"`
	Type           ColumnType    `json:"type"`
	Required       bool          `json:"required"`
	EditableByUser bool          `json:"editableByUser"`
	Unique         bool          `json:"unique"`
	EnumOptions    []string      `json:"enumOptions,omitempty"`
	Range          *NumericRange `json:"numericRange,omitempty"`
}

// MatchOption returns the canonical option that equals s ignoring case.
func (c Column) MatchOption(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, opt := range c.EnumOptions {
		if strings.EqualFold(opt, s) {
			return opt, true
		}
	}
	return "", false
}

// Format is an administrator-defined schema for a template row set.
type Format struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`

	// StatusColumn names the attendance-style status column used for
	// merge statistics. Empty disables the analysis.
	StatusColumn string `json:"statusColumn,omitempty"`
}

// Check verifies the Format invariants and returns every problem found.
func (f *Format) Check() error {
	var errs []string

	if strings.TrimSpace(f.ID) == "" {
		errs = append(errs, "format id is required")
	}

	seen := make(map[string]bool, len(f.Columns))
	for i, col := range f.Columns {
		name := strings.TrimSpace(col.Name)
		if name == "" {
			errs = append(errs, fmt.Sprintf("column %d has no name", i))
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			errs = append(errs, fmt.Sprintf("duplicate column name %q", name))
		}
		seen[key] = true

		if !col.Type.Valid() {
			errs = append(errs, fmt.Sprintf("column %q has unknown type %q", name, col.Type))
		}
		if col.Type == ColumnEnum && len(col.EnumOptions) == 0 {
			errs = append(errs, fmt.Sprintf("enum column %q has no options", name))
		}
		if r := col.Range; r != nil && r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			errs = append(errs, fmt.Sprintf("column %q has min greater than max", name))
		}
	}

	if f.StatusColumn != "" {
		if _, ok := f.Column(f.StatusColumn); !ok {
			errs = append(errs, fmt.Sprintf("status column %q is not defined", f.StatusColumn))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(errs, "; "))
	}
	return nil
}

// Column looks a column up by name, case-insensitively.
func (f *Format) Column(name string) (Column, bool) {
	for _, col := range f.Columns {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return Column{}, false
}

// Ordered returns the columns sorted by Order, ties kept in declaration order.
func (f *Format) Ordered() []Column {
	cols := make([]Column, len(f.Columns))
	copy(cols, f.Columns)
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Order < cols[j].Order })
	return cols
}

// UniqueColumns returns the columns flagged unique, in column order.
func (f *Format) UniqueColumns() []Column {
	var out []Column
	for _, col := range f.Ordered() {
		if col.Unique {
			out = append(out, col)
		}
	}
	return out
}

// EnumColumns returns the enum columns, in column order.
func (f *Format) EnumColumns() []Column {
	var out []Column
	for _, col := range f.Ordered() {
		if col.Type == ColumnEnum {
			out = append(out, col)
		}
	}
	return out
}
