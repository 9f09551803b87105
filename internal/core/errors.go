package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned for stale or unknown ids.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the actor lacks the required role or ownership.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidInput is returned for malformed requests that are not row validation failures.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStale is returned when a conditional write finds the stored record
	// at a newer version than the one it was read at.
	ErrStale = errors.New("stale write")
)

// ErrorCode classifies a field-level validation failure.
type ErrorCode string

const (
	CodeRequired      ErrorCode = "required"
	CodeInvalidNumber ErrorCode = "invalid_number"
	CodeOutOfRange    ErrorCode = "out_of_range"
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeInvalidEmail  ErrorCode = "invalid_email"
	CodeInvalidOption ErrorCode = "invalid_option"
	CodeLockedColumn  ErrorCode = "locked_column"
)

// FieldError represents a single validation error for a field.
type FieldError struct {
	Column  string    `json:"column"`
	Value   string    `json:"value,omitempty"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e FieldError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s: %s", e.Column, e.Message)
	}
	return e.Message
}

// RowFieldError ties field errors to the row they were found in.
type RowFieldError struct {
	Row    SourceRowRef `json:"row"`
	Errors []FieldError `json:"errors"`
}

// LockedColumnViolation reports a submitted value for a non-editable column
// that differed from the template and was replaced by the template value.
type LockedColumnViolation struct {
	RowIndex  int    `json:"rowIndex"`
	Column    string `json:"column"`
	Submitted string `json:"submitted"`
	Canonical string `json:"canonical"`
}

// ValidationError lists every invalid row of a rejected write. Enum values
// outside their column's options are reported in Dropdowns, the same way a
// refused merge reports them; every other failure is in Rows.
// Nothing is written when a ValidationError is returned.
type ValidationError struct {
	Rows      []RowFieldError `json:"rows"`
	Dropdowns []DropdownError `json:"dropdownErrors,omitempty"`
}

func (e *ValidationError) Error() string {
	n := 0
	var first string
	for _, r := range e.Rows {
		n += len(r.Errors)
		if first == "" && len(r.Errors) > 0 {
			first = fmt.Sprintf("row %d: %s", r.Row.RowIndex, r.Errors[0].Error())
		}
	}
	if first == "" && len(e.Dropdowns) > 0 {
		first = e.Dropdowns[0].Error()
	}
	if n == 0 && len(e.Dropdowns) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %d field error(s) in %d row(s), %d invalid dropdown value(s), first %s",
		n, len(e.Rows), len(e.Dropdowns), first)
}

// splitDropdowns moves CodeInvalidOption failures out of errs into
// DropdownErrors for the row at ref.
func splitDropdowns(f *Format, ref SourceRowRef, errs []FieldError) ([]DropdownError, []FieldError) {
	var (
		dropdowns []DropdownError
		other     []FieldError
	)
	for _, fe := range errs {
		if fe.Code != CodeInvalidOption {
			other = append(other, fe)
			continue
		}
		col, _ := f.Column(fe.Column)
		dropdowns = append(dropdowns, DropdownError{
			Column:  col.Name,
			Value:   fe.Value,
			Row:     ref,
			Allowed: col.EnumOptions,
		})
	}
	return dropdowns, other
}

// SourceRowRef locates a row inside the ordered merge input.
type SourceRowRef struct {
	FileID    string `json:"fileId,omitempty"`
	FileOrder int    `json:"fileOrder"`
	RowIndex  int    `json:"rowIndex"`
}

func (r SourceRowRef) String() string {
	if r.FileID == "" {
		return fmt.Sprintf("row %d", r.RowIndex)
	}
	return fmt.Sprintf("file %s row %d", r.FileID, r.RowIndex)
}

// DuplicateError reports a repeated value in a unique column.
// First is the kept occurrence, Duplicate the dropped one.
type DuplicateError struct {
	Column    string       `json:"column"`
	Value     string       `json:"value"`
	First     SourceRowRef `json:"first"`
	Duplicate SourceRowRef `json:"duplicate"`
}

func (e DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s %q in %s (first seen in %s)", e.Column, e.Value, e.Duplicate, e.First)
}

// DropdownError reports an enum value outside the column's options.
type DropdownError struct {
	Column  string       `json:"column"`
	Value   string       `json:"value"`
	Row     SourceRowRef `json:"row"`
	Allowed []string     `json:"allowed"`
}

func (e DropdownError) Error() string {
	return fmt.Sprintf("%s %q in %s is not one of: %s", e.Column, e.Value, e.Row, strings.Join(e.Allowed, ", "))
}

// MergeError is returned when a merge is refused. It enumerates every
// offending row at once so the sources can be fixed in one pass.
type MergeError struct {
	Duplicates  []DuplicateError `json:"duplicateErrors"`
	Dropdowns   []DropdownError  `json:"dropdownErrors"`
	FieldErrors []RowFieldError  `json:"fieldErrors,omitempty"`
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge refused: %d duplicate(s), %d invalid dropdown value(s), %d invalid row(s)",
		len(e.Duplicates), len(e.Dropdowns), len(e.FieldErrors))
}

// Conflict describes a row already reserved by another holder.
type Conflict struct {
	FormatID    string `json:"formatId"`
	RowIndex    int    `json:"rowIndex"`
	HolderLabel string `json:"holderLabel"`
}

// ConflictError is returned when a save needs rows reserved by others.
// No reservation or file is changed when it is returned.
type ConflictError struct {
	Conflicts []Conflict `json:"conflicts"`
}

func (e *ConflictError) Error() string {
	idx := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		idx[i] = fmt.Sprintf("%d (%s)", c.RowIndex, c.HolderLabel)
	}
	return "reservation conflict on rows " + strings.Join(idx, ", ")
}
