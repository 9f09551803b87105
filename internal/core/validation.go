package core

// validation.go provides row-level validation against a Format.
//
// Validation is pure: it never touches a store. Each cell is checked against
// its Column (required, type, range, options) and normalized to a typed Value.
// When a row comes from a reserved template slot, non-editable columns are
// compared with the template row and corrected rather than rejected.

import (
	"fmt"
	"strings"
)

// RowResult contains the result of validating a row.
type RowResult struct {
	Row         Row                     // Normalized row, format columns only
	Errors      []FieldError            // Empty when the row is valid
	Corrections []LockedColumnViolation // Locked values replaced from the template
}

// OK reports whether the row passed validation.
func (r RowResult) OK() bool { return len(r.Errors) == 0 }

// ValidateRow validates a single row and returns all validation errors.
// canonical is the template row at the same index when the row comes from
// a reserved slot, nil otherwise.
func ValidateRow(f *Format, row Row, canonical Row) RowResult {
	result := RowResult{Row: make(Row, len(f.Columns))}

	for _, col := range f.Ordered() {
		submitted, present := row.Get(col.Name)

		if canonical != nil && !col.EditableByUser {
			want, _ := canonical.Get(col.Name)
			if present && !submitted.Equal(want) {
				result.Corrections = append(result.Corrections, LockedColumnViolation{
					Column:    col.Name,
					Submitted: submitted.String(),
					Canonical: want.String(),
				})
			}
			result.Row[col.Name] = want
			continue
		}

		v, ferr := ValidateCell(submitted, col)
		if ferr != nil {
			result.Errors = append(result.Errors, *ferr)
			continue
		}
		result.Row[col.Name] = v
	}

	return result
}

// ValidateCell validates a single cell value against a column and returns
// its normalized form.
func ValidateCell(v Value, col Column) (Value, *FieldError) {
	if v.IsEmpty() {
		if col.Required {
			return Value{}, &FieldError{Column: col.Name, Code: CodeRequired, Message: "required field is empty"}
		}
		return Value{}, nil
	}

	raw := v.String()

	switch col.Type {
	case ColumnNumber:
		f, ok := v.Number()
		if !ok {
			f, ok = ParseNumber(raw)
		}
		if !ok {
			return Value{}, &FieldError{Column: col.Name, Value: raw, Code: CodeInvalidNumber, Message: "invalid number format"}
		}
		if !col.Range.Contains(f) {
			return Value{}, &FieldError{
				Column:  col.Name,
				Value:   raw,
				Code:    CodeOutOfRange,
				Message: fmt.Sprintf("value must be within %s", col.Range),
			}
		}
		return NumberValue(f), nil

	case ColumnDate:
		if d, ok := v.Date(); ok {
			return DateValue(d), nil
		}
		if n, ok := v.Number(); ok {
			if d, ok := SerialToDate(n); ok {
				return DateValue(d), nil
			}
		} else if d, ok := ParseDate(raw); ok {
			return DateValue(d), nil
		}
		return Value{}, &FieldError{Column: col.Name, Value: raw, Code: CodeInvalidDate, Message: "invalid date format (use YYYY-MM-DD or DD/MM/YYYY)"}

	case ColumnEmail:
		addr, ok := ParseEmail(raw)
		if !ok {
			return Value{}, &FieldError{Column: col.Name, Value: raw, Code: CodeInvalidEmail, Message: "invalid email address"}
		}
		return TextValue(addr), nil

	case ColumnEnum:
		opt, ok := col.MatchOption(CleanCell(raw))
		if !ok {
			return Value{}, &FieldError{
				Column:  col.Name,
				Value:   raw,
				Code:    CodeInvalidOption,
				Message: "value must be one of: " + strings.Join(col.EnumOptions, ", "),
			}
		}
		return EnumValue(opt), nil

	default:
		return TextValue(CleanCell(raw)), nil
	}
}

// ValidateRows validates a batch of rows. canonicals may be nil, or hold
// the template row for each input row (nil entries for free rows).
// The returned error is a *ValidationError listing every invalid row and
// every out-of-options enum value.
func ValidateRows(f *Format, rows []Row, canonicals []Row) ([]RowResult, error) {
	results := make([]RowResult, len(rows))
	var verr ValidationError

	for i, row := range rows {
		var canonical Row
		if i < len(canonicals) {
			canonical = canonicals[i]
		}
		res := ValidateRow(f, row, canonical)
		for j := range res.Corrections {
			res.Corrections[j].RowIndex = i
		}
		results[i] = res
		if !res.OK() {
			ref := SourceRowRef{RowIndex: i}
			dropdowns, other := splitDropdowns(f, ref, res.Errors)
			verr.Dropdowns = append(verr.Dropdowns, dropdowns...)
			if len(other) > 0 {
				verr.Rows = append(verr.Rows, RowFieldError{Row: ref, Errors: other})
			}
		}
	}

	if len(verr.Rows) > 0 || len(verr.Dropdowns) > 0 {
		return results, &verr
	}
	return results, nil
}
