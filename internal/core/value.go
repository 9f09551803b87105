package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical calendar date representation.
const DateLayout = "2006-01-02"

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindText
	KindNumber
	KindDate
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	case KindEnum:
		return "enum"
	default:
		return "empty"
	}
}

func parseKind(s string) (Kind, bool) {
	switch s {
	case "", "empty":
		return KindEmpty, true
	case "text":
		return KindText, true
	case "number":
		return KindNumber, true
	case "date":
		return KindDate, true
	case "enum":
		return KindEnum, true
	}
	return KindEmpty, false
}

// Value is a single cell. The zero Value is empty.
type Value struct {
	kind Kind
	str  string
	num  float64
	date time.Time
}

// TextValue returns a text cell.
func TextValue(s string) Value { return Value{kind: KindText, str: s} }

// NumberValue returns a number cell.
func NumberValue(f float64) Value { return Value{kind: KindNumber, num: f} }

// DateValue returns a date cell truncated to its UTC calendar day.
func DateValue(t time.Time) Value {
	y, m, d := t.Date()
	return Value{kind: KindDate, date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// EnumValue returns an enum cell holding a canonical option.
func EnumValue(tag string) Value { return Value{kind: KindEnum, str: tag} }

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsEmpty reports whether v carries no usable value.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindEmpty:
		return true
	case KindText, KindEnum:
		return strings.TrimSpace(v.str) == ""
	}
	return false
}

// Number returns the numeric payload.
func (v Value) Number() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// Date returns the date payload.
func (v Value) Date() (time.Time, bool) {
	if v.kind != KindDate {
		return time.Time{}, false
	}
	return v.date, true
}

// String returns the canonical text form used for comparisons and display.
func (v Value) String() string {
	switch v.kind {
	case KindText, KindEnum:
		return v.str
	case KindNumber:
		return formatNumber(v.num)
	case KindDate:
		return v.date.Format(DateLayout)
	}
	return ""
}

// Equal reports whether two values have the same canonical form.
func (v Value) Equal(o Value) bool {
	if v.IsEmpty() && o.IsEmpty() {
		return true
	}
	return v.String() == o.String()
}

// MarshalJSON encodes v as a JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindEmpty:
		return []byte("null"), nil
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return nil, fmt.Errorf("cannot encode number %v", v.num)
		}
		return []byte(formatNumber(v.num)), nil
	default:
		return json.Marshal(v.String())
	}
}

// UnmarshalJSON decodes a JSON scalar. Strings become text and numbers
// become numbers; typing against a Format happens during validation.
func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*v = Value{}
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = TextValue(s)
	case 't', 'f':
		var flag bool
		if err := json.Unmarshal(b, &flag); err != nil {
			return err
		}
		*v = TextValue(strconv.FormatBool(flag))
	default:
		f, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return fmt.Errorf("cell must be a string, number, boolean or null: %s", b)
		}
		*v = NumberValue(f)
	}
	return nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Row maps column names to cell values.
type Row map[string]Value

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Get looks a cell up by column name, falling back to a case-insensitive match.
func (r Row) Get(column string) (Value, bool) {
	if v, ok := r[column]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return Value{}, false
}

// storedCell is the kind-preserving storage encoding of a Value.
type storedCell struct {
	Kind string `json:"k"`
	Text string `json:"v"`
}

// MarshalRow encodes a row for persistence, keeping each cell's kind.
func MarshalRow(r Row) ([]byte, error) {
	cells := make(map[string]storedCell, len(r))
	for col, v := range r {
		cells[col] = storedCell{Kind: v.kind.String(), Text: v.String()}
	}
	return json.Marshal(cells)
}

// UnmarshalRow decodes a row written by MarshalRow.
func UnmarshalRow(b []byte) (Row, error) {
	var cells map[string]storedCell
	if err := json.Unmarshal(b, &cells); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	row := make(Row, len(cells))
	for col, c := range cells {
		kind, ok := parseKind(c.Kind)
		if !ok {
			return nil, fmt.Errorf("decode row: column %q has unknown kind %q", col, c.Kind)
		}
		switch kind {
		case KindEmpty:
			row[col] = Value{}
		case KindText:
			row[col] = TextValue(c.Text)
		case KindEnum:
			row[col] = EnumValue(c.Text)
		case KindNumber:
			f, err := strconv.ParseFloat(c.Text, 64)
			if err != nil {
				return nil, fmt.Errorf("decode row: column %q: %w", col, err)
			}
			row[col] = NumberValue(f)
		case KindDate:
			t, err := time.Parse(DateLayout, c.Text)
			if err != nil {
				return nil, fmt.Errorf("decode row: column %q: %w", col, err)
			}
			row[col] = DateValue(t)
		}
	}
	return row, nil
}

// MarshalRows encodes a row list with MarshalRow. A nil list encodes as null.
func MarshalRows(rows []Row) ([]byte, error) {
	if rows == nil {
		return []byte("null"), nil
	}
	cells := make([]json.RawMessage, len(rows))
	for i, r := range rows {
		b, err := MarshalRow(r)
		if err != nil {
			return nil, err
		}
		cells[i] = b
	}
	return json.Marshal(cells)
}

// UnmarshalRows decodes a list written by MarshalRows.
func UnmarshalRows(b []byte) ([]Row, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var cells []json.RawMessage
	if err := json.Unmarshal(b, &cells); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	if cells == nil {
		return nil, nil
	}
	rows := make([]Row, len(cells))
	for i, c := range cells {
		r, err := UnmarshalRow(c)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rows[i] = r
	}
	return rows, nil
}
