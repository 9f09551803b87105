package core

import (
	"testing"
	"time"
)

// ----------------------------------------------------------------------------
// ParseNumber Tests
// ----------------------------------------------------------------------------

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		wantOK bool
		want   float64
	}{
		// Valid: Basic integers and decimals
		{name: "positive integer", input: "123", wantOK: true, want: 123},
		{name: "zero", input: "0", wantOK: true, want: 0},
		{name: "negative integer", input: "-456", wantOK: true, want: -456},
		{name: "decimal number", input: "123.45", wantOK: true, want: 123.45},
		{name: "leading decimal point", input: ".99", wantOK: true, want: 0.99},
		{name: "trailing decimal point", input: "99.", wantOK: true, want: 99},
		{name: "scientific notation", input: "1e3", wantOK: true, want: 1000},

		// Valid: Currency symbols and separators
		{name: "dollar with thousands", input: "$1,234.50", wantOK: true, want: 1234.5},
		{name: "euro", input: "€99", wantOK: true, want: 99},
		{name: "pound", input: "£7.25", wantOK: true, want: 7.25},

		// Valid: Accounting negatives
		{name: "parentheses negative", input: "(12.5)", wantOK: true, want: -12.5},
		{name: "parentheses with currency", input: "($1,000)", wantOK: true, want: -1000},

		// Valid: Spreadsheet artifacts
		{name: "formula prefix", input: `="42"`, wantOK: true, want: 42},
		{name: "surrounding whitespace", input: "  8  ", wantOK: true, want: 8},

		// Invalid
		{name: "empty", input: "", wantOK: false},
		{name: "letters", input: "abc", wantOK: false},
		{name: "mixed", input: "12abc", wantOK: false},
		{name: "two decimal points", input: "1.2.3", wantOK: false},
		{name: "only currency", input: "$", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseNumber(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseNumber(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("ParseNumber(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ParseDate Tests
// ----------------------------------------------------------------------------

func TestParseDate(t *testing.T) {
	jan15 := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		input  string
		wantOK bool
		want   time.Time
	}{
		// 4-digit year layouts
		{name: "ISO", input: "2024-01-15", wantOK: true, want: jan15},
		{name: "RFC3339 drops time", input: "2024-01-15T10:30:00Z", wantOK: true, want: jan15},
		{name: "datetime", input: "2024-01-15 23:59:59", wantOK: true, want: jan15},
		{name: "day first slash", input: "15/01/2024", wantOK: true, want: jan15},
		{name: "day first single digits", input: "5/1/2024", wantOK: true, want: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)},
		{name: "day first dash", input: "15-01-2024", wantOK: true, want: jan15},
		{name: "day first dot", input: "15.01.2024", wantOK: true, want: jan15},
		{name: "year first slash", input: "2024/01/15", wantOK: true, want: jan15},
		{name: "month name", input: "Jan 15, 2024", wantOK: true, want: jan15},
		{name: "day month name", input: "15 Jan 2024", wantOK: true, want: jan15},
		{name: "compact", input: "20240115", wantOK: true, want: jan15},

		// Spreadsheet serial day counts
		{name: "serial", input: "45306", wantOK: true, want: jan15},
		{name: "serial with fraction", input: "45306.75", wantOK: true, want: jan15},

		// Spreadsheet artifacts
		{name: "formula prefix", input: `="2024-01-15"`, wantOK: true, want: jan15},

		// Invalid
		{name: "empty", input: "", wantOK: false},
		{name: "text", input: "hello", wantOK: false},
		{name: "month first rejected", input: "01/15/2024", wantOK: false},
		{name: "impossible day", input: "32/01/2024", wantOK: false},
		{name: "serial zero", input: "0", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseDate(%q) ok = %v, want %v (got %v)", tt.input, ok, tt.wantOK, got)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseDate_TwoDigitYear(t *testing.T) {
	tests := []struct {
		input    string
		wantYear int
	}{
		{input: "15/01/24", wantYear: 2024},
		{input: "15/01/99", wantYear: 1999},
		{input: "1/2/05", wantYear: 2005},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			if !ok {
				t.Fatalf("ParseDate(%q) failed", tt.input)
			}
			if got.Year() != tt.wantYear {
				t.Errorf("ParseDate(%q) year = %d, want %d", tt.input, got.Year(), tt.wantYear)
			}
		})
	}
}

func TestParseDate_PivotMovesFarFutureBack(t *testing.T) {
	old := TwoDigitYearPivot
	TwoDigitYearPivot = 0
	defer func() { TwoDigitYearPivot = old }()

	// "60" parses as 2060, which is beyond the current year plus a zero pivot.
	got, ok := ParseDate("01/01/60")
	if !ok {
		t.Fatal("ParseDate failed")
	}
	if got.Year() != 1960 {
		t.Errorf("year = %d, want 1960", got.Year())
	}
}

func TestSerialToDate(t *testing.T) {
	tests := []struct {
		serial float64
		wantOK bool
		want   string
	}{
		{serial: 45292, wantOK: true, want: "2024-01-01"},
		{serial: 36526, wantOK: true, want: "2000-01-01"},
		{serial: 0.5, wantOK: false},
		{serial: -3, wantOK: false},
		{serial: 3000000, wantOK: false},
	}

	for _, tt := range tests {
		got, ok := SerialToDate(tt.serial)
		if ok != tt.wantOK {
			t.Errorf("SerialToDate(%v) ok = %v, want %v", tt.serial, ok, tt.wantOK)
			continue
		}
		if ok && got.Format(DateLayout) != tt.want {
			t.Errorf("SerialToDate(%v) = %s, want %s", tt.serial, got.Format(DateLayout), tt.want)
		}
	}
}

// ----------------------------------------------------------------------------
// ParseEmail Tests
// ----------------------------------------------------------------------------

func TestParseEmail(t *testing.T) {
	tests := []struct {
		input  string
		wantOK bool
		want   string
	}{
		{input: "alice@example.com", wantOK: true, want: "alice@example.com"},
		{input: "Alice.Smith@Example.COM", wantOK: true, want: "Alice.Smith@example.com"},
		{input: "  bo+tag@corp.io  ", wantOK: true, want: "bo+tag@corp.io"},
		{input: "", wantOK: false},
		{input: "not an email", wantOK: false},
		{input: "user@localhost", wantOK: false},
		{input: "Alice <alice@example.com>", wantOK: false},
		{input: "a@b@c.com", wantOK: false},
		{input: "@example.com", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseEmail(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseEmail(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("ParseEmail(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// CleanCell Tests
// ----------------------------------------------------------------------------

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple string unchanged", input: "hello", want: "hello"},
		{name: "empty string", input: "", want: ""},
		{name: "surrounded by whitespace", input: "  hello  ", want: "hello"},
		{name: "formula with quotes", input: `="hello"`, want: "hello"},
		{name: "formula number as text", input: `="12345"`, want: "12345"},
		{name: "bare equals sign", input: "=SUM(A1)", want: "SUM(A1)"},
		{name: "double quotes removed", input: `"hello"`, want: "hello"},
		{name: "single quotes removed", input: "'hello'", want: "hello"},
		{name: "leading single quote text prefix", input: "'12345", want: "12345"},
		{name: "whitespace and quotes", input: `  "hello"  `, want: "hello"},
		{name: "only quotes", input: `""`, want: ""},
		{name: "equals with quoted number", input: `="0"`, want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanCell(tt.input)
			if got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
