package core

// convert.go turns loosely formatted cell text into typed values.
//
// These functions handle the messy reality of user-provided tabular data:
//   - Multiple date formats (ISO, day-first, spreadsheet serial day counts)
//   - Currency symbols and thousand separators in numbers
//   - Accounting negatives written as (123.45)
//   - Spreadsheet formula prefixes (="value") and stray quotes
//
// Parse* functions return ok=false for invalid input and never panic.

import (
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// serialRegex matches a spreadsheet serial day count, optionally fractional.
var serialRegex = regexp.MustCompile(`^\d{1,7}(\.\d+)?$`)

// Spreadsheet serial day counts accepted as dates (1900-01-01 .. 9999-12-31).
const (
	minSerialDay = 1
	maxSerialDay = 2958465
)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// Day-first layouts; month-first input is not accepted because the
// templates are filled in dd/mm/yyyy locales.
var (
	twoDigitYearLayouts = []string{
		"2/1/06", "02/01/06", "2-1-06", "02-01-06", "2.1.06", "02.01.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02",
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2/1/2006", "02/01/2006", "2-1-2006", "02-01-2006", "2.1.2006", "02.01.2006",
		"2006/01/02", "2006/1/2", "2006.01.02",
		"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "2 January 2006", "02-Jan-2006",
		"20060102",
	}
)

// CleanCell removes common spreadsheet artifacts from a cell value:
//   - Trims whitespace
//   - Removes the formula prefix (="...")
//   - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

// ParseNumber converts cell text to a float.
// Handles currency symbols, thousands separators, and accounting format (parentheses for negative).
func ParseNumber(s string) (float64, bool) {
	s = CleanCell(s)
	if s == "" {
		return 0, false
	}

	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return 0, false
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseDate converts cell text to a calendar date.
// Supports ISO, day-first layouts, 2-digit years with pivot, and
// spreadsheet serial day counts.
func ParseDate(s string) (time.Time, bool) {
	s = CleanCell(s)
	if s == "" {
		return time.Time{}, false
	}

	// 4-digit year layouts first (unambiguous)
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDate(t), true
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return truncateDate(t), true
		}
	}

	if serialRegex.MatchString(s) {
		f, err := strconv.ParseFloat(s, 64)
		if err == nil {
			return SerialToDate(f)
		}
	}

	return time.Time{}, false
}

// SerialToDate converts a spreadsheet serial day count (1900 date system)
// to a calendar date.
func SerialToDate(serial float64) (time.Time, bool) {
	if serial < minSerialDay || serial > maxSerialDay {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return time.Time{}, false
	}
	return truncateDate(t), true
}

// ParseEmail validates a bare email address and lower-cases its domain.
func ParseEmail(s string) (string, bool) {
	s = CleanCell(s)
	if s == "" || strings.ContainsAny(s, " <>") {
		return "", false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", false
	}
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 || !strings.Contains(s[at+1:], ".") {
		return "", false
	}
	return s[:at] + "@" + strings.ToLower(s[at+1:]), true
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
