package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical date format used in keys and storage
const DateLayout = "2006-01-02"

// Layouts accepted for dates in statements and policy files. US month-first
// forms are tried before anything ambiguous.
var dateLayouts = []string{
	DateLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"01-02-2006",
	"1-2-06",
	"01-02-06",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04",
	"Jan 2, 2006",
	"January 2, 2006",
	"2-Jan-2006",
	"02-Jan-06",
}

// ParseDecimalFromString parses an amount, accepting currency symbols,
// thousands separators and accounting-style parentheses for negatives.
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if strings.HasPrefix(s, "-") && negative {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': double negative", s)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// ParseOptionalDecimal parses an amount, treating a blank value as zero
func ParseOptionalDecimal(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	return ParseDecimalFromString(s)
}

// ParseDate parses a date in any accepted layout and drops the time of day
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOnly(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date '%s'", s)
}

// ParseOptionalDate parses a date, treating a blank value as the zero time
func ParseOptionalDate(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return ParseDate(s)
}

// DateOnly truncates t to midnight UTC of its calendar day
func DateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders t as YYYY-MM-DD, or "" for the zero time
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// SameDate compares two dates by calendar day
func SameDate(a, b time.Time) bool {
	return FormatDate(a) == FormatDate(b)
}

// WithinPercent reports whether actual is within pct percent of expected,
// measured relative to expected. A zero expected amount never matches.
func WithinPercent(actual, expected decimal.Decimal, pct float64) bool {
	if expected.IsZero() {
		return false
	}
	ratio := actual.Sub(expected).Abs().Div(expected.Abs())
	return ratio.LessThanOrEqual(decimal.NewFromFloat(pct).Div(hundred))
}
