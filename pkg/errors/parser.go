package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// RowContext locates a problem inside a statement or policy file
type RowContext struct {
	Source   string `json:"source,omitempty"`
	Row      int    `json:"row"`
	Column   string `json:"column,omitempty"`
	Value    string `json:"value,omitempty"`
	Expected string `json:"expected,omitempty"`
}

// RowError is a parse or validation failure tied to one input row. Rows that
// fail are reported back to the caller instead of being dropped.
type RowError struct {
	*ReconcilerError
	Location *RowContext `json:"location"`
	Examples []string    `json:"examples,omitempty"`
}

// Error implements the error interface with location information
func (e *RowError) Error() string {
	if e.Location == nil {
		return e.ReconcilerError.Error()
	}

	location := fmt.Sprintf("row %d", e.Location.Row)
	if e.Location.Source != "" {
		location = fmt.Sprintf("%s %s", filepath.Base(e.Location.Source), location)
	}
	if e.Location.Column != "" {
		location += fmt.Sprintf(" column '%s'", e.Location.Column)
	}
	return fmt.Sprintf("%s at %s", e.ReconcilerError.Error(), location)
}

// Unwrap exposes the underlying ReconcilerError to errors.As
func (e *RowError) Unwrap() error {
	return e.ReconcilerError
}

// GetDetailedError returns a detailed multi-line error description
func (e *RowError) GetDetailedError() string {
	lines := []string{fmt.Sprintf("ERROR: %s", e.Message)}

	if e.Location != nil {
		if e.Location.Source != "" {
			lines = append(lines, fmt.Sprintf("  → File: %s", e.Location.Source))
		}
		lines = append(lines, fmt.Sprintf("  → Row: %d", e.Location.Row))
		if e.Location.Column != "" {
			lines = append(lines, fmt.Sprintf("  → Column: %s", e.Location.Column))
		}
		if e.Location.Value != "" {
			lines = append(lines, fmt.Sprintf("  → Value: '%s'", e.Location.Value))
		}
		if e.Location.Expected != "" {
			lines = append(lines, fmt.Sprintf("  → Expected: %s", e.Location.Expected))
		}
	}
	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  → Suggestion: %s", e.Suggestion))
	}
	if len(e.Examples) > 0 {
		lines = append(lines, fmt.Sprintf("  → Examples: %s", strings.Join(e.Examples, ", ")))
	}

	return strings.Join(lines, "\n")
}

// NewRowError creates a row error with the given category and code
func NewRowError(category ErrorCategory, code ErrorCode, location *RowContext, message string, cause error) *RowError {
	base := build(category, code, message, cause)
	if location != nil {
		base.WithContext("row", location.Row).
			WithContext("column", location.Column).
			WithContext("value", location.Value)
	}
	return &RowError{ReconcilerError: base, Location: location}
}

// WithExamples adds example values to help fix the error
func (e *RowError) WithExamples(examples ...string) *RowError {
	e.Examples = examples
	return e
}

// InvalidAmountError reports a money column that is not a decimal number
func InvalidAmountError(source string, row int, column, value string) *RowError {
	location := &RowContext{Source: source, Row: row, Column: column, Value: value, Expected: "decimal number"}
	err := NewRowError(CategoryParse, CodeInvalidAmount, location, "invalid amount format", nil).
		WithExamples("12.34", "$1,250.50", "(500.00)")
	err.WithSuggestion("use a plain decimal amount; currency symbols and thousands separators are accepted")
	return err
}

// InvalidDateError reports a date column that matches none of the accepted layouts
func InvalidDateError(source string, row int, column, value string) *RowError {
	location := &RowContext{Source: source, Row: row, Column: column, Value: value, Expected: "date"}
	err := NewRowError(CategoryParse, CodeInvalidDate, location, "invalid date format", nil).
		WithExamples("2024-06-30", "06/30/2024", "6/30/24")
	err.WithSuggestion("use YYYY-MM-DD or MM/DD/YYYY")
	return err
}

// EmptyValueError reports a required column that is blank
func EmptyValueError(source string, row int, column string) *RowError {
	location := &RowContext{Source: source, Row: row, Column: column, Expected: "non-empty value"}
	err := NewRowError(CategoryValidation, CodeMissingField, location, "required field is empty", nil)
	err.WithSuggestion("provide a value for this required field")
	return err
}

// MissingColumnsError reports mapped or required columns absent from the header
func MissingColumnsError(source string, expected, actual []string) *RowError {
	missing := findMissingColumns(expected, actual)
	location := &RowContext{Source: source, Row: 1, Expected: strings.Join(expected, ", ")}
	err := NewRowError(CategoryParse, CodeMissingColumn, location,
		fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")), nil)
	err.WithSuggestion("check the column mapping against the file header")
	return err
}

// RowErrorCollector collects row errors up to a limit
type RowErrorCollector struct {
	errors    []*RowError
	maxErrors int
}

// NewRowErrorCollector creates a collector; maxErrors <= 0 means unlimited
func NewRowErrorCollector(maxErrors int) *RowErrorCollector {
	return &RowErrorCollector{maxErrors: maxErrors}
}

// Add records err and reports whether processing should continue
func (c *RowErrorCollector) Add(err *RowError) bool {
	if err == nil {
		return true
	}
	c.errors = append(c.errors, err)
	return c.maxErrors <= 0 || len(c.errors) < c.maxErrors
}

// HasErrors returns true if any errors have been collected
func (c *RowErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all collected errors
func (c *RowErrorCollector) Errors() []*RowError {
	return c.errors
}

// Summary returns an error summary for all collected errors
func (c *RowErrorCollector) Summary() *ErrorSummary {
	result := make([]*ReconcilerError, len(c.errors))
	for i, err := range c.errors {
		result[i] = err.ReconcilerError
	}
	return NewErrorSummary(result)
}

func findMissingColumns(expected, actual []string) []string {
	actualSet := make(map[string]bool)
	for _, col := range actual {
		actualSet[strings.ToLower(strings.TrimSpace(col))] = true
	}

	var missing []string
	for _, col := range expected {
		if !actualSet[strings.ToLower(strings.TrimSpace(col))] {
			missing = append(missing, col)
		}
	}
	return missing
}

// FormatRowErrorsForUser formats row errors, showing the first few in detail
func FormatRowErrorsForUser(errs []*RowError) string {
	if len(errs) == 0 {
		return "No row errors"
	}
	if len(errs) == 1 {
		return errs[0].GetDetailedError()
	}

	lines := []string{fmt.Sprintf("Found %d row errors:", len(errs))}
	maxDetailed := 3
	for i, err := range errs {
		if i == maxDetailed {
			lines = append(lines, "", fmt.Sprintf("... and %d more", len(errs)-maxDetailed))
			break
		}
		lines = append(lines, "", err.GetDetailedError())
	}
	return strings.Join(lines, "\n")
}
