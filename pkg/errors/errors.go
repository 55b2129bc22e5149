package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile          ErrorCategory = "file"
	CategoryParse         ErrorCategory = "parse"
	CategoryValidation    ErrorCategory = "validation"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryMatching      ErrorCategory = "matching"
	CategoryPersistence   ErrorCategory = "persistence"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileCorrupted  ErrorCode = "file_corrupted"
	CodeUnsupportedFile ErrorCode = "unsupported_file"

	// Parse errors
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeMissingColumn ErrorCode = "missing_column"
	CodeInvalidData   ErrorCode = "invalid_data"

	// Validation errors
	CodeInvalidAmount        ErrorCode = "invalid_amount"
	CodeInvalidDate          ErrorCode = "invalid_date"
	CodeMissingField         ErrorCode = "missing_field"
	CodeOutOfRange           ErrorCode = "out_of_range"
	CodeAmountExceedsBalance ErrorCode = "amount_exceeds_balance"
	CodeDuplicateEntry       ErrorCode = "duplicate_entry"
	CodeEmptyBatch           ErrorCode = "empty_batch"
	CodeTotalMismatch        ErrorCode = "total_mismatch"
	CodeBatchDiscarded       ErrorCode = "batch_discarded"
	CodeStaleBalance         ErrorCode = "stale_balance"
	CodeAlreadyVoided        ErrorCode = "already_voided"
	CodeNotOriginal          ErrorCode = "not_original"

	// Not found errors
	CodeTransactionNotFound ErrorCode = "transaction_not_found"
	CodeBatchNotFound       ErrorCode = "batch_not_found"
	CodeMappingNotFound     ErrorCode = "mapping_not_found"

	// Matching errors
	CodeMatchingFailed ErrorCode = "matching_failed"
	CodeInvalidMapping ErrorCode = "invalid_mapping"

	// Persistence errors
	CodeWriteFailed   ErrorCode = "write_failed"
	CodeReadFailed    ErrorCode = "read_failed"
	CodePartialWrite  ErrorCode = "partial_write"
	CodeMigration     ErrorCode = "migration_failed"

	// Configuration errors
	CodeInvalidConfig  ErrorCode = "invalid_config"
	CodeMissingConfig  ErrorCode = "missing_config"
	CodeConfigConflict ErrorCode = "config_conflict"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// ItemFailure describes one audit entry that could not be written.
type ItemFailure struct {
	EntryID       string `json:"entry_id"`
	TransactionID string `json:"transaction_id"`
	Message       string `json:"message"`
}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation, CategoryNotFound:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryMatching, CategoryInternal:
		return 5
	case CategoryPersistence:
		return 6
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// Succeeded lists the entry ids that were written before a persistence failure.
func (e *ReconcilerError) Succeeded() []string {
	ids, _ := e.Context["succeeded"].([]string)
	return ids
}

// Failures lists the entries that could not be written.
func (e *ReconcilerError) Failures() []ItemFailure {
	failures, _ := e.Context["failed"].([]ItemFailure)
	return failures
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(category ErrorCategory, code ErrorCode, message string, err error) *ReconcilerError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	case CodeFileCorrupted:
		message = fmt.Sprintf("file appears to be corrupted: %s", path)
		suggestion = "re-export the statement from the carrier portal"
	case CodeUnsupportedFile:
		message = fmt.Sprintf("unsupported file type: %s", path)
		suggestion = "statements must be .csv or .xlsx files"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	return build(CategoryFile, code, message, err).
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// ParseError creates a parsing-related error
func ParseError(code ErrorCode, file string, line int, column string, value string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidFormat:
		message = fmt.Sprintf("invalid format in file %s at line %d, column '%s': '%s'", file, line, column, value)
		suggestion = "check the data format and ensure it matches the expected structure"
	case CodeMissingColumn:
		message = fmt.Sprintf("missing required column '%s' in file %s", column, file)
		suggestion = "verify the column mapping against the statement headers"
	case CodeInvalidData:
		message = fmt.Sprintf("invalid data in file %s at line %d, column '%s': '%s'", file, line, column, value)
		suggestion = "correct the data format or remove the invalid entry"
	default:
		message = fmt.Sprintf("parse error in file %s at line %d", file, line)
		suggestion = "check the file format and data integrity"
	}

	return build(CategoryParse, code, message, err).
		WithSuggestion(suggestion).
		WithContext("file", file).
		WithContext("line", line).
		WithContext("column", column).
		WithContext("value", value)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "amounts must be non-zero decimal numbers (e.g., '12.34')"
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "use date format YYYY-MM-DD or MM/DD/YYYY"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in field '%s': %v", field, value)
		suggestion = "ensure the value is within the acceptable range"
	case CodeAmountExceedsBalance:
		message = fmt.Sprintf("amount for transaction '%s' exceeds its outstanding balance: %v", field, value)
		suggestion = "reduce the amount or record the excess as an adjustment"
	case CodeDuplicateEntry:
		message = fmt.Sprintf("transaction '%s' is already in the batch", field)
		suggestion = "remove the existing entry before adding it again"
	case CodeEmptyBatch:
		message = "batch has no entries"
		suggestion = "add at least one transaction before committing"
	case CodeTotalMismatch:
		message = fmt.Sprintf("batch total does not equal the statement total: %v", value)
		suggestion = "add or remove entries until the difference is zero"
	case CodeBatchDiscarded:
		message = "batch has been discarded"
		suggestion = "start a new batch"
	case CodeStaleBalance:
		message = fmt.Sprintf("balance of transaction '%s' changed since the batch was started: %v", field, value)
		suggestion = "discard the batch and rebuild it from current balances"
	case CodeAlreadyVoided:
		message = fmt.Sprintf("batch '%v' has already been voided", value)
		suggestion = "check reconciliation history for the existing void"
	case CodeNotOriginal:
		message = fmt.Sprintf("transaction '%v' is a reconciliation entry, not an original transaction", value)
		suggestion = "reference the original policy transaction id"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return build(CategoryValidation, code, message, err).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// NotFoundError creates an error for a missing transaction, batch or mapping
func NotFoundError(code ErrorCode, id string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeTransactionNotFound:
		message = fmt.Sprintf("transaction not found: %s", id)
		suggestion = "check the transaction id"
	case CodeBatchNotFound:
		message = fmt.Sprintf("reconciliation batch not found: %s", id)
		suggestion = "list batches with the history command"
	case CodeMappingNotFound:
		message = fmt.Sprintf("column mapping not found: %s", id)
		suggestion = "save the mapping first or pass columns explicitly"
	default:
		message = fmt.Sprintf("not found: %s", id)
	}

	return build(CategoryNotFound, code, message, err).
		WithSuggestion(suggestion).
		WithContext("id", id)
}

// MatchingError creates a matching-related error
func MatchingError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidMapping:
		message = fmt.Sprintf("invalid column mapping for %s", operation)
		suggestion = "map the agent paid amount column and the customer or policy number column"
	case CodeMatchingFailed:
		message = fmt.Sprintf("matching failed during %s", operation)
		suggestion = "check statement data quality"
	default:
		message = fmt.Sprintf("matching error during %s", operation)
		suggestion = "review the statement and configuration"
	}

	return build(CategoryMatching, code, message, err).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// PersistenceError creates a storage error. For batch writes the entries that
// were and were not written are recorded so the caller can report them.
func PersistenceError(code ErrorCode, operation string, succeeded []string, failed []ItemFailure, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodePartialWrite:
		message = fmt.Sprintf("%s wrote %d of %d entries", operation, len(succeeded), len(succeeded)+len(failed))
		suggestion = "void the batch and commit it again once storage is available"
	case CodeReadFailed:
		message = fmt.Sprintf("failed to read from storage during %s", operation)
		suggestion = "check the database path and permissions"
	case CodeMigration:
		message = fmt.Sprintf("database migration failed during %s", operation)
		suggestion = "restore the database from backup"
	default:
		message = fmt.Sprintf("failed to write to storage during %s", operation)
		suggestion = "check the database path and permissions"
	}

	result := build(CategoryPersistence, code, message, err).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
	if succeeded != nil || failed != nil {
		result.WithContext("succeeded", succeeded).WithContext("failed", failed)
	}
	return result
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	case CodeConfigConflict:
		message = fmt.Sprintf("configuration conflict with setting '%s': %v", setting, value)
		suggestion = "resolve the conflicting settings or use default values"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return build(CategoryConfiguration, code, message, err).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	message := fmt.Sprintf("unexpected error during %s", operation)
	return build(CategoryInternal, code, message, err).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*ReconcilerError    `json:"errors"`
	SampleErrors []*ReconcilerError    `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if summary.Errors == nil {
		summary.Errors = []*ReconcilerError{}
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	maxSamples := 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}
	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}
	return maxCode
}

// IsReconcilerError checks if an error is a ReconcilerError
func IsReconcilerError(err error) bool {
	_, ok := err.(*ReconcilerError)
	return ok
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// IsCategory reports whether err carries a ReconcilerError of the given category.
func IsCategory(err error, category ErrorCategory) bool {
	re, ok := AsReconcilerError(err)
	return ok && re.Category == category
}

// HasCode reports whether err carries a ReconcilerError with the given code.
func HasCode(err error, code ErrorCode) bool {
	re, ok := AsReconcilerError(err)
	return ok && re.Code == code
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return Wrap(err, category, code, message)
}
