package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory groups error codes by the layer that raised them
type ErrorCategory string

const (
	CategoryFile           ErrorCategory = "file"
	CategoryParse          ErrorCategory = "parse"
	CategoryValidation     ErrorCategory = "validation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryNetwork        ErrorCategory = "network"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode identifies a specific failure within a category
type ErrorCode string

const (
	// Source access
	CodeSourceNotFound ErrorCode = "source_not_found"

	// Source content
	CodeSchemaMismatch     ErrorCode = "schema_mismatch"
	CodeMalformedContent   ErrorCode = "malformed_content"
	CodeBackendUnavailable ErrorCode = "backend_unavailable"

	// Cell level, never fatal
	CodeCellCoercion ErrorCode = "cell_coercion"

	// Configuration
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Pipeline and service
	CodeProcessingError     ErrorCode = "processing_error"
	CodeSessionNotFound     ErrorCode = "session_not_found"
	CodeSessionState        ErrorCode = "session_state"
	CodeStoreFailure        ErrorCode = "store_failure"
	CodeResultNotFound      ErrorCode = "result_not_found"
	CodeTransactionNotFound ErrorCode = "transaction_not_found"

	// HTTP requests
	CodeInvalidRequest ErrorCode = "invalid_request"
	CodeUploadTooLarge ErrorCode = "upload_too_large"

	// Internal
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

// Context carries structured details about the error
type Context map[string]interface{}

func (e *ReconcilerError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode maps the category onto a process exit status
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryReconciliation, CategoryInternal:
		return 5
	case CategoryNetwork:
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

// WithSuggestion adds a hint for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// Fatal reports whether the error must abort a reconciliation run.
// Cell coercion failures are absorbed by the normalizers.
func (e *ReconcilerError) Fatal() bool {
	return e.Code != CodeCellCoercion
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

func newOrWrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// SourceNotFoundError reports an input source that cannot be read at all
func SourceNotFoundError(path string, err error) *ReconcilerError {
	return newOrWrap(err, CategoryFile, CodeSourceNotFound, fmt.Sprintf("source not readable: %s", path)).
		WithSuggestion("check that the file exists and is readable").
		WithContext("source", path)
}

// SchemaMismatchError lists the required columns absent from a source
func SchemaMismatchError(source string, missing []string) *ReconcilerError {
	sorted := append([]string(nil), missing...)
	sort.Strings(sorted)

	return New(CategoryParse, CodeSchemaMismatch,
		fmt.Sprintf("%s is missing required columns: %s", source, strings.Join(sorted, ", "))).
		WithSuggestion("make sure the export contains every required column header").
		WithContext("source", source).
		WithContext("missing_columns", sorted)
}

// MalformedContentError reports content that is not valid tabular data
func MalformedContentError(source string, line int, err error) *ReconcilerError {
	message := fmt.Sprintf("malformed content in %s", source)
	if line > 0 {
		message = fmt.Sprintf("malformed content in %s at line %d", source, line)
	}

	return newOrWrap(err, CategoryParse, CodeMalformedContent, message).
		WithSuggestion("re-export the report as CSV or XLSX without manual edits").
		WithContext("source", source).
		WithContext("line", line)
}

// BackendUnavailableError reports a single spreadsheet backend that could not read a source
func BackendUnavailableError(backend string, err error) *ReconcilerError {
	return newOrWrap(err, CategoryParse, CodeBackendUnavailable,
		fmt.Sprintf("spreadsheet backend %s could not read the source", backend)).
		WithContext("backend", backend)
}

// CellCoercionError records a cell whose value could not be converted.
// It is recorded, never raised.
func CellCoercionError(column string, line int, value interface{}, err error) *ReconcilerError {
	return newOrWrap(err, CategoryValidation, CodeCellCoercion,
		fmt.Sprintf("could not coerce value %q in column '%s'", fmt.Sprint(value), column)).
		WithContext("column", column).
		WithContext("line", line).
		WithContext("value", value)
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
		suggestion = "provide this setting as a flag, env variable or config file entry"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return newOrWrap(err, CategoryConfiguration, code, message).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// ReconciliationError creates an error for a failed pipeline stage
func ReconciliationError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message string

	switch code {
	case CodeSessionNotFound:
		message = fmt.Sprintf("session not found: %s", operation)
	case CodeSessionState:
		message = fmt.Sprintf("session is not in a valid state for %s", operation)
	case CodeStoreFailure:
		message = fmt.Sprintf("result store failed during %s", operation)
	case CodeResultNotFound:
		message = fmt.Sprintf("result not found: %s", operation)
	case CodeTransactionNotFound:
		message = fmt.Sprintf("no stored transaction for order %s", operation)
	default:
		message = fmt.Sprintf("processing error during %s", operation)
	}

	return newOrWrap(err, CategoryReconciliation, code, message).
		WithContext("operation", operation)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	return newOrWrap(err, CategoryInternal, code, fmt.Sprintf("unexpected error during %s", operation)).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*ReconcilerError    `json:"-"`
	SampleErrors []*ReconcilerError    `json:"sample_errors,omitempty"`
}

// MaxSampleErrors caps the samples kept on a summary
const MaxSampleErrors = 5

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	if len(errs) > MaxSampleErrors {
		summary.SampleErrors = errs[:MaxSampleErrors]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}
	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var codes []string
	for code, count := range es.ByCode {
		codes = append(codes, fmt.Sprintf("%s: %d", code, count))
	}
	sort.Strings(codes)

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(codes, ", "))
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// GetExitCode returns the highest exit code from all errors
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

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// IsCode reports whether any ReconcilerError in the chain carries code
func IsCode(err error, code ErrorCode) bool {
	if re, ok := AsReconcilerError(err); ok {
		return re.Code == code
	}
	return false
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
