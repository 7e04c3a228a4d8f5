// Package errors defines the structured error taxonomy of the consolidation
// engine.
//
// Anomalies in the reconciliation core are never allowed to abort a run:
// they are captured as ConsolidationError values with a category, a code, a
// remediation suggestion and structured context, then either logged and
// degraded or surfaced as validation issues. The taxonomy mirrors the
// engine's error-handling policy: missing source data, mapping misses and
// cleaning failures degrade; unknown sign conventions exclude the record;
// reconciliation mismatches and data corruption become graded issues.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory groups errors by the pipeline stage that produced them.
type ErrorCategory string

const (
	CategorySource        ErrorCategory = "source"
	CategoryMapping       ErrorCategory = "mapping"
	CategoryCleaning      ErrorCategory = "cleaning"
	CategoryConvention    ErrorCategory = "convention"
	CategoryFx            ErrorCategory = "fx"
	CategorySnapshot      ErrorCategory = "snapshot"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode identifies a specific failure mode within a category.
type ErrorCode string

const (
	// Source errors
	CodeMissingSourceData ErrorCode = "missing_source_data"
	CodeFileNotFound      ErrorCode = "file_not_found"
	CodeFileCorrupted     ErrorCode = "file_corrupted"

	// Mapping errors
	CodeMappingMiss    ErrorCode = "mapping_miss"
	CodeProfileUnknown ErrorCode = "profile_unknown"

	// Cleaning errors
	CodeTypeCleaningFailure ErrorCode = "type_cleaning_failure"
	CodeInvalidDate         ErrorCode = "invalid_date"
	CodeColumnDemoted       ErrorCode = "column_demoted"

	// Sign convention errors
	CodeSignConventionUnknown ErrorCode = "sign_convention_unknown"

	// FX errors
	CodeRateUnavailable ErrorCode = "rate_unavailable"
	CodeInvalidCurrency ErrorCode = "invalid_currency"

	// Snapshot errors
	CodeSnapshotExists    ErrorCode = "snapshot_exists"
	CodeSnapshotNotFound  ErrorCode = "snapshot_not_found"
	CodeSnapshotCorrupted ErrorCode = "snapshot_corrupted"

	// Validation errors
	CodeReconciliationMismatch ErrorCode = "reconciliation_mismatch"
	CodeCriticalDataCorruption ErrorCode = "critical_data_corruption"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ConsolidationError is the base error type for all engine errors.
type ConsolidationError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context carries structured detail about the error.
type Context map[string]interface{}

// Error implements the error interface.
func (e *ConsolidationError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *ConsolidationError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a context key/value to the error.
func (e *ConsolidationError) WithContext(key string, value interface{}) *ConsolidationError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion attaches a remediation suggestion to the error.
func (e *ConsolidationError) WithSuggestion(suggestion string) *ConsolidationError {
	e.Suggestion = suggestion
	return e
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// New creates a new ConsolidationError with a captured stack trace.
func New(category ErrorCategory, code ErrorCode, message string) *ConsolidationError {
	return &ConsolidationError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with taxonomy information.
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ConsolidationError {
	if err == nil {
		return nil
	}
	return &ConsolidationError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// MissingSourceData reports a collaborator that returned empty or absent
// data. The pipeline logs it and continues with the remaining sources.
func MissingSourceData(source, dataType string) *ConsolidationError {
	return New(CategorySource, CodeMissingSourceData,
		fmt.Sprintf("source %q returned no %s data", source, dataType)).
		WithSuggestion("check the source export; the run continues without it").
		WithContext("source", source).
		WithContext("data_type", dataType)
}

// MappingMiss reports a data type left without column mappings after the
// full profile fallback chain was exhausted. Its fields pass through under
// their raw names.
func MappingMiss(dataType, profile string) *ConsolidationError {
	return New(CategoryMapping, CodeMappingMiss,
		fmt.Sprintf("no column mappings for %s data after profile %q", dataType, profile)).
		WithSuggestion("add the data type to a column mapping profile; fields pass through under raw names").
		WithContext("data_type", dataType).
		WithContext("profile", profile)
}

// TypeCleaningFailure reports a value that could not be coerced to its
// expected type. The cleaner defaults it and never raises.
func TypeCleaningFailure(column, value string) *ConsolidationError {
	return New(CategoryCleaning, CodeTypeCleaningFailure,
		fmt.Sprintf("cannot coerce %q in column %q", value, column)).
		WithSuggestion("fix the source value; zero/absent was substituted").
		WithContext("column", column).
		WithContext("value", value)
}

// SignConventionUnknown reports a transaction whose canonical type has no
// sign convention. The record is excluded, never silently mis-signed.
func SignConventionUnknown(assetID, date, rawType string) *ConsolidationError {
	return New(CategoryConvention, CodeSignConventionUnknown,
		fmt.Sprintf("unrecognized transaction type %q for asset %s on %s", rawType, assetID, date)).
		WithSuggestion("add the raw token to the transaction type map").
		WithContext("asset_id", assetID).
		WithContext("date", date).
		WithContext("raw_type", rawType)
}

// SnapshotError reports a snapshot store failure.
func SnapshotError(code ErrorCode, date string, err error) *ConsolidationError {
	var message, suggestion string
	switch code {
	case CodeSnapshotExists:
		message = fmt.Sprintf("snapshot already stored for %s", date)
		suggestion = "pass replace=true to overwrite an existing snapshot"
	case CodeSnapshotNotFound:
		message = fmt.Sprintf("no snapshot stored for %s", date)
		suggestion = "list stored snapshots to find available dates"
	default:
		message = fmt.Sprintf("snapshot store error for %s", date)
		suggestion = "check the snapshot directory and its permissions"
	}
	var result *ConsolidationError
	if err != nil {
		result = Wrap(err, CategorySnapshot, code, message)
	} else {
		result = New(CategorySnapshot, code, message)
	}
	return result.WithSuggestion(suggestion).WithContext("snapshot_date", date)
}

// ConfigurationError reports an invalid or missing configuration setting.
func ConfigurationError(code ErrorCode, setting string, value interface{}) *ConsolidationError {
	var message, suggestion string
	switch code {
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this setting via config file or flag"
	default:
		message = fmt.Sprintf("invalid configuration for %q: %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	}
	return New(CategoryConfiguration, code, message).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// FileError reports a source file access failure.
func FileError(code ErrorCode, path string, err error) *ConsolidationError {
	var message, suggestion string
	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check the file path"
	case CodeFileCorrupted:
		message = fmt.Sprintf("file appears to be corrupted: %s", path)
		suggestion = "verify the file is a valid UTF-8 CSV export"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}
	var result *ConsolidationError
	if err != nil {
		result = Wrap(err, CategorySource, code, message)
	} else {
		result = New(CategorySource, code, message)
	}
	return result.WithSuggestion(suggestion).WithContext("file_path", path)
}

// InternalError reports an unexpected engine failure.
func InternalError(operation string, err error) *ConsolidationError {
	return Wrap(err, CategoryInternal, CodeUnexpectedError,
		fmt.Sprintf("unexpected error during %s", operation)).
		WithSuggestion("this is likely a bug - report it with the error details").
		WithContext("operation", operation)
}

// IsConsolidationError checks whether err is a ConsolidationError.
func IsConsolidationError(err error) bool {
	_, ok := err.(*ConsolidationError)
	return ok
}

// AsConsolidationError extracts a ConsolidationError from an error chain.
func AsConsolidationError(err error) (*ConsolidationError, bool) {
	var ce *ConsolidationError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// HasCode reports whether err carries the given error code.
func HasCode(err error, code ErrorCode) bool {
	if ce, ok := AsConsolidationError(err); ok {
		return ce.Code == code
	}
	return false
}

// ErrorSummary aggregates multiple errors collected during a run.
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*ConsolidationError `json:"errors"`
}

// NewErrorSummary builds a summary from collected errors.
func NewErrorSummary(errs []*ConsolidationError) *ErrorSummary {
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
	return summary
}

// Error returns a formatted message for the summary.
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

// HasCategory reports whether the summary contains errors of a category.
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}
