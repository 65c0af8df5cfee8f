// Package errors provides structured error types for memstress.
// All errors include a category, code, message, and retryable flag so the
// driver can report failures consistently across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryTable      ErrorCategory = "TABLE"
	ErrCategoryHandle     ErrorCategory = "HANDLE"
	ErrCategoryWrite      ErrorCategory = "WRITE"
	ErrCategoryEstimate   ErrorCategory = "ESTIMATE"
	ErrCategoryMeasure    ErrorCategory = "MEASURE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeInvalidSchema = "INVALID_SCHEMA"
	CodeEmptyBatch    = "EMPTY_BATCH"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Handle codes
	CodeHandleUnavailable = "HANDLE_UNAVAILABLE"
	CodeTokenUnavailable  = "TOKEN_UNAVAILABLE"

	// Write codes
	CodeWriteFailed = "WRITE_FAILED"

	// Estimate codes
	CodeUnsupportedColumnType = "UNSUPPORTED_COLUMN_TYPE"

	// Measure codes
	CodeSampleFailed = "SAMPLE_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// StressError is the structured error type used throughout the system.
type StressError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *StressError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *StressError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *StressError) Is(target error) bool {
	var t *StressError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new StressError.
func New(category ErrorCategory, code, message string) *StressError {
	return &StressError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new StressError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *StressError {
	return &StressError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *StressError) WithDetails(details map[string]interface{}) *StressError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *StressError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a StressError.
func GetCategory(err error) ErrorCategory {
	var se *StressError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a StressError.
func GetCode(err error) string {
	var se *StressError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// isRetryable marks the transient failures a caller may retry from scratch.
// Nothing in this module retries on its own.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryHandle && code == CodeHandleUnavailable:
		return true
	case category == ErrCategoryHandle && code == CodeTokenUnavailable:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *StressError {
	return New(ErrCategoryValidation, code, message)
}

func NewStorageError(code, message string, cause error) *StressError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewHandleError(code, message string, cause error) *StressError {
	return Wrap(ErrCategoryHandle, code, message, cause)
}

func NewWriteError(message string, cause error) *StressError {
	return Wrap(ErrCategoryWrite, CodeWriteFailed, message, cause)
}

func NewEstimateError(code, message string) *StressError {
	return New(ErrCategoryEstimate, code, message)
}

func NewMeasureError(message string, cause error) *StressError {
	return Wrap(ErrCategoryMeasure, CodeSampleFailed, message, cause)
}

func NewInternalError(message string, cause error) *StressError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
