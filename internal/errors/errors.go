// Package errors provides structured error types for framekit.
// All errors include a category, code, message, and retryable flag so
// transports can map them to status codes consistently.
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
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryTransform  ErrorCategory = "TRANSFORM"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidFrame       = "INVALID_FRAME"
	CodeUnknownTransformer = "UNKNOWN_TRANSFORMER"
	CodeInvalidOptions     = "INVALID_OPTIONS"
	CodeInvalidName        = "INVALID_NAME"
	CodeInvalidRequest     = "INVALID_REQUEST"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeCorruptObject  = "CORRUPT_OBJECT"

	// Catalog codes
	CodeWriteConflict    = "WRITE_CONFLICT"
	CodePipelineNotFound = "PIPELINE_NOT_FOUND"

	// Transform codes
	CodeStepFailed = "STEP_FAILED"
	CodeCancelled  = "CANCELLED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// FramekitError is the structured error type used throughout the system.
type FramekitError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *FramekitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *FramekitError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *FramekitError) Is(target error) bool {
	var t *FramekitError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new FramekitError.
func New(category ErrorCategory, code, message string) *FramekitError {
	return &FramekitError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new FramekitError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *FramekitError {
	return &FramekitError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *FramekitError) WithDetails(details map[string]interface{}) *FramekitError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var fe *FramekitError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a FramekitError.
func GetCategory(err error) ErrorCategory {
	var fe *FramekitError
	if errors.As(err, &fe) {
		return fe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a FramekitError.
func GetCode(err error) string {
	var fe *FramekitError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryCatalog && code == CodeWriteConflict:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *FramekitError {
	return New(ErrCategoryValidation, code, message)
}

func NewStorageError(code, message string, cause error) *FramekitError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewCatalogError(code, message string, cause error) *FramekitError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewTransformError(code, message string, cause error) *FramekitError {
	return Wrap(ErrCategoryTransform, code, message, cause)
}

func NewInternalError(message string, cause error) *FramekitError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
