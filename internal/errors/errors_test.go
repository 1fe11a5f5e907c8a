package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestFramekitError_Error(t *testing.T) {
	err := New(ErrCategoryValidation, CodeUnknownTransformer, "no such transformer")
	expected := "[VALIDATION:UNKNOWN_TRANSFORMER] no such transformer"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestFramekitError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCategoryStorage, CodeUploadFailed, "put failed", cause)
	expected := "[STORAGE:UPLOAD_FAILED] put failed: connection refused"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestFramekitError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryCatalog, CodeWriteConflict, "conflict", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestFramekitError_Is(t *testing.T) {
	err1 := New(ErrCategoryCatalog, CodePipelineNotFound, "first")
	err2 := New(ErrCategoryCatalog, CodePipelineNotFound, "second")
	err3 := New(ErrCategoryCatalog, CodeWriteConflict, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}

	wrapped := fmt.Errorf("service: %w", err1)
	if !errors.Is(wrapped, err2) {
		t.Error("Is should see through fmt wrapping")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeDownloadFailed, true},
		{ErrCategoryStorage, CodeObjectNotFound, false},
		{ErrCategoryStorage, CodeCorruptObject, false},
		{ErrCategoryCatalog, CodeWriteConflict, true},
		{ErrCategoryCatalog, CodePipelineNotFound, false},
		{ErrCategoryValidation, CodeInvalidOptions, false},
		{ErrCategoryTransform, CodeStepFailed, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
	if IsRetryable(fmt.Errorf("plain")) {
		t.Error("plain errors are never retryable")
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", New(ErrCategoryValidation, CodeInvalidFrame, "bad frame"))
	if GetCategory(err) != ErrCategoryValidation {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryValidation)
	}
	if GetCode(err) != CodeInvalidFrame {
		t.Errorf("got %q, want %q", GetCode(err), CodeInvalidFrame)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" || GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-FramekitError should return empty category and code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrCategoryValidation, CodeInvalidOptions, "bad options")
	detailed := err.WithDetails(map[string]interface{}{"step": 2})

	if detailed.Details["step"] != 2 {
		t.Error("WithDetails should set details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	v := NewValidationError(CodeInvalidName, "empty name")
	if v.Category != ErrCategoryValidation || v.Code != CodeInvalidName {
		t.Error("NewValidationError mismatch")
	}

	s := NewStorageError(CodeUploadFailed, "s3 down", cause)
	if s.Category != ErrCategoryStorage || !errors.Is(s, cause) {
		t.Error("NewStorageError mismatch")
	}

	c := NewCatalogError(CodeWriteConflict, "stale version", cause)
	if c.Category != ErrCategoryCatalog || !c.Retryable {
		t.Error("NewCatalogError mismatch")
	}

	tr := NewTransformError(CodeStepFailed, "step 1", cause)
	if tr.Category != ErrCategoryTransform {
		t.Error("NewTransformError mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}
