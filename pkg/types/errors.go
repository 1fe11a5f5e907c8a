package types

import "errors"

// Frame validation errors
var (
	// ErrInvalidFrame is returned when a frame is structurally malformed
	ErrInvalidFrame = errors.New("invalid frame")
	// ErrDuplicateFieldName is returned when two fields in a frame share a name
	ErrDuplicateFieldName = errors.New("duplicate field name")
	// ErrFieldLengthMismatch is returned when fields in a frame differ in length
	ErrFieldLengthMismatch = errors.New("field length mismatch")
)
