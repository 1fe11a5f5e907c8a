// Package types provides core data types for framekit.
package types

import "fmt"

// FieldType enumerates the value kinds a field can hold.
type FieldType string

const (
	// FieldTypeTime holds epoch milliseconds as int64
	FieldTypeTime FieldType = "time"
	// FieldTypeNumber holds float64 values
	FieldTypeNumber FieldType = "number"
	// FieldTypeString holds string values
	FieldTypeString FieldType = "string"
	// FieldTypeOther holds arbitrary JSON values
	FieldTypeOther FieldType = "other"
)

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeTime, FieldTypeNumber, FieldTypeString, FieldTypeOther:
		return true
	default:
		return false
	}
}

// Field is one named, typed column of a frame.
type Field struct {
	// Name is unique within its frame
	Name string `json:"name"`
	// Type is the kind of every value in Values
	Type FieldType `json:"type"`
	// Labels are optional dimension labels (e.g. host=a)
	Labels map[string]string `json:"labels,omitempty"`
	// Config is display configuration carried through untouched
	Config map[string]interface{} `json:"config,omitempty"`
	// Values holds one entry per row
	Values []interface{} `json:"values"`
}

// Len returns the number of values in the field.
func (f *Field) Len() int {
	return len(f.Values)
}

// WithName returns a copy of the field header under a new name.
// The values slice is shared with the receiver.
func (f *Field) WithName(name string) *Field {
	cp := *f
	cp.Name = name
	return &cp
}

// Frame is an ordered collection of equal-length fields.
type Frame struct {
	// Name identifies the frame within a result set
	Name string `json:"name,omitempty"`
	// RefID ties the frame back to the query that produced it
	RefID string `json:"refId,omitempty"`
	// Fields are the columns in display order
	Fields []*Field `json:"fields"`
}

// NewFrame creates a frame with the given fields.
func NewFrame(name string, fields ...*Field) *Frame {
	return &Frame{Name: name, Fields: fields}
}

// Rows returns the row count, taken from the first field.
func (f *Frame) Rows() int {
	if len(f.Fields) == 0 {
		return 0
	}
	return f.Fields[0].Len()
}

// FieldNames returns the field names in order.
func (f *Frame) FieldNames() []string {
	names := make([]string, len(f.Fields))
	for i, field := range f.Fields {
		names[i] = field.Name
	}
	return names
}

// FieldByName returns the field with the given name, or nil.
func (f *Frame) FieldByName(name string) *Field {
	for _, field := range f.Fields {
		if field.Name == name {
			return field
		}
	}
	return nil
}

// WithFields returns a shallow copy of the frame holding the given fields.
func (f *Frame) WithFields(fields []*Field) *Frame {
	return &Frame{
		Name:   f.Name,
		RefID:  f.RefID,
		Fields: fields,
	}
}

// Validate checks the frame invariants: non-nil fields, known types,
// unique names and equal lengths.
func (f *Frame) Validate() error {
	seen := make(map[string]struct{}, len(f.Fields))
	rows := -1
	for i, field := range f.Fields {
		if field == nil {
			return fmt.Errorf("%w: field %d is nil", ErrInvalidFrame, i)
		}
		if field.Name == "" {
			return fmt.Errorf("%w: field %d has no name", ErrInvalidFrame, i)
		}
		if !field.Type.Valid() {
			return fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidFrame, field.Name, field.Type)
		}
		if _, dup := seen[field.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateFieldName, field.Name)
		}
		seen[field.Name] = struct{}{}

		if rows == -1 {
			rows = field.Len()
		} else if field.Len() != rows {
			return fmt.Errorf("%w: field %q has %d values, expected %d", ErrFieldLengthMismatch, field.Name, field.Len(), rows)
		}
	}
	return nil
}
