package types

import (
	"errors"
	"testing"
)

func numberField(name string, values ...interface{}) *Field {
	return &Field{Name: name, Type: FieldTypeNumber, Values: values}
}

func TestFrame_Validate(t *testing.T) {
	tests := []struct {
		name    string
		frame   *Frame
		wantErr error
	}{
		{"empty frame", NewFrame("A"), nil},
		{"valid", NewFrame("A", numberField("a", 1.0, 2.0), numberField("b", 3.0, 4.0)), nil},
		{"duplicate", NewFrame("A", numberField("a", 1.0), numberField("a", 2.0)), ErrDuplicateFieldName},
		{"length mismatch", NewFrame("A", numberField("a", 1.0), numberField("b")), ErrFieldLengthMismatch},
		{"nil field", NewFrame("A", nil), ErrInvalidFrame},
		{"no name", NewFrame("A", numberField("")), ErrInvalidFrame},
		{"bad type", NewFrame("A", &Field{Name: "x", Type: "blob"}), ErrInvalidFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFrame_Accessors(t *testing.T) {
	f := NewFrame("A", numberField("a", 1.0, 2.0), numberField("b", 3.0, 4.0))
	if f.Rows() != 2 {
		t.Errorf("Rows: got %d, want 2", f.Rows())
	}
	names := f.FieldNames()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("FieldNames: got %v", names)
	}
	if f.FieldByName("b") != f.Fields[1] {
		t.Error("FieldByName should return the stored pointer")
	}
	if f.FieldByName("zzz") != nil {
		t.Error("FieldByName should return nil for unknown names")
	}
	if NewFrame("empty").Rows() != 0 {
		t.Error("empty frame should have zero rows")
	}
}

func TestField_WithNameSharesValues(t *testing.T) {
	orig := numberField("a", 1.0, 2.0)
	renamed := orig.WithName("b")
	if orig.Name != "a" {
		t.Fatalf("original renamed: %q", orig.Name)
	}
	renamed.Values[0] = 9.0
	if orig.Values[0] != 9.0 {
		t.Error("WithName should share the values slice")
	}
}
