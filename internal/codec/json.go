// Package codec converts frames to and from their wire and storage forms.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	fkerrors "github.com/arkilian/framekit/internal/errors"
	"github.com/arkilian/framekit/pkg/types"
)

// EncodeFrames returns the JSON wire form of frames.
func EncodeFrames(frames []*types.Frame) ([]byte, error) {
	if frames == nil {
		frames = []*types.Frame{}
	}
	return json.Marshal(frames)
}

// DecodeFrames parses a JSON array of frames and normalises their values.
func DecodeFrames(data []byte) ([]*types.Frame, error) {
	var frames []*types.Frame
	if err := decodeJSON(data, &frames); err != nil {
		return nil, err
	}
	for i, frame := range frames {
		if frame == nil {
			return nil, invalidFrame(fmt.Sprintf("frame %d is null", i), nil)
		}
		if err := NormalizeFrame(frame); err != nil {
			return nil, err
		}
	}
	return frames, nil
}

// DecodeFrame parses a single JSON frame object and normalises its values.
func DecodeFrame(data []byte) (*types.Frame, error) {
	var frame types.Frame
	if err := decodeJSON(data, &frame); err != nil {
		return nil, err
	}
	if err := NormalizeFrame(&frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

func decodeJSON(data []byte, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return invalidFrame("malformed frame JSON", err)
	}
	return nil
}

// NormalizeFrame converts every value in place to the Go type its field
// type calls for: time to int64 epoch milliseconds, number to float64,
// string to string. Values of type other lose json.Number wrappers.
// Nil values are kept.
func NormalizeFrame(frame *types.Frame) error {
	for _, field := range frame.Fields {
		if field == nil {
			continue
		}
		for i, v := range field.Values {
			nv, err := normalizeValue(field.Type, v)
			if err != nil {
				return invalidFrame(fmt.Sprintf("field %q row %d", field.Name, i), err)
			}
			field.Values[i] = nv
		}
	}
	return nil
}

func normalizeValue(t types.FieldType, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case types.FieldTypeTime:
		return toEpochMillis(v)
	case types.FieldTypeNumber:
		return toFloat(v)
	case types.FieldTypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	default:
		return plain(v), nil
	}
}

func toEpochMillis(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return int64(f), nil
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case string:
		ts, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q: %w", x, err)
		}
		return ts.UnixMilli(), nil
	case time.Time:
		return x.UnixMilli(), nil
	default:
		return nil, fmt.Errorf("expected timestamp, got %T", v)
	}
}

func toFloat(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case json.Number:
		return x.Float64()
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	default:
		return nil, fmt.Errorf("expected number, got %T", v)
	}
}

// plain strips json.Number from nested values.
func plain(v interface{}) interface{} {
	switch x := v.(type) {
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []interface{}:
		for i := range x {
			x[i] = plain(x[i])
		}
		return x
	case map[string]interface{}:
		for k := range x {
			x[k] = plain(x[k])
		}
		return x
	default:
		return v
	}
}

func invalidFrame(message string, cause error) error {
	return fkerrors.Wrap(fkerrors.ErrCategoryValidation, fkerrors.CodeInvalidFrame, message, cause)
}
