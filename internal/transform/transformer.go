// Package transform implements frame transformers and the pipeline that
// applies them in sequence.
package transform

import (
	"encoding/json"
	"fmt"

	fkerrors "github.com/arkilian/framekit/internal/errors"
	"github.com/arkilian/framekit/pkg/types"
)

// TransformerID is the stable identifier of a transformer.
type TransformerID string

const (
	// IDSort reorders fields by an index map
	IDSort TransformerID = "sort"
	// IDOrganize excludes, reorders and renames fields
	IDOrganize TransformerID = "organize"
)

// Config is one step of a pipeline.
type Config struct {
	// ID selects the transformer
	ID TransformerID `json:"id" yaml:"id" toml:"id"`
	// Disabled steps are skipped when the pipeline is compiled
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty" toml:"disabled,omitempty"`
	// Options are transformer specific
	Options map[string]interface{} `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`
}

// FrameOperator transforms a single frame. Operators must not mutate their input.
type FrameOperator func(frame *types.Frame) (*types.Frame, error)

// Transformer builds frame operators from step options.
type Transformer interface {
	// ID returns the transformer identifier
	ID() TransformerID
	// Name returns a human readable name
	Name() string
	// Description explains what the transformer does
	Description() string
	// Operator validates options and returns the operator they configure
	Operator(options map[string]interface{}) (FrameOperator, error)
}

// decodeOptions converts a loosely typed options map into a typed struct.
// Options arrive from JSON or YAML, so a JSON round trip normalises both.
func decodeOptions(id TransformerID, options map[string]interface{}, out interface{}) error {
	if len(options) == 0 {
		return nil
	}
	data, err := json.Marshal(options)
	if err != nil {
		return fkerrors.New(fkerrors.ErrCategoryValidation, fkerrors.CodeInvalidOptions,
			fmt.Sprintf("%s: options are not serializable: %v", id, err))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fkerrors.New(fkerrors.ErrCategoryValidation, fkerrors.CodeInvalidOptions,
			fmt.Sprintf("%s: %v", id, err))
	}
	return nil
}
