package transform

import "github.com/arkilian/framekit/pkg/types"

// OrganizeFieldsOptions configures the organize transformer.
type OrganizeFieldsOptions struct {
	ExcludeByName map[string]bool   `json:"excludeByName"`
	IndexByName   map[string]int    `json:"indexByName"`
	RenameByName  map[string]string `json:"renameByName"`
}

type organizeFieldsTransformer struct{}

// NewOrganizeFieldsTransformer returns the transformer that excludes,
// reorders and renames fields, in that order.
func NewOrganizeFieldsTransformer() Transformer {
	return organizeFieldsTransformer{}
}

func (organizeFieldsTransformer) ID() TransformerID { return IDOrganize }

func (organizeFieldsTransformer) Name() string { return "Organize fields" }

func (organizeFieldsTransformer) Description() string {
	return "Exclude, reorder and rename fields"
}

func (organizeFieldsTransformer) Operator(options map[string]interface{}) (FrameOperator, error) {
	var opts OrganizeFieldsOptions
	if err := decodeOptions(IDOrganize, options, &opts); err != nil {
		return nil, err
	}
	return func(frame *types.Frame) (*types.Frame, error) {
		if frame == nil {
			return nil, nil
		}
		out := ReorderFields(excludeFields(frame, opts.ExcludeByName), opts.IndexByName)
		return renameFields(out, opts.RenameByName), nil
	}, nil
}

// excludeFields drops fields whose name maps to true.
func excludeFields(frame *types.Frame, excludeByName map[string]bool) *types.Frame {
	if len(excludeByName) == 0 {
		return frame
	}
	kept := make([]*types.Field, 0, len(frame.Fields))
	for _, field := range frame.Fields {
		if !excludeByName[field.Name] {
			kept = append(kept, field)
		}
	}
	return frame.WithFields(kept)
}

// renameFields copies the headers of renamed fields; values stay shared.
// An empty target name keeps the original name.
func renameFields(frame *types.Frame, renameByName map[string]string) *types.Frame {
	if len(renameByName) == 0 {
		return frame
	}
	fields := make([]*types.Field, len(frame.Fields))
	for i, field := range frame.Fields {
		if name := renameByName[field.Name]; name != "" && name != field.Name {
			fields[i] = field.WithName(name)
		} else {
			fields[i] = field
		}
	}
	return frame.WithFields(fields)
}
