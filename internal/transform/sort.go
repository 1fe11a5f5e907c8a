package transform

import "github.com/arkilian/framekit/pkg/types"

// SortFieldsOptions configures the sort transformer.
type SortFieldsOptions struct {
	IndexByName map[string]int `json:"indexByName"`
}

type sortFieldsTransformer struct{}

// NewSortFieldsTransformer returns the transformer that orders fields by rank.
func NewSortFieldsTransformer() Transformer {
	return sortFieldsTransformer{}
}

func (sortFieldsTransformer) ID() TransformerID { return IDSort }

func (sortFieldsTransformer) Name() string { return "Sort fields" }

func (sortFieldsTransformer) Description() string {
	return "Order fields by an index map; unlisted fields keep their order at the end"
}

func (sortFieldsTransformer) Operator(options map[string]interface{}) (FrameOperator, error) {
	var opts SortFieldsOptions
	if err := decodeOptions(IDSort, options, &opts); err != nil {
		return nil, err
	}
	return func(frame *types.Frame) (*types.Frame, error) {
		return ReorderFields(frame, opts.IndexByName), nil
	}, nil
}
