package transform

import (
	"sort"

	"github.com/arkilian/framekit/pkg/types"
)

// ReorderFields returns a new frame whose fields follow indexByName.
//
// Fields named in indexByName come first, ascending by rank. Fields with equal
// ranks keep their original relative order. Fields missing from indexByName are
// appended after them in their original order. Names in indexByName that the
// frame does not have are ignored.
//
// The input frame is not modified. Field pointers are shared with the input.
func ReorderFields(frame *types.Frame, indexByName map[string]int) *types.Frame {
	if frame == nil {
		return nil
	}

	mapped := make([]*types.Field, 0, len(frame.Fields))
	var unmapped []*types.Field
	for _, field := range frame.Fields {
		if _, ok := indexByName[field.Name]; ok {
			mapped = append(mapped, field)
		} else {
			unmapped = append(unmapped, field)
		}
	}

	sort.SliceStable(mapped, func(i, j int) bool {
		return indexByName[mapped[i].Name] < indexByName[mapped[j].Name]
	})

	return frame.WithFields(append(mapped, unmapped...))
}
