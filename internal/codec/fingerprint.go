package codec

import (
	"encoding/json"
	"fmt"

	"github.com/spaolacci/murmur3"

	"github.com/arkilian/framekit/pkg/types"
)

// Fingerprint hashes a pipeline definition together with its input frames.
// encoding/json sorts map keys, so equal inputs always hash equally.
func Fingerprint(steps interface{}, frames []*types.Frame) (string, error) {
	data, err := json.Marshal(struct {
		Steps  interface{}    `json:"steps"`
		Frames []*types.Frame `json:"frames"`
	}{steps, frames})
	if err != nil {
		return "", fmt.Errorf("codec: failed to fingerprint: %w", err)
	}
	h1, h2 := murmur3.Sum128(data)
	return fmt.Sprintf("%016x%016x", h1, h2), nil
}
