package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"

	fkerrors "github.com/arkilian/framekit/internal/errors"
	"github.com/arkilian/framekit/pkg/types"
)

// blobMagic prefixes every stored frame.
var blobMagic = []byte("FKF1")

// EncodeBlob serializes a frame for object storage.
// The format is:
//   - 4 bytes: magic "FKF1"
//   - remaining: Snappy block-compressed frame JSON
func EncodeBlob(frame *types.Frame) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("codec: failed to marshal frame: %w", err)
	}
	out := make([]byte, 0, len(blobMagic)+snappy.MaxEncodedLen(len(data)))
	out = append(out, blobMagic...)
	return append(out, snappy.Encode(nil, data)...), nil
}

// DecodeBlob parses a frame written by EncodeBlob.
func DecodeBlob(blob []byte) (*types.Frame, error) {
	if len(blob) < len(blobMagic) || !bytes.Equal(blob[:len(blobMagic)], blobMagic) {
		return nil, corrupt("missing frame magic", nil)
	}
	data, err := snappy.Decode(nil, blob[len(blobMagic):])
	if err != nil {
		return nil, corrupt("snappy decode failed", err)
	}
	frame, err := DecodeFrame(data)
	if err != nil {
		return nil, corrupt("frame decode failed", err)
	}
	return frame, nil
}

func corrupt(message string, cause error) error {
	return fkerrors.NewStorageError(fkerrors.CodeCorruptObject, message, cause)
}
