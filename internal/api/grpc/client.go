package grpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arkilian/framekit/internal/codec"
	"github.com/arkilian/framekit/internal/service"
	"github.com/arkilian/framekit/internal/transform"
	"github.com/arkilian/framekit/pkg/types"
)

// Client calls framekit.v1.TransformService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Transform applies inline steps to frames on the server.
func (c *Client) Transform(ctx context.Context, steps []transform.Config, frames []*types.Frame, opts ...grpc.CallOption) ([]*types.Frame, error) {
	if steps == nil {
		steps = []transform.Config{}
	}
	return c.transform(ctx, map[string]interface{}{"steps": steps, "frames": frames}, opts...)
}

// ApplySaved applies a saved pipeline to frames on the server.
func (c *Client) ApplySaved(ctx context.Context, pipeline string, frames []*types.Frame, opts ...grpc.CallOption) ([]*types.Frame, error) {
	return c.transform(ctx, map[string]interface{}{"pipeline": pipeline, "frames": frames}, opts...)
}

// ListTransformers returns the transformers registered on the server.
func (c *Client) ListTransformers(ctx context.Context, opts ...grpc.CallOption) ([]service.TransformerInfo, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ListTransformersMethod, &structpb.Struct{}, out, opts...); err != nil {
		return nil, err
	}
	var resp struct {
		Transformers []service.TransformerInfo `json:"transformers"`
	}
	if err := fromStruct(out, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return resp.Transformers, nil
}

func (c *Client) transform(ctx context.Context, req map[string]interface{}, opts ...grpc.CallOption) ([]*types.Frame, error) {
	if frames, ok := req["frames"].([]*types.Frame); ok && frames == nil {
		req["frames"] = []*types.Frame{}
	}
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, TransformMethod, in, out, opts...); err != nil {
		return nil, err
	}

	framesValue, ok := out.GetFields()["frames"]
	if !ok {
		return []*types.Frame{}, nil
	}
	data, err := json.Marshal(framesValue.AsInterface())
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return codec.DecodeFrames(data)
}
