package grpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arkilian/framekit/internal/codec"
	fkerrors "github.com/arkilian/framekit/internal/errors"
	"github.com/arkilian/framekit/internal/service"
	"github.com/arkilian/framekit/internal/transform"
	"github.com/arkilian/framekit/pkg/types"
)

const requestIDHeader = "x-request-id"

type requestIDKey struct{}

// TransformServer implements TransformServiceServer on top of service.Service.
type TransformServer struct {
	service *service.Service
	logger  *zap.Logger
}

// NewTransformServer creates a new gRPC transform server.
func NewTransformServer(svc *service.Service, logger *zap.Logger) *TransformServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransformServer{service: svc, logger: logger.Named("grpc")}
}

type transformRequest struct {
	Steps    []transform.Config `json:"steps"`
	Pipeline string             `json:"pipeline"`
	Frames   json.RawMessage    `json:"frames"`
}

// Transform applies either inline steps or a saved pipeline to frames.
func (s *TransformServer) Transform(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, requestID := withRequestID(ctx)

	var in transformRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if in.Pipeline != "" && len(in.Steps) > 0 {
		return nil, status.Error(codes.InvalidArgument, "steps and pipeline are mutually exclusive")
	}

	var frames []*types.Frame
	if len(in.Frames) > 0 && string(in.Frames) != "null" {
		decoded, err := codec.DecodeFrames(in.Frames)
		if err != nil {
			return nil, toStatus(err)
		}
		frames = decoded
	}

	var (
		out []*types.Frame
		err error
	)
	if in.Pipeline != "" {
		out, err = s.service.ApplySaved(ctx, in.Pipeline, frames)
	} else {
		out, err = s.service.Transform(ctx, in.Steps, frames)
	}
	if err != nil {
		if status.Code(toStatus(err)) == codes.Internal {
			s.logger.Error("transform failed", zap.String("request_id", requestID), zap.Error(err))
		}
		return nil, toStatus(err)
	}
	if out == nil {
		out = []*types.Frame{}
	}

	return toStruct(map[string]interface{}{
		"frames":     out,
		"request_id": requestID,
	})
}

// ListTransformers returns the registered transformers.
func (s *TransformServer) ListTransformers(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	withRequestID(ctx)
	return toStruct(map[string]interface{}{"transformers": s.service.Transformers()})
}

// RequestIDUnaryInterceptor resolves the request ID once per RPC, reusing
// x-request-id when supplied, and echoes it as a response header.
func RequestIDUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, _ = withRequestID(ctx)
		return handler(ctx, req)
	}
}

// RequestIDFromContext returns the request ID stored by RequestIDUnaryInterceptor.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// LoggingUnaryInterceptor logs one line per RPC.
func LoggingUnaryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, requestID := withRequestID(ctx)
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", requestID),
		}
		if err != nil && status.Code(err) == codes.Internal {
			logger.Warn("rpc", fields...)
		} else {
			logger.Info("rpc", fields...)
		}
		return resp, err
	}
}

// toStatus maps a structured error to a gRPC status.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Internal
	switch fkerrors.GetCode(err) {
	case fkerrors.CodePipelineNotFound, fkerrors.CodeObjectNotFound:
		code = codes.NotFound
	case fkerrors.CodeWriteConflict:
		code = codes.Aborted
	case fkerrors.CodeStepFailed:
		code = codes.FailedPrecondition
	case fkerrors.CodeCancelled:
		code = codes.Canceled
	default:
		switch fkerrors.GetCategory(err) {
		case fkerrors.ErrCategoryValidation:
			code = codes.InvalidArgument
		case fkerrors.ErrCategoryStorage:
			if fkerrors.IsRetryable(err) {
				code = codes.Unavailable
			}
		}
	}

	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

// withRequestID returns the request ID already on ctx, or resolves one,
// sets the response header and stores it. Later calls see the stored ID.
func withRequestID(ctx context.Context) (context.Context, string) {
	if id := RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := extractRequestID(ctx)
	_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDHeader, id))
	return context.WithValue(ctx, requestIDKey{}, id), id
}

// extractRequestID reads x-request-id from incoming metadata or generates one.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(requestIDHeader); len(ids) > 0 && ids[0] != "" {
			return ids[0]
		}
	}
	return uuid.New().String()
}

func fromStruct(s *structpb.Struct, out interface{}) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
