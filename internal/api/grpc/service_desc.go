// Package grpc exposes the framekit service over gRPC. Messages are
// google.protobuf.Struct values carrying the same JSON shapes as the HTTP API,
// so the service is described by hand instead of generated from a .proto file.
package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "framekit.v1.TransformService"

// Full method names.
const (
	TransformMethod        = "/" + ServiceName + "/Transform"
	ListTransformersMethod = "/" + ServiceName + "/ListTransformers"
)

// TransformServiceServer is the server API for framekit.v1.TransformService.
type TransformServiceServer interface {
	Transform(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListTransformers(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// TransformServiceDesc describes framekit.v1.TransformService for grpc.Server.RegisterService.
var TransformServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TransformServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Transform",
			Handler:    unaryHandler(TransformMethod, TransformServiceServer.Transform),
		},
		{
			MethodName: "ListTransformers",
			Handler:    unaryHandler(ListTransformersMethod, TransformServiceServer.ListTransformers),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "framekit/v1/transform.proto",
}

// RegisterTransformServiceServer registers srv with s.
func RegisterTransformServiceServer(s grpc.ServiceRegistrar, srv TransformServiceServer) {
	s.RegisterService(&TransformServiceDesc, srv)
}

type structMethod func(TransformServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, method structMethod) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(TransformServiceServer)
		if interceptor == nil {
			return method(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return method(server, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
