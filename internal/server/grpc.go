package server

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ScanServiceName is the fully qualified gRPC service name. Messages are
// google.protobuf.Struct values carrying the JSON shapes of ScanRequest,
// JobView and MetricsView.
const ScanServiceName = "menusafety.v1.ScanService"

const (
	methodStartScan  = "/" + ScanServiceName + "/StartScan"
	methodGetJob     = "/" + ScanServiceName + "/GetJob"
	methodGetMetrics = "/" + ScanServiceName + "/GetMetrics"
)

// ScanServiceServer is the server API for ScanService.
type ScanServiceServer interface {
	StartScan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMetrics(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ScanServiceDesc describes ScanService for grpc.Server.RegisterService.
var ScanServiceDesc = grpc.ServiceDesc{
	ServiceName: ScanServiceName,
	HandlerType: (*ScanServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartScan", Handler: unaryHandler(methodStartScan, ScanServiceServer.StartScan)},
		{MethodName: "GetJob", Handler: unaryHandler(methodGetJob, ScanServiceServer.GetJob)},
		{MethodName: "GetMetrics", Handler: unaryHandler(methodGetMetrics, ScanServiceServer.GetMetrics)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "menusafety/v1/scan.proto",
}

// RegisterScanServiceServer registers srv on s.
func RegisterScanServiceServer(s grpc.ServiceRegistrar, srv ScanServiceServer) {
	s.RegisterService(&ScanServiceDesc, srv)
}

func unaryHandler(fullMethod string, call func(ScanServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ScanServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ScanServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ScanServiceClient is the client API for ScanService.
type ScanServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewScanServiceClient(cc grpc.ClientConnInterface) *ScanServiceClient {
	return &ScanServiceClient{cc: cc}
}

func (c *ScanServiceClient) StartScan(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodStartScan, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ScanServiceClient) GetJob(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetJob, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ScanServiceClient) GetMetrics(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetMetrics, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ToStruct converts any JSON-encodable value into a Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode struct: %w", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("decode struct: %w", err)
	}
	return s, nil
}

// FromStruct decodes s into v through its JSON form.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		s = new(structpb.Struct)
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode struct: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	return nil
}
