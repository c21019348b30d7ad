package memoryv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "memoria.v1.MemoryService"

// Full method names.
const (
	MethodRemember     = "/" + ServiceName + "/Remember"
	MethodRetrieve     = "/" + ServiceName + "/Retrieve"
	MethodSearch       = "/" + ServiceName + "/Search"
	MethodSwitchEntity = "/" + ServiceName + "/SwitchEntity"
	MethodRecall       = "/" + ServiceName + "/Recall"
	MethodPromote      = "/" + ServiceName + "/Promote"
	MethodStats        = "/" + ServiceName + "/Stats"
)

// MemoryServiceServer is the server API for MemoryService.
type MemoryServiceServer interface {
	Remember(context.Context, *RememberRequest) (*RememberResponse, error)
	Retrieve(context.Context, *RetrieveRequest) (*RetrieveResponse, error)
	Search(context.Context, *SearchRequest) (*SearchResponse, error)
	SwitchEntity(context.Context, *SwitchEntityRequest) (*SwitchEntityResponse, error)
	Recall(context.Context, *RecallRequest) (*RecallResponse, error)
	Promote(context.Context, *PromoteRequest) (*PromoteResponse, error)
	Stats(context.Context, *StatsRequest) (*StatsResponse, error)
}

// UnimplementedMemoryServiceServer answers every method with Unimplemented.
type UnimplementedMemoryServiceServer struct{}

func (UnimplementedMemoryServiceServer) Remember(context.Context, *RememberRequest) (*RememberResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Remember not implemented")
}

func (UnimplementedMemoryServiceServer) Retrieve(context.Context, *RetrieveRequest) (*RetrieveResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Retrieve not implemented")
}

func (UnimplementedMemoryServiceServer) Search(context.Context, *SearchRequest) (*SearchResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Search not implemented")
}

func (UnimplementedMemoryServiceServer) SwitchEntity(context.Context, *SwitchEntityRequest) (*SwitchEntityResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SwitchEntity not implemented")
}

func (UnimplementedMemoryServiceServer) Recall(context.Context, *RecallRequest) (*RecallResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Recall not implemented")
}

func (UnimplementedMemoryServiceServer) Promote(context.Context, *PromoteRequest) (*PromoteResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Promote not implemented")
}

func (UnimplementedMemoryServiceServer) Stats(context.Context, *StatsRequest) (*StatsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Stats not implemented")
}

// RegisterMemoryServiceServer registers srv on s.
func RegisterMemoryServiceServer(s grpc.ServiceRegistrar, srv MemoryServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary adapts a typed method to grpc.MethodHandler, running the server's
// interceptor chain around it.
func unary[Req, Resp any](fullMethod string, call func(MemoryServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MemoryServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MemoryServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc is the grpc.ServiceDesc for MemoryService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MemoryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Remember", Handler: unary(MethodRemember, MemoryServiceServer.Remember)},
		{MethodName: "Retrieve", Handler: unary(MethodRetrieve, MemoryServiceServer.Retrieve)},
		{MethodName: "Search", Handler: unary(MethodSearch, MemoryServiceServer.Search)},
		{MethodName: "SwitchEntity", Handler: unary(MethodSwitchEntity, MemoryServiceServer.SwitchEntity)},
		{MethodName: "Recall", Handler: unary(MethodRecall, MemoryServiceServer.Recall)},
		{MethodName: "Promote", Handler: unary(MethodPromote, MemoryServiceServer.Promote)},
		{MethodName: "Stats", Handler: unary(MethodStats, MemoryServiceServer.Stats)},
	},
	Metadata: "memoria/v1/memory.proto",
}

// MemoryServiceClient is the client API for MemoryService.
type MemoryServiceClient interface {
	Remember(ctx context.Context, in *RememberRequest, opts ...grpc.CallOption) (*RememberResponse, error)
	Retrieve(ctx context.Context, in *RetrieveRequest, opts ...grpc.CallOption) (*RetrieveResponse, error)
	Search(ctx context.Context, in *SearchRequest, opts ...grpc.CallOption) (*SearchResponse, error)
	SwitchEntity(ctx context.Context, in *SwitchEntityRequest, opts ...grpc.CallOption) (*SwitchEntityResponse, error)
	Recall(ctx context.Context, in *RecallRequest, opts ...grpc.CallOption) (*RecallResponse, error)
	Promote(ctx context.Context, in *PromoteRequest, opts ...grpc.CallOption) (*PromoteResponse, error)
	Stats(ctx context.Context, in *StatsRequest, opts ...grpc.CallOption) (*StatsResponse, error)
}

type memoryServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewMemoryServiceClient returns a client that sends every call with the
// JSON codec.
func NewMemoryServiceClient(cc grpc.ClientConnInterface) MemoryServiceClient {
	return &memoryServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *memoryServiceClient) Remember(ctx context.Context, in *RememberRequest, opts ...grpc.CallOption) (*RememberResponse, error) {
	return invoke[RememberResponse](ctx, c.cc, MethodRemember, in, opts)
}

func (c *memoryServiceClient) Retrieve(ctx context.Context, in *RetrieveRequest, opts ...grpc.CallOption) (*RetrieveResponse, error) {
	return invoke[RetrieveResponse](ctx, c.cc, MethodRetrieve, in, opts)
}

func (c *memoryServiceClient) Search(ctx context.Context, in *SearchRequest, opts ...grpc.CallOption) (*SearchResponse, error) {
	return invoke[SearchResponse](ctx, c.cc, MethodSearch, in, opts)
}

func (c *memoryServiceClient) SwitchEntity(ctx context.Context, in *SwitchEntityRequest, opts ...grpc.CallOption) (*SwitchEntityResponse, error) {
	return invoke[SwitchEntityResponse](ctx, c.cc, MethodSwitchEntity, in, opts)
}

func (c *memoryServiceClient) Recall(ctx context.Context, in *RecallRequest, opts ...grpc.CallOption) (*RecallResponse, error) {
	return invoke[RecallResponse](ctx, c.cc, MethodRecall, in, opts)
}

func (c *memoryServiceClient) Promote(ctx context.Context, in *PromoteRequest, opts ...grpc.CallOption) (*PromoteResponse, error) {
	return invoke[PromoteResponse](ctx, c.cc, MethodPromote, in, opts)
}

func (c *memoryServiceClient) Stats(ctx context.Context, in *StatsRequest, opts ...grpc.CallOption) (*StatsResponse, error) {
	return invoke[StatsResponse](ctx, c.cc, MethodStats, in, opts)
}
