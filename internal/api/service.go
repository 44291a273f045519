package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tablestore.v1.TableStore"

const (
	registerTableMethod = "/" + ServiceName + "/RegisterTable"
	createMethod        = "/" + ServiceName + "/Create"
	readMethod          = "/" + ServiceName + "/Read"
	existsMethod        = "/" + ServiceName + "/Exists"
	deleteMethod        = "/" + ServiceName + "/Delete"
	fetchMethod         = "/" + ServiceName + "/Fetch"
	statusMethod        = "/" + ServiceName + "/Status"
)

// TableStoreServer is implemented by leaders, followers and the coordinator.
type TableStoreServer interface {
	RegisterTable(context.Context, *RegisterTableRequest) (*RegisterTableResponse, error)
	Create(context.Context, *CreateRequest) (*CreateResponse, error)
	Read(context.Context, *ItemRequest) (*ReadResponse, error)
	Exists(context.Context, *ItemRequest) (*ExistsResponse, error)
	Delete(context.Context, *ItemRequest) (*DeleteResponse, error)
	Fetch(context.Context, *FetchRequest) (*FetchResponse, error)
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
}

// UnimplementedTableStoreServer answers every call with Unimplemented.
// Embed it to serve only part of the contract.
type UnimplementedTableStoreServer struct{}

func (UnimplementedTableStoreServer) RegisterTable(context.Context, *RegisterTableRequest) (*RegisterTableResponse, error) {
	return nil, status.Error(codes.Unimplemented, "register_table is not served here")
}
func (UnimplementedTableStoreServer) Create(context.Context, *CreateRequest) (*CreateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "create is not served here")
}
func (UnimplementedTableStoreServer) Read(context.Context, *ItemRequest) (*ReadResponse, error) {
	return nil, status.Error(codes.Unimplemented, "read is not served here")
}
func (UnimplementedTableStoreServer) Exists(context.Context, *ItemRequest) (*ExistsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "exists is not served here")
}
func (UnimplementedTableStoreServer) Delete(context.Context, *ItemRequest) (*DeleteResponse, error) {
	return nil, status.Error(codes.Unimplemented, "delete is not served here")
}
func (UnimplementedTableStoreServer) Fetch(context.Context, *FetchRequest) (*FetchResponse, error) {
	return nil, status.Error(codes.Unimplemented, "fetch is only served by leaders")
}
func (UnimplementedTableStoreServer) Status(context.Context, *StatusRequest) (*StatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "status is not served here")
}

// RegisterTableStoreServer registers srv on s.
func RegisterTableStoreServer(s grpc.ServiceRegistrar, srv TableStoreServer) {
	s.RegisterService(&TableStoreServiceDesc, srv)
}

// unaryHandler adapts a typed method to a grpc.MethodDesc handler.
func unaryHandler[Req any, Resp any](fullMethod string, call func(TableStoreServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TableStoreServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TableStoreServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// TableStoreServiceDesc describes the TableStore service to gRPC.
var TableStoreServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TableStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterTable", Handler: unaryHandler(registerTableMethod, TableStoreServer.RegisterTable)},
		{MethodName: "Create", Handler: unaryHandler(createMethod, TableStoreServer.Create)},
		{MethodName: "Read", Handler: unaryHandler(readMethod, TableStoreServer.Read)},
		{MethodName: "Exists", Handler: unaryHandler(existsMethod, TableStoreServer.Exists)},
		{MethodName: "Delete", Handler: unaryHandler(deleteMethod, TableStoreServer.Delete)},
		{MethodName: "Fetch", Handler: unaryHandler(fetchMethod, TableStoreServer.Fetch)},
		{MethodName: "Status", Handler: unaryHandler(statusMethod, TableStoreServer.Status)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tablestore/v1/tablestore",
}

// TableStoreClient is the client side of TableStoreServer.
type TableStoreClient interface {
	RegisterTable(ctx context.Context, in *RegisterTableRequest, opts ...grpc.CallOption) (*RegisterTableResponse, error)
	Create(ctx context.Context, in *CreateRequest, opts ...grpc.CallOption) (*CreateResponse, error)
	Read(ctx context.Context, in *ItemRequest, opts ...grpc.CallOption) (*ReadResponse, error)
	Exists(ctx context.Context, in *ItemRequest, opts ...grpc.CallOption) (*ExistsResponse, error)
	Delete(ctx context.Context, in *ItemRequest, opts ...grpc.CallOption) (*DeleteResponse, error)
	Fetch(ctx context.Context, in *FetchRequest, opts ...grpc.CallOption) (*FetchResponse, error)
	Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error)
}

type tableStoreClient struct {
	cc grpc.ClientConnInterface
}

// NewTableStoreClient creates a client over cc. Every call uses the JSON codec.
func NewTableStoreClient(cc grpc.ClientConnInterface) TableStoreClient {
	return &tableStoreClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *tableStoreClient) RegisterTable(ctx context.Context, in *RegisterTableRequest, opts ...grpc.CallOption) (*RegisterTableResponse, error) {
	return invoke[RegisterTableResponse](ctx, c.cc, registerTableMethod, in, opts)
}

func (c *tableStoreClient) Create(ctx context.Context, in *CreateRequest, opts ...grpc.CallOption) (*CreateResponse, error) {
	return invoke[CreateResponse](ctx, c.cc, createMethod, in, opts)
}

func (c *tableStoreClient) Read(ctx context.Context, in *ItemRequest, opts ...grpc.CallOption) (*ReadResponse, error) {
	return invoke[ReadResponse](ctx, c.cc, readMethod, in, opts)
}

func (c *tableStoreClient) Exists(ctx context.Context, in *ItemRequest, opts ...grpc.CallOption) (*ExistsResponse, error) {
	return invoke[ExistsResponse](ctx, c.cc, existsMethod, in, opts)
}

func (c *tableStoreClient) Delete(ctx context.Context, in *ItemRequest, opts ...grpc.CallOption) (*DeleteResponse, error) {
	return invoke[DeleteResponse](ctx, c.cc, deleteMethod, in, opts)
}

func (c *tableStoreClient) Fetch(ctx context.Context, in *FetchRequest, opts ...grpc.CallOption) (*FetchResponse, error) {
	return invoke[FetchResponse](ctx, c.cc, fetchMethod, in, opts)
}

func (c *tableStoreClient) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, statusMethod, in, opts)
}
