package bobrpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the gRPC service's fully-qualified name.
const ServiceName = "bob.Bob"

// Server is the interface the gRPC adapter implements: it receives wire
// requests and calls into Grinder.
type Server interface {
	Put(ctx context.Context, req *PutRequest) (*OpStatus, error)
	Get(ctx context.Context, req *GetRequest) (*Blob, error)
	Exist(ctx context.Context, req *ExistRequest) (*ExistResponse, error)
	Ping(ctx context.Context, req *Null) (*Null, error)
}

// Client is the interface bobclient wraps one grpc.ClientConn with.
type Client interface {
	Put(ctx context.Context, req *PutRequest, opts ...grpc.CallOption) (*OpStatus, error)
	Get(ctx context.Context, req *GetRequest, opts ...grpc.CallOption) (*Blob, error)
	Exist(ctx context.Context, req *ExistRequest, opts ...grpc.CallOption) (*ExistResponse, error)
	Ping(ctx context.Context, req *Null, opts ...grpc.CallOption) (*Null, error)
}

type client struct {
	cc *grpc.ClientConn
}

// NewClient wraps an established grpc.ClientConn. Every call is pinned to
// the JSON content-subtype codec registered in codec.go.
func NewClient(cc *grpc.ClientConn) Client {
	return &client{cc: cc}
}

func (c *client) Put(ctx context.Context, req *PutRequest, opts ...grpc.CallOption) (*OpStatus, error) {
	out := new(OpStatus)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Put", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) Get(ctx context.Context, req *GetRequest, opts ...grpc.CallOption) (*Blob, error) {
	out := new(Blob)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Get", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) Exist(ctx context.Context, req *ExistRequest, opts ...grpc.CallOption) (*ExistResponse, error) {
	out := new(ExistResponse)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Exist", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) Ping(ctx context.Context, req *Null, opts ...grpc.CallOption) (*Null, error) {
	out := new(Null)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Ping", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterServer registers srv on s using a hand-written ServiceDesc —
// the stand-in for a protoc-gen-go-grpc _grpc.pb.go file.
func RegisterServer(s *grpc.Server, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

func putHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PutRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Put(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Put"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Put(ctx, req.(*PutRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Get"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Get(ctx, req.(*GetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func existHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ExistRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Exist(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Exist"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Exist(ctx, req.(*ExistRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Null)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Ping"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Ping(ctx, req.(*Null))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Put", Handler: putHandler},
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "Exist", Handler: existHandler},
		{MethodName: "Ping", Handler: pingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bob.proto",
}
