package wire

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified name of the Provider service.
const ServiceName = "done.provider.v1.Provider"

// Method names of the Provider service.
const (
	MethodGetID             = "GetId"
	MethodGetName           = "GetName"
	MethodGetDescription    = "GetDescription"
	MethodGetIconName       = "GetIconName"
	MethodReadAllTasks      = "ReadAllTasks"
	MethodReadTasksFromList = "ReadTasksFromList"
	MethodReadTask          = "ReadTask"
	MethodCreateTask        = "CreateTask"
	MethodUpdateTask        = "UpdateTask"
	MethodDeleteTask        = "DeleteTask"
	MethodReadAllLists      = "ReadAllLists"
	MethodReadList          = "ReadList"
	MethodCreateList        = "CreateList"
	MethodUpdateList        = "UpdateList"
	MethodDeleteList        = "DeleteList"
)

// FullMethod returns the gRPC path of a Provider method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// TaskStream is the server side of the streaming task reads.
type TaskStream = grpc.ServerStreamingServer[ProviderResponse]

// ProviderServer is the server API for the Provider service.
type ProviderServer interface {
	GetId(context.Context, *Empty) (*Text, error)
	GetName(context.Context, *Empty) (*Text, error)
	GetDescription(context.Context, *Empty) (*Text, error)
	GetIconName(context.Context, *Empty) (*Text, error)

	ReadAllTasks(*Empty, TaskStream) error
	ReadTasksFromList(*ProviderRequest, TaskStream) error
	ReadTask(context.Context, *ProviderRequest) (*ProviderResponse, error)
	CreateTask(context.Context, *ProviderRequest) (*ProviderResponse, error)
	UpdateTask(context.Context, *ProviderRequest) (*ProviderResponse, error)
	DeleteTask(context.Context, *ProviderRequest) (*ProviderResponse, error)

	ReadAllLists(context.Context, *Empty) (*ProviderResponse, error)
	ReadList(context.Context, *ProviderRequest) (*ProviderResponse, error)
	CreateList(context.Context, *ProviderRequest) (*ProviderResponse, error)
	UpdateList(context.Context, *ProviderRequest) (*ProviderResponse, error)
	DeleteList(context.Context, *ProviderRequest) (*ProviderResponse, error)
}

// RegisterProviderServer registers srv on s.
func RegisterProviderServer(s grpc.ServiceRegistrar, srv ProviderServer) {
	s.RegisterService(&Provider_ServiceDesc, srv)
}

// unaryMethod builds the descriptor of a unary method whose request type is Req.
func unaryMethod[Req any](name string, call func(ProviderServer, context.Context, *Req) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ProviderServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ProviderServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// streamMethod builds the descriptor of a server-streaming method whose request type is Req.
func streamMethod[Req any](name string, call func(ProviderServer, *Req, TaskStream) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(Req)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(ProviderServer), in, &grpc.GenericServerStream[Req, ProviderResponse]{ServerStream: stream})
		},
	}
}

// Provider_ServiceDesc is the grpc.ServiceDesc for the Provider service.
var Provider_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ProviderServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodGetID, func(s ProviderServer, ctx context.Context, in *Empty) (any, error) {
			return s.GetId(ctx, in)
		}),
		unaryMethod(MethodGetName, func(s ProviderServer, ctx context.Context, in *Empty) (any, error) {
			return s.GetName(ctx, in)
		}),
		unaryMethod(MethodGetDescription, func(s ProviderServer, ctx context.Context, in *Empty) (any, error) {
			return s.GetDescription(ctx, in)
		}),
		unaryMethod(MethodGetIconName, func(s ProviderServer, ctx context.Context, in *Empty) (any, error) {
			return s.GetIconName(ctx, in)
		}),
		unaryMethod(MethodReadTask, func(s ProviderServer, ctx context.Context, in *ProviderRequest) (any, error) {
			return s.ReadTask(ctx, in)
		}),
		unaryMethod(MethodCreateTask, func(s ProviderServer, ctx context.Context, in *ProviderRequest) (any, error) {
			return s.CreateTask(ctx, in)
		}),
		unaryMethod(MethodUpdateTask, func(s ProviderServer, ctx context.Context, in *ProviderRequest) (any, error) {
			return s.UpdateTask(ctx, in)
		}),
		unaryMethod(MethodDeleteTask, func(s ProviderServer, ctx context.Context, in *ProviderRequest) (any, error) {
			return s.DeleteTask(ctx, in)
		}),
		unaryMethod(MethodReadAllLists, func(s ProviderServer, ctx context.Context, in *Empty) (any, error) {
			return s.ReadAllLists(ctx, in)
		}),
		unaryMethod(MethodReadList, func(s ProviderServer, ctx context.Context, in *ProviderRequest) (any, error) {
			return s.ReadList(ctx, in)
		}),
		unaryMethod(MethodCreateList, func(s ProviderServer, ctx context.Context, in *ProviderRequest) (any, error) {
			return s.CreateList(ctx, in)
		}),
		unaryMethod(MethodUpdateList, func(s ProviderServer, ctx context.Context, in *ProviderRequest) (any, error) {
			return s.UpdateList(ctx, in)
		}),
		unaryMethod(MethodDeleteList, func(s ProviderServer, ctx context.Context, in *ProviderRequest) (any, error) {
			return s.DeleteList(ctx, in)
		}),
	},
	Streams: []grpc.StreamDesc{
		streamMethod(MethodReadAllTasks, func(s ProviderServer, in *Empty, stream TaskStream) error {
			return s.ReadAllTasks(in, stream)
		}),
		streamMethod(MethodReadTasksFromList, func(s ProviderServer, in *ProviderRequest, stream TaskStream) error {
			return s.ReadTasksFromList(in, stream)
		}),
	},
	Metadata: "done/provider/v1/provider.proto",
}

// ProviderClient is the client API for the Provider service.
type ProviderClient interface {
	GetId(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Text, error)
	GetName(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Text, error)
	GetDescription(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Text, error)
	GetIconName(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Text, error)

	ReadAllTasks(ctx context.Context, in *Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[ProviderResponse], error)
	ReadTasksFromList(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[ProviderResponse], error)
	ReadTask(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (*ProviderResponse, error)
	CreateTask(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (*ProviderResponse, error)
	UpdateTask(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (*ProviderResponse, error)
	DeleteTask(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (*ProviderResponse, error)

	ReadAllLists(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ProviderResponse, error)
	ReadList(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (*ProviderResponse, error)
	CreateList(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (*ProviderResponse, error)
	UpdateList(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (*ProviderResponse, error)
	DeleteList(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (*ProviderResponse, error)
}

type providerClient struct {
	cc grpc.ClientConnInterface
}

// NewProviderClient returns a client whose calls are encoded with the provider codec.
func NewProviderClient(cc grpc.ClientConnInterface) ProviderClient {
	return &providerClient{cc: cc}
}

func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func invoke[Req, Res any](ctx context.Context, cc grpc.ClientConnInterface, method string, in *Req, opts []grpc.CallOption) (*Res, error) {
	out := new(Res)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func openStream[Req any](ctx context.Context, cc grpc.ClientConnInterface, desc *grpc.StreamDesc, in *Req, opts []grpc.CallOption) (grpc.ServerStreamingClient[ProviderResponse], error) {
	stream, err := cc.NewStream(ctx, desc, FullMethod(desc.StreamName), callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[Req, ProviderResponse]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *providerClient) GetId(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Text, error) {
	return invoke[Empty, Text](ctx, c.cc, MethodGetID, in, opts)
}

func (c *providerClient) GetName(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Text, error) {
	return invoke[Empty, Text](ctx, c.cc, MethodGetName, in, opts)
}

func (c *providerClient) GetDescription(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Text, error) {
	return invoke[Empty, Text](ctx, c.cc, MethodGetDescription, in, opts)
}

func (c *providerClient) GetIconName(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Text, error) {
	return invoke[Empty, Text](ctx, c.cc, MethodGetIconName, in, opts)
}

func (c *providerClient) ReadAllTasks(ctx context.Context, in *Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[ProviderResponse], error) {
	return openStream(ctx, c.cc, &Provider_ServiceDesc.Streams[0], in, opts)
}

func (c *providerClient) ReadTasksFromList(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[ProviderResponse], error) {
	return openStream(ctx, c.cc, &Provider_ServiceDesc.Streams[1], in, opts)
}

func (c *providerClient) ReadTask(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (*ProviderResponse, error) {
	return invoke[ProviderRequest, ProviderResponse](ctx, c.cc, MethodReadTask, in, opts)
}

func (c *providerClient) CreateTask(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (*ProviderResponse, error) {
	return invoke[ProviderRequest, ProviderResponse](ctx, c.cc, MethodCreateTask, in, opts)
}

func (c *providerClient) UpdateTask(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (*ProviderResponse, error) {
	return invoke[ProviderRequest, ProviderResponse](ctx, c.cc, MethodUpdateTask, in, opts)
}

func (c *providerClient) DeleteTask(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (*ProviderResponse, error) {
	return invoke[ProviderRequest, ProviderResponse](ctx, c.cc, MethodDeleteTask, in, opts)
}

func (c *providerClient) ReadAllLists(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ProviderResponse, error) {
	return invoke[Empty, ProviderResponse](ctx, c.cc, MethodReadAllLists, in, opts)
}

func (c *providerClient) ReadList(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (*ProviderResponse, error) {
	return invoke[ProviderRequest, ProviderResponse](ctx, c.cc, MethodReadList, in, opts)
}

func (c *providerClient) CreateList(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (*ProviderResponse, error) {
	return invoke[ProviderRequest, ProviderResponse](ctx, c.cc, MethodCreateList, in, opts)
}

func (c *providerClient) UpdateList(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (*ProviderResponse, error) {
	return invoke[ProviderRequest, ProviderResponse](ctx, c.cc, MethodUpdateList, in, opts)
}

func (c *providerClient) DeleteList(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (*ProviderResponse, error) {
	return invoke[ProviderRequest, ProviderResponse](ctx, c.cc, MethodDeleteList, in, opts)
}
