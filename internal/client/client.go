// Package client calls a provider process over the Provider RPC service and
// presents it as a backend.Provider. Calls are never retried.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"done/backend"
	"done/internal/wire"
)

// DefaultProbeTimeout bounds the health probe made by Connect and Probe.
const DefaultProbeTimeout = 2 * time.Second

type options struct {
	dialOpts     []grpc.DialOption
	logger       *zap.Logger
	probeTimeout time.Duration
}

// Option configures Connect and Probe.
type Option func(*options)

// WithDialOptions appends grpc dial options, e.g. a bufconn dialer in tests.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOpts = append(o.dialOpts, opts...) }
}

// WithLogger sets the logger for rejected calls.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithProbeTimeout overrides DefaultProbeTimeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.probeTimeout = d
		}
	}
}

func buildOptions(opts []Option) *options {
	o := &options{logger: zap.NewNop(), probeTimeout: DefaultProbeTimeout}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Client is a connection to one provider process.
type Client struct {
	providerID string
	addr       string
	conn       *grpc.ClientConn
	rpc        wire.ProviderClient
	info       backend.ProviderInfo
	logger     *zap.Logger
}

var (
	_ backend.Provider     = (*Client)(nil)
	_ backend.TaskStreamer = (*Client)(nil)
)

func dial(addr string, o *options) (*grpc.ClientConn, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, o.dialOpts...)
	return grpc.NewClient(addr, dialOpts...)
}

func probe(ctx context.Context, conn *grpc.ClientConn, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: wire.ServiceName})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("health status %s", resp.GetStatus())
	}
	return nil
}

// Probe reports whether a provider at addr answers its health check.
func Probe(ctx context.Context, providerID, addr string, opts ...Option) error {
	o := buildOptions(opts)
	conn, err := dial(addr, o)
	if err != nil {
		return &backend.ConnectionError{Provider: providerID, Addr: addr, Err: err}
	}
	defer func() { _ = conn.Close() }()
	if err := probe(ctx, conn, o.probeTimeout); err != nil {
		return &backend.ConnectionError{Provider: providerID, Addr: addr, Err: err}
	}
	return nil
}

// Connect dials addr, checks that the provider is serving and that it is
// providerID, and caches its static metadata. A provider that is not
// listening yields a *backend.ConnectionError.
func Connect(ctx context.Context, providerID, addr string, opts ...Option) (*Client, error) {
	o := buildOptions(opts)
	conn, err := dial(addr, o)
	if err != nil {
		return nil, &backend.ConnectionError{Provider: providerID, Addr: addr, Err: err}
	}
	if err := probe(ctx, conn, o.probeTimeout); err != nil {
		_ = conn.Close()
		return nil, &backend.ConnectionError{Provider: providerID, Addr: addr, Err: err}
	}

	c := &Client{
		providerID: providerID,
		addr:       addr,
		conn:       conn,
		rpc:        wire.NewProviderClient(conn),
		logger:     o.logger.With(zap.String("provider", providerID)),
	}
	if err := c.loadInfo(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if c.info.ID != providerID {
		_ = conn.Close()
		return nil, &backend.ConnectionError{
			Provider: providerID,
			Addr:     addr,
			Err:      fmt.Errorf("endpoint serves provider %q", c.info.ID),
		}
	}
	return c, nil
}

func (c *Client) loadInfo(ctx context.Context) error {
	fields := []struct {
		method string
		call   func(context.Context, *wire.Empty, ...grpc.CallOption) (*wire.Text, error)
		dst    *string
	}{
		{wire.MethodGetID, c.rpc.GetId, &c.info.ID},
		{wire.MethodGetName, c.rpc.GetName, &c.info.Name},
		{wire.MethodGetDescription, c.rpc.GetDescription, &c.info.Description},
		{wire.MethodGetIconName, c.rpc.GetIconName, &c.info.Icon},
	}
	for _, f := range fields {
		text, err := f.call(ctx, &wire.Empty{})
		if err != nil {
			return c.transportError(f.method, err)
		}
		*f.dst = text.Value
	}
	return nil
}

// Addr returns the endpoint the client is connected to.
func (c *Client) Addr() string { return c.addr }

func (c *Client) ID() string          { return c.info.ID }
func (c *Client) Name() string        { return c.info.Name }
func (c *Client) Description() string { return c.info.Description }
func (c *Client) IconName() string    { return c.info.Icon }

// Close releases the connection. The provider process keeps running.
func (c *Client) Close() error {
	return c.conn.Close()
}

// transportError classifies a gRPC failure. Unreachable providers become
// *backend.ConnectionError, abandoned calls keep their context error.
func (c *Client) transportError(method string, err error) error {
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Canceled:
		return fmt.Errorf("%s %s: %w", c.providerID, method, context.Canceled)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s %s: %w", c.providerID, method, context.DeadlineExceeded)
	case codes.Unavailable:
		return &backend.ConnectionError{Provider: c.providerID, Addr: c.addr, Err: err}
	default:
		c.logger.Debug("rpc failed", zap.String("method", method), zap.String("code", st.Code().String()), zap.Error(err))
		return &backend.OperationFailedError{
			Provider: c.providerID,
			Method:   method,
			Reason:   backend.ReasonInternal,
			Message:  st.Message(),
		}
	}
}

// unwrap turns a response envelope into a result. A rejected envelope
// becomes *backend.OperationFailedError carrying the provider's message.
func (c *Client) unwrap(method string, resp *wire.ProviderResponse, err error, out any) error {
	if err != nil {
		return c.transportError(method, err)
	}
	if !resp.Successful {
		reason := backend.Reason(resp.Reason)
		if reason == "" {
			reason = backend.ReasonInternal
		}
		msg := resp.Message
		if msg == "" {
			msg = "operation failed"
		}
		c.logger.Debug("rpc rejected", zap.String("method", method), zap.String("reason", string(reason)), zap.String("message", msg))
		return &backend.OperationFailedError{Provider: c.providerID, Method: method, Reason: reason, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := resp.Decode(out); err != nil {
		return &backend.ConversionError{Provider: c.providerID, Field: method + ".data", Err: err}
	}
	return nil
}

// StreamTasks reads tasks batch by batch. An empty listID reads every list.
func (c *Client) StreamTasks(ctx context.Context, listID string, yield func([]backend.Task) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		stream grpc.ServerStreamingClient[wire.ProviderResponse]
		err    error
		method = wire.MethodReadAllTasks
	)
	if listID == "" {
		stream, err = c.rpc.ReadAllTasks(ctx, &wire.Empty{})
	} else {
		method = wire.MethodReadTasksFromList
		stream, err = c.rpc.ReadTasksFromList(ctx, &wire.ProviderRequest{ID: listID})
	}
	if err != nil {
		return c.transportError(method, err)
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		batch := []backend.Task{}
		if err := c.unwrap(method, resp, err, &batch); err != nil {
			return err
		}
		if err := yield(batch); err != nil {
			return err
		}
	}
}

func (c *Client) ReadAllTasks(ctx context.Context) ([]backend.Task, error) {
	return backend.CollectTasks(backend.StreamTasks(ctx, c, ""))
}

func (c *Client) ReadTasksFromList(ctx context.Context, listID string) ([]backend.Task, error) {
	return backend.CollectTasks(backend.StreamTasks(ctx, c, listID))
}

func (c *Client) ReadTask(ctx context.Context, listID, taskID string) (*backend.Task, error) {
	resp, err := c.rpc.ReadTask(ctx, &wire.ProviderRequest{ID: taskID, Parent: listID})
	var task backend.Task
	if err := c.unwrap(wire.MethodReadTask, resp, err, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) CreateTask(ctx context.Context, task *backend.Task) (*backend.Task, error) {
	return c.sendTask(ctx, wire.MethodCreateTask, c.rpc.CreateTask, task)
}

func (c *Client) UpdateTask(ctx context.Context, task *backend.Task) (*backend.Task, error) {
	return c.sendTask(ctx, wire.MethodUpdateTask, c.rpc.UpdateTask, task)
}

type unaryCall func(context.Context, *wire.ProviderRequest, ...grpc.CallOption) (*wire.ProviderResponse, error)

func (c *Client) sendTask(ctx context.Context, method string, call unaryCall, task *backend.Task) (*backend.Task, error) {
	req, err := wire.TaskRequest(task)
	if err != nil {
		return nil, &backend.ConversionError{Provider: c.providerID, Field: "task", Err: err}
	}
	resp, err := call(ctx, req)
	var out backend.Task
	if err := c.unwrap(method, resp, err, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteTask(ctx context.Context, listID, taskID string) error {
	resp, err := c.rpc.DeleteTask(ctx, &wire.ProviderRequest{ID: taskID, Parent: listID})
	return c.unwrap(wire.MethodDeleteTask, resp, err, nil)
}

func (c *Client) ReadAllLists(ctx context.Context) ([]backend.List, error) {
	resp, err := c.rpc.ReadAllLists(ctx, &wire.Empty{})
	lists := []backend.List{}
	if err := c.unwrap(wire.MethodReadAllLists, resp, err, &lists); err != nil {
		return nil, err
	}
	return lists, nil
}

func (c *Client) ReadList(ctx context.Context, listID string) (*backend.List, error) {
	resp, err := c.rpc.ReadList(ctx, &wire.ProviderRequest{ID: listID})
	var list backend.List
	if err := c.unwrap(wire.MethodReadList, resp, err, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) CreateList(ctx context.Context, list *backend.List) (*backend.List, error) {
	return c.sendList(ctx, wire.MethodCreateList, c.rpc.CreateList, list)
}

func (c *Client) UpdateList(ctx context.Context, list *backend.List) (*backend.List, error) {
	return c.sendList(ctx, wire.MethodUpdateList, c.rpc.UpdateList, list)
}

func (c *Client) sendList(ctx context.Context, method string, call unaryCall, list *backend.List) (*backend.List, error) {
	req, err := wire.ListRequest(list)
	if err != nil {
		return nil, &backend.ConversionError{Provider: c.providerID, Field: "list", Err: err}
	}
	resp, err := call(ctx, req)
	var out backend.List
	if err := c.unwrap(method, resp, err, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteList(ctx context.Context, listID string) error {
	resp, err := c.rpc.DeleteList(ctx, &wire.ProviderRequest{ID: listID})
	return c.unwrap(wire.MethodDeleteList, resp, err, nil)
}
