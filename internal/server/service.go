package server

import (
	"context"
	"errors"

	"google.golang.org/grpc/status"

	"done/backend"
	"done/internal/wire"
)

// service adapts a backend.Provider to the Provider RPC service. Business
// failures travel in the envelope; only transport problems become gRPC errors.
type service struct {
	provider backend.Provider
}

var _ wire.ProviderServer = (*service)(nil)

func (s *service) GetId(context.Context, *wire.Empty) (*wire.Text, error) {
	return &wire.Text{Value: s.provider.ID()}, nil
}

func (s *service) GetName(context.Context, *wire.Empty) (*wire.Text, error) {
	return &wire.Text{Value: s.provider.Name()}, nil
}

func (s *service) GetDescription(context.Context, *wire.Empty) (*wire.Text, error) {
	return &wire.Text{Value: s.provider.Description()}, nil
}

func (s *service) GetIconName(context.Context, *wire.Empty) (*wire.Text, error) {
	return &wire.Text{Value: s.provider.IconName()}, nil
}

func (s *service) ReadAllTasks(_ *wire.Empty, stream wire.TaskStream) error {
	return s.streamTasks("", stream)
}

func (s *service) ReadTasksFromList(req *wire.ProviderRequest, stream wire.TaskStream) error {
	if req.ID == "" {
		return stream.Send(wire.Failure(backend.InvalidArgumentf("list id is required")))
	}
	return s.streamTasks(req.ID, stream)
}

// streamTasks sends one envelope per batch. A failure ends the stream with an
// unsuccessful envelope. At least one envelope is always sent.
func (s *service) streamTasks(listID string, stream wire.TaskStream) error {
	ctx := stream.Context()
	sent := false
	for batch, err := range backend.StreamTasks(ctx, s.provider, listID) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return status.FromContextError(ctxErr).Err()
			}
			return stream.Send(wire.Failure(err))
		}
		if batch == nil {
			batch = []backend.Task{}
		}
		resp, err := wire.Success("", batch)
		if err != nil {
			return stream.Send(wire.Failure(err))
		}
		if err := stream.Send(resp); err != nil {
			return err
		}
		sent = true
	}
	if sent {
		return nil
	}
	resp, _ := wire.Success("", []backend.Task{})
	return stream.Send(resp)
}

func (s *service) ReadTask(ctx context.Context, req *wire.ProviderRequest) (*wire.ProviderResponse, error) {
	if req.ID == "" {
		return wire.Failure(backend.InvalidArgumentf("task id is required")), nil
	}
	task, err := s.provider.ReadTask(ctx, req.Parent, req.ID)
	return reply("", task, err)
}

func (s *service) CreateTask(ctx context.Context, req *wire.ProviderRequest) (*wire.ProviderResponse, error) {
	task, err := req.DecodeTask()
	if err != nil {
		return wire.Failure(err), nil
	}
	created, err := s.provider.CreateTask(ctx, task)
	return reply("task created", created, err)
}

func (s *service) UpdateTask(ctx context.Context, req *wire.ProviderRequest) (*wire.ProviderResponse, error) {
	task, err := req.DecodeTask()
	if err != nil {
		return wire.Failure(err), nil
	}
	updated, err := s.provider.UpdateTask(ctx, task)
	return reply("task updated", updated, err)
}

func (s *service) DeleteTask(ctx context.Context, req *wire.ProviderRequest) (*wire.ProviderResponse, error) {
	taskID, listID := req.ID, req.Parent
	if taskID == "" && len(req.Task) > 0 {
		task, err := req.DecodeTask()
		if err != nil {
			return wire.Failure(err), nil
		}
		taskID, listID = task.ID, task.Parent
	}
	if taskID == "" {
		return wire.Failure(backend.InvalidArgumentf("task id is required")), nil
	}
	err := s.provider.DeleteTask(ctx, listID, taskID)
	return reply("task deleted", nil, err)
}

func (s *service) ReadAllLists(ctx context.Context, _ *wire.Empty) (*wire.ProviderResponse, error) {
	lists, err := s.provider.ReadAllLists(ctx)
	if err == nil && lists == nil {
		lists = []backend.List{}
	}
	return reply("", lists, err)
}

func (s *service) ReadList(ctx context.Context, req *wire.ProviderRequest) (*wire.ProviderResponse, error) {
	if req.ID == "" {
		return wire.Failure(backend.InvalidArgumentf("list id is required")), nil
	}
	list, err := s.provider.ReadList(ctx, req.ID)
	return reply("", list, err)
}

func (s *service) CreateList(ctx context.Context, req *wire.ProviderRequest) (*wire.ProviderResponse, error) {
	list, err := req.DecodeList()
	if err != nil {
		return wire.Failure(err), nil
	}
	created, err := s.provider.CreateList(ctx, list)
	return reply("list created", created, err)
}

func (s *service) UpdateList(ctx context.Context, req *wire.ProviderRequest) (*wire.ProviderResponse, error) {
	list, err := req.DecodeList()
	if err != nil {
		return wire.Failure(err), nil
	}
	updated, err := s.provider.UpdateList(ctx, list)
	return reply("list updated", updated, err)
}

func (s *service) DeleteList(ctx context.Context, req *wire.ProviderRequest) (*wire.ProviderResponse, error) {
	if req.ID == "" {
		return wire.Failure(backend.InvalidArgumentf("list id is required")), nil
	}
	err := s.provider.DeleteList(ctx, req.ID)
	return reply("list deleted", nil, err)
}

// reply turns a provider result into an envelope. Context errors stay
// transport errors so an abandoned call is not reported as a rejection.
func reply(message string, payload any, err error) (*wire.ProviderResponse, error) {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		return wire.Failure(err), nil
	}
	if isNil(payload) {
		payload = nil
	}
	resp, err := wire.Success(message, payload)
	if err != nil {
		return wire.Failure(err), nil
	}
	return resp, nil
}

func isNil(v any) bool {
	switch p := v.(type) {
	case nil:
		return true
	case *backend.Task:
		return p == nil
	case *backend.List:
		return p == nil
	default:
		return false
	}
}
