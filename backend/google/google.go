// Package google provides a backend implementation for the Google Tasks API v1.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	tasks "google.golang.org/api/tasks/v1"

	"done/backend"
)

const (
	// ProviderID is the identifier of the Google Tasks provider.
	ProviderID = "google"
	// DefaultPageSize is the number of tasks requested per page (API maximum).
	DefaultPageSize = 100
)

// Config holds Google Tasks connection settings
type Config struct {
	// HTTPClient must authorize requests, typically auth.Manager.HTTPClient.
	HTTPClient *http.Client
	Endpoint   string // Override for testing
	PageSize   int64
	Logger     *zap.Logger
}

// Backend implements backend.Provider using Google Tasks API v1
type Backend struct {
	svc      *tasks.Service
	client   *http.Client
	pageSize int64
	logger   *zap.Logger
}

// New creates a new Google Tasks backend
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.HTTPClient == nil {
		return nil, errors.New("google provider requires an authorized HTTP client")
	}
	opts := []option.ClientOption{option.WithHTTPClient(cfg.HTTPClient)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := tasks.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Tasks service: %w", err)
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{svc: svc, client: cfg.HTTPClient, pageSize: pageSize, logger: logger}, nil
}

// ID returns the provider identifier
func (b *Backend) ID() string { return ProviderID }

// Name returns the display name
func (b *Backend) Name() string { return "Google Tasks" }

// Description returns a one-line description
func (b *Backend) Description() string { return "Tasks synced with your Google account" }

// IconName returns the icon shown next to the provider
func (b *Backend) IconName() string { return "google-tasks-symbolic" }

// Close releases idle connections
func (b *Backend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

// mapError converts API and transport failures into backend errors.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	var authErr *backend.AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s: %v", backend.ErrUnavailable, what, err)
	}
	msg := apiErr.Message
	if msg == "" {
		msg = http.StatusText(apiErr.Code)
	}
	switch apiErr.Code {
	case http.StatusNotFound:
		return backend.NotFoundf("%s: %s", what, msg)
	case http.StatusBadRequest:
		return backend.InvalidArgumentf("%s: %s", what, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return &backend.AuthError{Provider: ProviderID, Err: errors.New(msg)}
	default:
		return fmt.Errorf("%s: google returned %d: %s", what, apiErr.Code, msg)
	}
}

// =============================================================================
// List Operations
// =============================================================================

// ReadAllLists returns all task lists
func (b *Backend) ReadAllLists(ctx context.Context) ([]backend.List, error) {
	lists := []backend.List{}
	err := b.svc.Tasklists.List().MaxResults(b.pageSize).Pages(ctx, func(page *tasks.TaskLists) error {
		for _, tl := range page.Items {
			lists = append(lists, listFromGoogle(tl))
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err, "failed to list task lists")
	}
	return lists, nil
}

// ReadList returns a specific task list by ID
func (b *Backend) ReadList(ctx context.Context, listID string) (*backend.List, error) {
	tl, err := b.svc.Tasklists.Get(listID).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err, "failed to get task list")
	}
	l := listFromGoogle(tl)
	return &l, nil
}

// CreateList creates a new task list
func (b *Backend) CreateList(ctx context.Context, list *backend.List) (*backend.List, error) {
	if err := list.Validate(); err != nil {
		return nil, err
	}
	created, err := b.svc.Tasklists.Insert(&tasks.TaskList{Title: list.Name}).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err, "failed to create task list")
	}
	l := listFromGoogle(created)
	return &l, nil
}

// UpdateList renames a task list
func (b *Backend) UpdateList(ctx context.Context, list *backend.List) (*backend.List, error) {
	if list.ID == "" {
		return nil, backend.InvalidArgumentf("list id is required")
	}
	if err := list.Validate(); err != nil {
		return nil, err
	}
	updated, err := b.svc.Tasklists.Patch(list.ID, &tasks.TaskList{Title: list.Name}).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err, "failed to update task list")
	}
	l := listFromGoogle(updated)
	return &l, nil
}

// DeleteList deletes a task list together with its tasks
func (b *Backend) DeleteList(ctx context.Context, listID string) error {
	return mapError(b.svc.Tasklists.Delete(listID).Context(ctx).Do(), "failed to delete task list")
}

// =============================================================================
// Task Operations
// =============================================================================

// rawTasks returns every task of a list, sub-tasks included, across pages.
func (b *Backend) rawTasks(ctx context.Context, listID string) ([]*tasks.Task, error) {
	var items []*tasks.Task
	err := b.svc.Tasks.List(listID).
		ShowCompleted(true).
		ShowHidden(true).
		MaxResults(b.pageSize).
		Pages(ctx, func(page *tasks.Tasks) error {
			items = append(items, page.Items...)
			return nil
		})
	if err != nil {
		return nil, mapError(err, "failed to list tasks")
	}
	return items, nil
}

// ReadAllTasks returns the tasks of every list
func (b *Backend) ReadAllTasks(ctx context.Context) ([]backend.Task, error) {
	return backend.CollectTasks(backend.StreamTasks(ctx, b, ""))
}

// ReadTasksFromList returns the top-level tasks of a list with sub-tasks folded in
func (b *Backend) ReadTasksFromList(ctx context.Context, listID string) ([]backend.Task, error) {
	if listID == "" {
		return nil, backend.InvalidArgumentf("list id is required")
	}
	return backend.CollectTasks(backend.StreamTasks(ctx, b, listID))
}

// StreamTasks yields one batch per non-empty list. A list is read in full
// before it is yielded since a sub-task may arrive on a later page than its parent.
func (b *Backend) StreamTasks(ctx context.Context, listID string, yield func([]backend.Task) error) error {
	ids := []string{listID}
	if listID == "" {
		lists, err := b.ReadAllLists(ctx)
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, l := range lists {
			ids = append(ids, l.ID)
		}
	}
	for _, id := range ids {
		items, err := b.rawTasks(ctx, id)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			continue
		}
		if err := yield(foldSubTasks(id, items)); err != nil {
			return err
		}
	}
	return nil
}

// locate finds the list holding taskID.
func (b *Backend) locate(ctx context.Context, taskID string) (string, error) {
	lists, err := b.ReadAllLists(ctx)
	if err != nil {
		return "", err
	}
	for _, l := range lists {
		_, err := b.svc.Tasks.Get(l.ID, taskID).Context(ctx).Do()
		if err == nil {
			return l.ID, nil
		}
		if err := mapError(err, "failed to get task"); !errors.Is(err, backend.ErrNotFound) {
			return "", err
		}
	}
	return "", backend.NotFoundf("task %q", taskID)
}

// readTask returns the task with its sub-tasks folded in.
func (b *Backend) readTask(ctx context.Context, listID, taskID string) (*backend.Task, error) {
	g, err := b.svc.Tasks.Get(listID, taskID).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err, "failed to get task")
	}
	t := taskFromGoogle(listID, g)
	items, err := b.rawTasks(ctx, listID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.Parent == taskID {
			t.SubTasks = append(t.SubTasks, taskFromGoogle(listID, item))
		}
	}
	return &t, nil
}

// ReadTask returns a specific task by ID
func (b *Backend) ReadTask(ctx context.Context, listID, taskID string) (*backend.Task, error) {
	if taskID == "" {
		return nil, backend.InvalidArgumentf("task id is required")
	}
	if listID == "" {
		var err error
		if listID, err = b.locate(ctx, taskID); err != nil {
			return nil, err
		}
	}
	return b.readTask(ctx, listID, taskID)
}

// CreateTask creates a task in task.Parent. Sub-tasks are created as Google
// sub-tasks of the new task.
func (b *Backend) CreateTask(ctx context.Context, task *backend.Task) (*backend.Task, error) {
	if task.Parent == "" {
		return nil, backend.InvalidArgumentf("task parent list is required")
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	created, err := b.svc.Tasks.Insert(task.Parent, taskToGoogle(task)).Context(ctx).Do()
	if err != nil {
		err = mapError(err, "failed to create task")
		if errors.Is(err, backend.ErrNotFound) {
			return nil, backend.InvalidArgumentf("list %q does not exist", task.Parent)
		}
		return nil, err
	}

	previous := ""
	for i := range task.SubTasks {
		call := b.svc.Tasks.Insert(task.Parent, taskToGoogle(&task.SubTasks[i])).Parent(created.Id).Context(ctx)
		if previous != "" {
			call = call.Previous(previous)
		}
		sub, err := call.Do()
		if err != nil {
			return nil, mapError(err, "failed to create sub-task")
		}
		previous = sub.Id
	}
	return b.readTask(ctx, task.Parent, created.Id)
}

// UpdateTask replaces the task's fields and synchronizes its sub-tasks:
// new ones are created, known ones updated and missing ones deleted.
func (b *Backend) UpdateTask(ctx context.Context, task *backend.Task) (*backend.Task, error) {
	if task.ID == "" {
		return nil, backend.InvalidArgumentf("task id is required")
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	listID := task.Parent
	if listID == "" {
		var err error
		if listID, err = b.locate(ctx, task.ID); err != nil {
			return nil, err
		}
	}

	if _, err := b.svc.Tasks.Patch(listID, task.ID, taskToGoogle(task)).Context(ctx).Do(); err != nil {
		return nil, mapError(err, "failed to update task")
	}

	items, err := b.rawTasks(ctx, listID)
	if err != nil {
		return nil, err
	}
	existing := map[string]bool{}
	for _, item := range items {
		if item.Parent == task.ID {
			existing[item.Id] = true
		}
	}
	for i := range task.SubTasks {
		sub := &task.SubTasks[i]
		if existing[sub.ID] {
			delete(existing, sub.ID)
			if _, err := b.svc.Tasks.Patch(listID, sub.ID, taskToGoogle(sub)).Context(ctx).Do(); err != nil {
				return nil, mapError(err, "failed to update sub-task")
			}
			continue
		}
		if _, err := b.svc.Tasks.Insert(listID, taskToGoogle(sub)).Parent(task.ID).Context(ctx).Do(); err != nil {
			return nil, mapError(err, "failed to create sub-task")
		}
	}
	for id := range existing {
		if err := b.svc.Tasks.Delete(listID, id).Context(ctx).Do(); err != nil {
			if err := mapError(err, "failed to delete sub-task"); !errors.Is(err, backend.ErrNotFound) {
				return nil, err
			}
		}
	}
	return b.readTask(ctx, listID, task.ID)
}

// DeleteTask removes a task and its sub-tasks
func (b *Backend) DeleteTask(ctx context.Context, listID, taskID string) error {
	if taskID == "" {
		return backend.InvalidArgumentf("task id is required")
	}
	if listID == "" {
		var err error
		if listID, err = b.locate(ctx, taskID); err != nil {
			return err
		}
	}
	return mapError(b.svc.Tasks.Delete(listID, taskID).Context(ctx).Do(), "failed to delete task")
}

// Verify interface compliance at compile time
var (
	_ backend.Provider     = (*Backend)(nil)
	_ backend.TaskStreamer = (*Backend)(nil)
)
