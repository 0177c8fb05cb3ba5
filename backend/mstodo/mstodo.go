// Package mstodo provides a backend implementation for the Microsoft Graph API To Do.
package mstodo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"done/backend"
)

const (
	// ProviderID is the identifier of the Microsoft To Do provider.
	ProviderID = "microsoft"
	// DefaultBaseURL is the Microsoft Graph API base URL
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"
	// DefaultPageSize is the number of tasks requested per page.
	DefaultPageSize = 100
)

// Config holds Microsoft To Do connection settings
type Config struct {
	// HTTPClient must authorize requests, typically auth.Manager.HTTPClient.
	HTTPClient *http.Client
	BaseURL    string // Override for testing
	PageSize   int
	Logger     *zap.Logger
}

// Backend implements backend.Provider using Microsoft Graph API To Do
type Backend struct {
	http     *resty.Client
	pageSize int
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a new Microsoft To Do backend
func New(cfg Config) (*Backend, error) {
	if cfg.HTTPClient == nil {
		return nil, errors.New("microsoft provider requires an authorized HTTP client")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Backend{pageSize: pageSize, logger: logger, now: time.Now}
	b.http = resty.NewWithClient(cfg.HTTPClient).
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
			b.logger.Debug("graph request",
				zap.String("method", resp.Request.Method),
				zap.String("url", resp.Request.URL),
				zap.Int("status", resp.StatusCode()),
				zap.Duration("elapsed", resp.Time()))
			return nil
		})
	return b, nil
}

// ID returns the provider identifier
func (b *Backend) ID() string { return ProviderID }

// Name returns the display name
func (b *Backend) Name() string { return "Microsoft To Do" }

// Description returns a one-line description
func (b *Backend) Description() string { return "Tasks synced with your Microsoft account" }

// IconName returns the icon shown next to the provider
func (b *Backend) IconName() string { return "microsoft-todo-symbolic" }

// Close releases idle connections
func (b *Backend) Close() error {
	b.http.GetClient().CloseIdleConnections()
	return nil
}

// check converts transport failures and Graph error responses into backend
// errors. Graph error bodies look like {"error":{"code":..,"message":..}}.
func check(resp *resty.Response, err error, what string) error {
	if err != nil {
		var authErr *backend.AuthError
		if errors.As(err, &authErr) {
			return authErr
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", backend.ErrUnavailable, what, err)
	}
	if !resp.IsError() {
		return nil
	}

	msg := gjson.GetBytes(resp.Body(), "error.message").String()
	if msg == "" {
		msg = resp.Status()
	}
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return backend.NotFoundf("%s: %s", what, msg)
	case http.StatusBadRequest:
		return backend.InvalidArgumentf("%s: %s", what, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return &backend.AuthError{Provider: ProviderID, Err: errors.New(msg)}
	default:
		return fmt.Errorf("%s: graph returned %d: %s", what, resp.StatusCode(), msg)
	}
}

func (b *Backend) req(ctx context.Context) *resty.Request {
	return b.http.R().SetContext(ctx)
}

// =============================================================================
// List (TaskList) Operations
// =============================================================================

// ReadAllLists returns all Microsoft To Do task lists
func (b *Backend) ReadAllLists(ctx context.Context) ([]backend.List, error) {
	lists := []backend.List{}
	next := "/me/todo/lists"
	for next != "" {
		var page struct {
			Value    []graphList `json:"value"`
			NextLink string      `json:"@odata.nextLink"`
		}
		resp, err := b.req(ctx).SetResult(&page).Get(next)
		if err := check(resp, err, "failed to get task lists"); err != nil {
			return nil, err
		}
		for _, l := range page.Value {
			lists = append(lists, listFromGraph(l))
		}
		next = page.NextLink
	}
	return lists, nil
}

// ReadList returns a specific task list by ID
func (b *Backend) ReadList(ctx context.Context, listID string) (*backend.List, error) {
	var item graphList
	resp, err := b.req(ctx).SetPathParam("list", listID).SetResult(&item).Get("/me/todo/lists/{list}")
	if err := check(resp, err, "failed to get task list"); err != nil {
		return nil, err
	}
	l := listFromGraph(item)
	return &l, nil
}

// CreateList creates a new Microsoft To Do task list
func (b *Backend) CreateList(ctx context.Context, list *backend.List) (*backend.List, error) {
	if err := list.Validate(); err != nil {
		return nil, err
	}
	var item graphList
	resp, err := b.req(ctx).SetBody(listToGraph(list)).SetResult(&item).Post("/me/todo/lists")
	if err := check(resp, err, "failed to create task list"); err != nil {
		return nil, err
	}
	l := listFromGraph(item)
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
	var item graphList
	resp, err := b.req(ctx).
		SetPathParam("list", list.ID).
		SetBody(listToGraph(list)).
		SetResult(&item).
		Patch("/me/todo/lists/{list}")
	if err := check(resp, err, "failed to update task list"); err != nil {
		return nil, err
	}
	l := listFromGraph(item)
	return &l, nil
}

// DeleteList deletes a task list. Graph removes its tasks with it.
func (b *Backend) DeleteList(ctx context.Context, listID string) error {
	resp, err := b.req(ctx).SetPathParam("list", listID).Delete("/me/todo/lists/{list}")
	return check(resp, err, "failed to delete task list")
}

// =============================================================================
// Task Operations
// =============================================================================

// ReadAllTasks returns the tasks of every list
func (b *Backend) ReadAllTasks(ctx context.Context) ([]backend.Task, error) {
	return backend.CollectTasks(backend.StreamTasks(ctx, b, ""))
}

// ReadTasksFromList returns all tasks in a task list
func (b *Backend) ReadTasksFromList(ctx context.Context, listID string) ([]backend.Task, error) {
	if listID == "" {
		return nil, backend.InvalidArgumentf("list id is required")
	}
	return backend.CollectTasks(backend.StreamTasks(ctx, b, listID))
}

// StreamTasks yields one batch per Graph page, following @odata.nextLink.
func (b *Backend) StreamTasks(ctx context.Context, listID string, yield func([]backend.Task) error) error {
	if listID != "" {
		return b.streamList(ctx, listID, yield)
	}
	lists, err := b.ReadAllLists(ctx)
	if err != nil {
		return err
	}
	for _, l := range lists {
		if err := b.streamList(ctx, l.ID, yield); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) streamList(ctx context.Context, listID string, yield func([]backend.Task) error) error {
	var next string
	for first := true; first || next != ""; first = false {
		var page struct {
			Value    []graphTask `json:"value"`
			NextLink string      `json:"@odata.nextLink"`
		}
		r := b.req(ctx).SetResult(&page)
		var (
			resp *resty.Response
			err  error
		)
		if first {
			resp, err = r.SetPathParam("list", listID).
				SetQueryParam("$expand", "checklistItems").
				SetQueryParam("$top", strconv.Itoa(b.pageSize)).
				Get("/me/todo/lists/{list}/tasks")
		} else {
			resp, err = r.Get(next)
		}
		if err := check(resp, err, "failed to get tasks"); err != nil {
			return err
		}

		if len(page.Value) > 0 {
			batch := make([]backend.Task, len(page.Value))
			for i, item := range page.Value {
				batch[i] = taskFromGraph(listID, item)
			}
			if err := yield(batch); err != nil {
				return err
			}
		}
		next = page.NextLink
	}
	return nil
}

func (b *Backend) getTask(ctx context.Context, listID, taskID string) (*graphTask, error) {
	var item graphTask
	resp, err := b.req(ctx).
		SetPathParams(map[string]string{"list": listID, "task": taskID}).
		SetQueryParam("$expand", "checklistItems").
		SetResult(&item).
		Get("/me/todo/lists/{list}/tasks/{task}")
	if err := check(resp, err, "failed to get task"); err != nil {
		return nil, err
	}
	return &item, nil
}

// locate finds the list holding taskID. Graph has no global task index.
func (b *Backend) locate(ctx context.Context, taskID string) (string, *graphTask, error) {
	lists, err := b.ReadAllLists(ctx)
	if err != nil {
		return "", nil, err
	}
	for _, l := range lists {
		item, err := b.getTask(ctx, l.ID, taskID)
		if errors.Is(err, backend.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", nil, err
		}
		return l.ID, item, nil
	}
	return "", nil, backend.NotFoundf("task %q", taskID)
}

// ReadTask returns a specific task by ID
func (b *Backend) ReadTask(ctx context.Context, listID, taskID string) (*backend.Task, error) {
	if taskID == "" {
		return nil, backend.InvalidArgumentf("task id is required")
	}
	var (
		item *graphTask
		err  error
	)
	if listID == "" {
		listID, item, err = b.locate(ctx, taskID)
	} else {
		item, err = b.getTask(ctx, listID, taskID)
	}
	if err != nil {
		return nil, err
	}
	t := taskFromGraph(listID, *item)
	return &t, nil
}

// CreateTask creates a new task in the list named by task.Parent. Sub-tasks
// become checklist items.
func (b *Backend) CreateTask(ctx context.Context, task *backend.Task) (*backend.Task, error) {
	if task.Parent == "" {
		return nil, backend.InvalidArgumentf("task parent list is required")
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	task = normalized(task, b.now())

	var item graphTask
	resp, err := b.req(ctx).
		SetPathParam("list", task.Parent).
		SetBody(taskToGraph(task)).
		SetResult(&item).
		Post("/me/todo/lists/{list}/tasks")
	if err := check(resp, err, "failed to create task"); err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, backend.InvalidArgumentf("list %q does not exist", task.Parent)
		}
		return nil, err
	}

	if len(task.SubTasks) > 0 {
		if err := b.syncChecklist(ctx, task.Parent, item.ID, nil, task.SubTasks); err != nil {
			return nil, err
		}
		return b.ReadTask(ctx, task.Parent, item.ID)
	}
	t := taskFromGraph(task.Parent, item)
	return &t, nil
}

// UpdateTask replaces the task's fields and synchronizes its checklist:
// new sub-tasks are created, known ones patched and missing ones deleted.
func (b *Backend) UpdateTask(ctx context.Context, task *backend.Task) (*backend.Task, error) {
	if task.ID == "" {
		return nil, backend.InvalidArgumentf("task id is required")
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	task = normalized(task, b.now())
	listID := task.Parent
	var current *graphTask
	var err error
	if listID == "" {
		listID, current, err = b.locate(ctx, task.ID)
	} else {
		current, err = b.getTask(ctx, listID, task.ID)
	}
	if err != nil {
		return nil, err
	}

	resp, err := b.req(ctx).
		SetPathParams(map[string]string{"list": listID, "task": task.ID}).
		SetBody(taskPatchToGraph(task, current)).
		Patch("/me/todo/lists/{list}/tasks/{task}")
	if err := check(resp, err, "failed to update task"); err != nil {
		return nil, err
	}
	if err := b.syncChecklist(ctx, listID, task.ID, current.ChecklistItems, task.SubTasks); err != nil {
		return nil, err
	}
	return b.ReadTask(ctx, listID, task.ID)
}

// normalized returns a normalized deep copy of task, leaving the caller's
// value untouched.
func normalized(task *backend.Task, now time.Time) *backend.Task {
	c := copyTask(task)
	c.Normalize(now)
	return &c
}

func copyTask(t *backend.Task) backend.Task {
	c := *t
	c.Tags = slices.Clone(t.Tags)
	if t.SubTasks != nil {
		c.SubTasks = make([]backend.Task, len(t.SubTasks))
		for i := range t.SubTasks {
			c.SubTasks[i] = copyTask(&t.SubTasks[i])
		}
	}
	return c
}

func (b *Backend) syncChecklist(ctx context.Context, listID, taskID string, existing []checklistItem, subs []backend.Task) error {
	params := map[string]string{"list": listID, "task": taskID}
	known := make(map[string]checklistItem, len(existing))
	for _, item := range existing {
		known[item.ID] = item
	}

	for i := range subs {
		want := subTaskToGraph(&subs[i])
		have, ok := known[subs[i].ID]
		if !ok {
			resp, err := b.req(ctx).SetPathParams(params).SetBody(want).
				Post("/me/todo/lists/{list}/tasks/{task}/checklistItems")
			if err := check(resp, err, "failed to create checklist item"); err != nil {
				return err
			}
			continue
		}
		delete(known, subs[i].ID)
		if have.DisplayName == want.DisplayName && have.IsChecked == want.IsChecked {
			continue
		}
		resp, err := b.req(ctx).SetPathParams(params).SetPathParam("item", have.ID).SetBody(want).
			Patch("/me/todo/lists/{list}/tasks/{task}/checklistItems/{item}")
		if err := check(resp, err, "failed to update checklist item"); err != nil {
			return err
		}
	}

	for _, stale := range existing {
		if _, ok := known[stale.ID]; !ok {
			continue
		}
		resp, err := b.req(ctx).SetPathParams(params).SetPathParam("item", stale.ID).
			Delete("/me/todo/lists/{list}/tasks/{task}/checklistItems/{item}")
		if err := check(resp, err, "failed to delete checklist item"); err != nil && !errors.Is(err, backend.ErrNotFound) {
			return err
		}
	}
	return nil
}

// DeleteTask removes a task
func (b *Backend) DeleteTask(ctx context.Context, listID, taskID string) error {
	if taskID == "" {
		return backend.InvalidArgumentf("task id is required")
	}
	if listID == "" {
		var err error
		if listID, _, err = b.locate(ctx, taskID); err != nil {
			return err
		}
	}
	resp, err := b.req(ctx).
		SetPathParams(map[string]string{"list": listID, "task": taskID}).
		Delete("/me/todo/lists/{list}/tasks/{task}")
	return check(resp, err, "failed to delete task")
}

// Verify interface compliance at compile time
var (
	_ backend.Provider     = (*Backend)(nil)
	_ backend.TaskStreamer = (*Backend)(nil)
)
