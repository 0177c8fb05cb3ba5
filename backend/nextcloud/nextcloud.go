// Package nextcloud provides a backend for tasks stored as VTODO objects in
// Nextcloud CalDAV calendars.
package nextcloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"done/backend"
)

// ProviderID is the identifier of the Nextcloud provider.
const ProviderID = "nextcloud"

// Config holds Nextcloud connection settings
type Config struct {
	URL        string // Server root, e.g. https://cloud.example.com
	Username   string
	Password   string // App password, typically from the credentials manager
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Backend implements backend.Provider using Nextcloud CalDAV
type Backend struct {
	http     *resty.Client
	username string
	baseURL  string // calendar home, always ends with "/"
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a new Nextcloud backend
func New(cfg Config) (*Backend, error) {
	if cfg.URL == "" {
		return nil, backend.InvalidArgumentf("nextcloud url is required")
	}
	if cfg.Username == "" {
		return nil, backend.InvalidArgumentf("nextcloud username is required")
	}
	if cfg.Password == "" {
		return nil, &backend.AuthError{Provider: ProviderID, Err: errors.New("no password stored for " + cfg.Username)}
	}
	root := strings.TrimSuffix(cfg.URL, "/")
	if !strings.HasPrefix(root, "http://") && !strings.HasPrefix(root, "https://") {
		root = "https://" + root
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Backend{
		username: cfg.Username,
		baseURL:  fmt.Sprintf("%s/remote.php/dav/calendars/%s/", root, url.PathEscape(cfg.Username)),
		logger:   logger,
		now:      time.Now,
	}
	client := resty.New()
	if cfg.HTTPClient != nil {
		client = resty.NewWithClient(cfg.HTTPClient)
	}
	b.http = client.
		SetBasicAuth(cfg.Username, cfg.Password).
		OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
			b.logger.Debug("caldav request",
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
func (b *Backend) Name() string { return "Nextcloud" }

// Description returns a one-line description
func (b *Backend) Description() string { return "Tasks stored on a Nextcloud server" }

// IconName returns the icon shown next to the provider
func (b *Backend) IconName() string { return "nextcloud-symbolic" }

// Close releases idle connections
func (b *Backend) Close() error {
	b.http.GetClient().CloseIdleConnections()
	return nil
}

func (b *Backend) req(ctx context.Context) *resty.Request {
	return b.http.R().SetContext(ctx)
}

func (b *Backend) calendarURL(listID string) string {
	return b.baseURL + url.PathEscape(listID) + "/"
}

func (b *Backend) taskURL(listID, taskID string) string {
	return b.calendarURL(listID) + url.PathEscape(taskID) + ".ics"
}

// check converts transport failures and DAV status codes into backend errors.
func check(resp *resty.Response, err error, what string) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", backend.ErrUnavailable, what, err)
	}
	if !resp.IsError() {
		return nil
	}
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return backend.NotFoundf("%s", what)
	case http.StatusBadRequest, http.StatusConflict, http.StatusPreconditionFailed,
		http.StatusMethodNotAllowed, http.StatusUnsupportedMediaType:
		return backend.InvalidArgumentf("%s: %s", what, resp.Status())
	case http.StatusUnauthorized, http.StatusForbidden:
		return &backend.AuthError{Provider: ProviderID, Err: fmt.Errorf("%s: %s", what, resp.Status())}
	default:
		return fmt.Errorf("%s: server returned %d", what, resp.StatusCode())
	}
}

// =============================================================================
// List (Calendar) Operations
// =============================================================================

// ReadAllLists returns the calendars that accept tasks
func (b *Backend) ReadAllLists(ctx context.Context) ([]backend.List, error) {
	resp, err := b.req(ctx).
		SetHeader("Depth", "1").
		SetHeader("Content-Type", "application/xml; charset=utf-8").
		SetBody(propfindCalendars).
		Execute("PROPFIND", b.baseURL)
	if err := check(resp, err, "list calendars"); err != nil {
		return nil, err
	}
	ms, err := parseMultiStatus(resp.Body())
	if err != nil {
		return nil, err
	}

	owner := "principals/users/" + b.username
	lists := []backend.List{}
	for _, r := range ms.Responses {
		prop := r.prop()
		if prop.ResourceType.Calendar == nil || !prop.supportsTodos() {
			continue
		}
		id := lastSegment(r.Href)
		name := prop.DisplayName
		if name == "" {
			name = id
		}
		lists = append(lists, backend.List{
			ID:       id,
			Name:     name,
			IsOwner:  prop.OwnerPrincipal == nil || strings.HasSuffix(strings.TrimSuffix(prop.OwnerPrincipal.Href, "/"), owner),
			Provider: ProviderID,
		})
	}
	return lists, nil
}

// ReadList returns a single calendar
func (b *Backend) ReadList(ctx context.Context, listID string) (*backend.List, error) {
	lists, err := b.ReadAllLists(ctx)
	if err != nil {
		return nil, err
	}
	for i := range lists {
		if lists[i].ID == listID {
			return &lists[i], nil
		}
	}
	return nil, backend.NotFoundf("list %q", listID)
}

// CreateList creates a task calendar. The calendar name in the URL is
// generated when the list has no id.
func (b *Backend) CreateList(ctx context.Context, list *backend.List) (*backend.List, error) {
	if err := list.Validate(); err != nil {
		return nil, err
	}
	id := list.ID
	if id == "" {
		id = backend.GenerateID()
	}
	resp, err := b.req(ctx).
		SetHeader("Content-Type", "application/xml; charset=utf-8").
		SetBody(mkcalendarBody(list.Name)).
		Execute("MKCALENDAR", b.calendarURL(id))
	if err := check(resp, err, "create list"); err != nil {
		return nil, err
	}
	return &backend.List{ID: id, Name: list.Name, IsOwner: true, Icon: list.Icon, Provider: ProviderID}, nil
}

// UpdateList renames a calendar
func (b *Backend) UpdateList(ctx context.Context, list *backend.List) (*backend.List, error) {
	if list.ID == "" {
		return nil, backend.InvalidArgumentf("list id is required")
	}
	if err := list.Validate(); err != nil {
		return nil, err
	}
	resp, err := b.req(ctx).
		SetHeader("Content-Type", "application/xml; charset=utf-8").
		SetBody(proppatchBody(list.Name)).
		Execute("PROPPATCH", b.calendarURL(list.ID))
	if err := check(resp, err, fmt.Sprintf("list %q", list.ID)); err != nil {
		return nil, err
	}
	return b.ReadList(ctx, list.ID)
}

// DeleteList deletes a calendar and every task in it
func (b *Backend) DeleteList(ctx context.Context, listID string) error {
	resp, err := b.req(ctx).Delete(b.calendarURL(listID))
	return check(resp, err, fmt.Sprintf("list %q", listID))
}

// =============================================================================
// Task (VTODO) Operations
// =============================================================================

// rawTasks fetches every VTODO of a calendar, sub-tasks included.
func (b *Backend) rawTasks(ctx context.Context, listID string) ([]vtodo, error) {
	resp, err := b.req(ctx).
		SetHeader("Depth", "1").
		SetHeader("Content-Type", "application/xml; charset=utf-8").
		SetBody(reportTodos).
		Execute("REPORT", b.calendarURL(listID))
	if err := check(resp, err, fmt.Sprintf("list %q", listID)); err != nil {
		return nil, err
	}
	ms, err := parseMultiStatus(resp.Body())
	if err != nil {
		return nil, err
	}
	var out []vtodo
	for _, r := range ms.Responses {
		data := r.prop().CalendarData
		if data == "" {
			continue
		}
		todo, err := parseVTODO(data, listID)
		if err != nil {
			b.logger.Warn("skipping unreadable calendar object",
				zap.String("href", r.Href), zap.Error(err))
			continue
		}
		out = append(out, *todo)
	}
	return out, nil
}

// foldSubTasks attaches children to their parent. Children whose parent is
// not in the calendar stay top level.
func foldSubTasks(todos []vtodo) []backend.Task {
	index := make(map[string]int, len(todos))
	for i, t := range todos {
		if t.relatedTo == "" {
			index[t.task.ID] = i
		}
	}
	var children []int
	var top []int
	for i, t := range todos {
		if _, ok := index[t.relatedTo]; t.relatedTo != "" && ok {
			children = append(children, i)
		} else {
			top = append(top, i)
		}
	}
	for _, i := range children {
		p := &todos[index[todos[i].relatedTo]].task
		p.SubTasks = append(p.SubTasks, todos[i].task)
	}
	out := make([]backend.Task, 0, len(top))
	for _, i := range top {
		out = append(out, todos[i].task)
	}
	return out
}

// StreamTasks yields the tasks of one calendar, or of every calendar when
// listID is empty, one batch per non-empty calendar.
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
		todos, err := b.rawTasks(ctx, id)
		if err != nil {
			return err
		}
		if len(todos) == 0 {
			continue
		}
		if err := yield(foldSubTasks(todos)); err != nil {
			return err
		}
	}
	return nil
}

// ReadAllTasks returns the tasks of every calendar
func (b *Backend) ReadAllTasks(ctx context.Context) ([]backend.Task, error) {
	return backend.CollectTasks(backend.StreamTasks(ctx, b, ""))
}

// ReadTasksFromList returns the tasks of one calendar
func (b *Backend) ReadTasksFromList(ctx context.Context, listID string) ([]backend.Task, error) {
	return backend.CollectTasks(backend.StreamTasks(ctx, b, listID))
}

// findTask returns the folded task with taskID in listID. Sub-tasks are
// returned as they appear inside their parent.
func (b *Backend) findTask(ctx context.Context, listID, taskID string) (*backend.Task, error) {
	todos, err := b.rawTasks(ctx, listID)
	if err != nil {
		return nil, err
	}
	for _, t := range foldSubTasks(todos) {
		if t.ID == taskID {
			return &t, nil
		}
		for _, sub := range t.SubTasks {
			if sub.ID == taskID {
				return &sub, nil
			}
		}
	}
	return nil, backend.NotFoundf("task %q", taskID)
}

// locate finds the calendar holding taskID.
func (b *Backend) locate(ctx context.Context, taskID string) (*backend.Task, error) {
	lists, err := b.ReadAllLists(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range lists {
		t, err := b.findTask(ctx, l.ID, taskID)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, backend.ErrNotFound) {
			return nil, err
		}
	}
	return nil, backend.NotFoundf("task %q", taskID)
}

// ReadTask returns a task. When listID is empty every calendar is searched.
func (b *Backend) ReadTask(ctx context.Context, listID, taskID string) (*backend.Task, error) {
	if listID == "" {
		return b.locate(ctx, taskID)
	}
	t, err := b.findTask(ctx, listID, taskID)
	if err != nil && errors.Is(err, backend.ErrNotFound) {
		return nil, backend.NotFoundf("task %q in list %q", taskID, listID)
	}
	return t, err
}

func (b *Backend) put(ctx context.Context, listID string, t *backend.Task, parentUID string, create bool) error {
	req := b.req(ctx).
		SetHeader("Content-Type", "text/calendar; charset=utf-8").
		SetBody(generateVTODO(t, parentUID, b.now()))
	if create {
		req.SetHeader("If-None-Match", "*")
	}
	resp, err := req.Put(b.taskURL(listID, t.ID))
	return check(resp, err, fmt.Sprintf("task %q", t.ID))
}

// CreateTask stores a new task and its sub-tasks in task.Parent
func (b *Backend) CreateTask(ctx context.Context, task *backend.Task) (*backend.Task, error) {
	if task.Parent == "" {
		return nil, backend.InvalidArgumentf("task has no parent list")
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if _, err := b.ReadList(ctx, task.Parent); err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, backend.InvalidArgumentf("parent list %q does not exist", task.Parent)
		}
		return nil, err
	}

	now := b.now().UTC()
	t := *task
	if t.ID == "" {
		t.ID = backend.GenerateID()
	}
	t.CreatedDateTime, t.LastModifiedDateTime = now, now
	t.Normalize(now)
	if err := b.put(ctx, t.Parent, &t, "", true); err != nil {
		return nil, err
	}
	for _, sub := range t.SubTasks {
		if sub.ID == "" {
			sub.ID = backend.GenerateID()
		}
		sub.CreatedDateTime, sub.LastModifiedDateTime = now, now
		sub.Normalize(now)
		if err := b.put(ctx, t.Parent, &sub, t.ID, true); err != nil {
			return nil, err
		}
	}
	return b.ReadTask(ctx, t.Parent, t.ID)
}

// UpdateTask replaces a task and reconciles its sub-tasks
func (b *Backend) UpdateTask(ctx context.Context, task *backend.Task) (*backend.Task, error) {
	if task.ID == "" {
		return nil, backend.InvalidArgumentf("task id is required")
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	existing, err := b.ReadTask(ctx, task.Parent, task.ID)
	if err != nil {
		return nil, err
	}
	listID := existing.Parent

	now := b.now().UTC()
	t := *task
	t.Parent = listID
	t.CreatedDateTime = existing.CreatedDateTime
	t.LastModifiedDateTime = now
	t.Normalize(now)
	if err := b.put(ctx, listID, &t, "", false); err != nil {
		return nil, err
	}

	keep := map[string]bool{}
	for _, sub := range t.SubTasks {
		if sub.ID == "" {
			sub.ID = backend.GenerateID()
		}
		keep[sub.ID] = true
		sub.LastModifiedDateTime = now
		if sub.CreatedDateTime.IsZero() {
			sub.CreatedDateTime = now
		}
		sub.Normalize(now)
		if err := b.put(ctx, listID, &sub, t.ID, false); err != nil {
			return nil, err
		}
	}
	for _, old := range existing.SubTasks {
		if keep[old.ID] {
			continue
		}
		if err := b.deleteObject(ctx, listID, old.ID); err != nil && !errors.Is(err, backend.ErrNotFound) {
			return nil, err
		}
	}
	return b.ReadTask(ctx, listID, t.ID)
}

func (b *Backend) deleteObject(ctx context.Context, listID, taskID string) error {
	resp, err := b.req(ctx).Delete(b.taskURL(listID, taskID))
	return check(resp, err, fmt.Sprintf("task %q", taskID))
}

// DeleteTask removes a task together with its sub-tasks
func (b *Backend) DeleteTask(ctx context.Context, listID, taskID string) error {
	existing, err := b.ReadTask(ctx, listID, taskID)
	if err != nil {
		return err
	}
	for _, sub := range existing.SubTasks {
		if err := b.deleteObject(ctx, existing.Parent, sub.ID); err != nil && !errors.Is(err, backend.ErrNotFound) {
			return err
		}
	}
	return b.deleteObject(ctx, existing.Parent, taskID)
}

var (
	_ backend.Provider     = (*Backend)(nil)
	_ backend.TaskStreamer = (*Backend)(nil)
)
