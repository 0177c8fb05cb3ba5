package mstodo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"done/backend"
)

// fakeGraph serves the subset of /me/todo used by the provider.
type fakeGraph struct {
	t       *testing.T
	srv     *httptest.Server
	mu      sync.Mutex
	lists   []graphList
	tasks   map[string][]graphTask
	nextID  int
	calls   []string
	patches []string // raw task PATCH bodies
	status  int      // forced status for every request when non-zero
}

func newFakeGraph(t *testing.T) *fakeGraph {
	g := &fakeGraph{t: t, tasks: map[string][]graphTask{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1.0/me/todo/lists", g.getLists)
	mux.HandleFunc("POST /v1.0/me/todo/lists", g.createList)
	mux.HandleFunc("GET /v1.0/me/todo/lists/{list}", g.getList)
	mux.HandleFunc("DELETE /v1.0/me/todo/lists/{list}", g.deleteList)
	mux.HandleFunc("GET /v1.0/me/todo/lists/{list}/tasks", g.getTasks)
	mux.HandleFunc("POST /v1.0/me/todo/lists/{list}/tasks", g.createTask)
	mux.HandleFunc("GET /v1.0/me/todo/lists/{list}/tasks/{task}", g.getTask)
	mux.HandleFunc("PATCH /v1.0/me/todo/lists/{list}/tasks/{task}", g.patchTask)
	mux.HandleFunc("DELETE /v1.0/me/todo/lists/{list}/tasks/{task}", g.deleteTask)
	mux.HandleFunc("POST /v1.0/me/todo/lists/{list}/tasks/{task}/checklistItems", g.createItem)
	mux.HandleFunc("PATCH /v1.0/me/todo/lists/{list}/tasks/{task}/checklistItems/{item}", g.patchItem)
	mux.HandleFunc("DELETE /v1.0/me/todo/lists/{list}/tasks/{task}/checklistItems/{item}", g.deleteItem)
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.calls = append(g.calls, r.Method+" "+r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer test-token" {
			g.fail(w, http.StatusUnauthorized, "InvalidAuthenticationToken", "Access token is empty.")
			return
		}
		if g.status != 0 {
			g.fail(w, g.status, "ServiceUnavailable", "try later")
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGraph) id(prefix string) string {
	g.nextID++
	return prefix + strconv.Itoa(g.nextID)
}

func (g *fakeGraph) write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		require.NoError(g.t, json.NewEncoder(w).Encode(v))
	}
}

func (g *fakeGraph) fail(w http.ResponseWriter, status int, code, msg string) {
	g.write(w, status, map[string]any{"error": map[string]string{"code": code, "message": msg}})
}

func (g *fakeGraph) findList(id string) int {
	for i, l := range g.lists {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (g *fakeGraph) findTask(list, id string) int {
	for i, t := range g.tasks[list] {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (g *fakeGraph) getLists(w http.ResponseWriter, _ *http.Request) {
	g.write(w, http.StatusOK, map[string]any{"value": g.lists})
}

func (g *fakeGraph) getList(w http.ResponseWriter, r *http.Request) {
	i := g.findList(r.PathValue("list"))
	if i < 0 {
		g.fail(w, http.StatusNotFound, "ErrorItemNotFound", "The specified object was not found in the store.")
		return
	}
	g.write(w, http.StatusOK, g.lists[i])
}

func (g *fakeGraph) createList(w http.ResponseWriter, r *http.Request) {
	var l graphList
	require.NoError(g.t, json.NewDecoder(r.Body).Decode(&l))
	l.ID, l.IsOwner = g.id("list-"), true
	g.lists = append(g.lists, l)
	g.write(w, http.StatusCreated, l)
}

func (g *fakeGraph) deleteList(w http.ResponseWriter, r *http.Request) {
	i := g.findList(r.PathValue("list"))
	if i < 0 {
		g.fail(w, http.StatusNotFound, "ErrorItemNotFound", "list not found")
		return
	}
	delete(g.tasks, g.lists[i].ID)
	g.lists = append(g.lists[:i], g.lists[i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

// getTasks pages with $top and an absolute nextLink carrying $skip.
func (g *fakeGraph) getTasks(w http.ResponseWriter, r *http.Request) {
	list := r.PathValue("list")
	if g.findList(list) < 0 {
		g.fail(w, http.StatusNotFound, "ErrorItemNotFound", "list not found")
		return
	}
	top, _ := strconv.Atoi(r.URL.Query().Get("$top"))
	skip, _ := strconv.Atoi(r.URL.Query().Get("$skip"))
	all := g.tasks[list]
	if top <= 0 {
		top = len(all)
	}
	end := min(skip+top, len(all))
	page := map[string]any{"value": all[skip:end]}
	if end < len(all) {
		page["@odata.nextLink"] = fmt.Sprintf("%s/v1.0/me/todo/lists/%s/tasks?$expand=checklistItems&$top=%d&$skip=%d", g.srv.URL, list, top, end)
	}
	g.write(w, http.StatusOK, page)
}

func (g *fakeGraph) getTask(w http.ResponseWriter, r *http.Request) {
	list, id := r.PathValue("list"), r.PathValue("task")
	i := g.findTask(list, id)
	if i < 0 {
		g.fail(w, http.StatusNotFound, "ErrorItemNotFound", "task not found")
		return
	}
	g.write(w, http.StatusOK, g.tasks[list][i])
}

func (g *fakeGraph) createTask(w http.ResponseWriter, r *http.Request) {
	list := r.PathValue("list")
	if g.findList(list) < 0 {
		g.fail(w, http.StatusNotFound, "ErrorItemNotFound", "list not found")
		return
	}
	var t graphTask
	require.NoError(g.t, json.NewDecoder(r.Body).Decode(&t))
	t.ID = g.id("task-")
	t.CreatedDateTime = "2026-03-01T10:00:00.1234567Z"
	t.LastModifiedDateTime = t.CreatedDateTime
	g.tasks[list] = append(g.tasks[list], t)
	g.write(w, http.StatusCreated, t)
}

func (g *fakeGraph) patchTask(w http.ResponseWriter, r *http.Request) {
	list, id := r.PathValue("list"), r.PathValue("task")
	i := g.findTask(list, id)
	if i < 0 {
		g.fail(w, http.StatusNotFound, "ErrorItemNotFound", "task not found")
		return
	}
	body, err := io.ReadAll(r.Body)
	require.NoError(g.t, err)
	g.patches = append(g.patches, string(body))
	// Absent properties keep their value, explicit nulls clear them.
	t := g.tasks[list][i]
	require.NoError(g.t, json.Unmarshal(body, &t))
	t.LastModifiedDateTime = "2026-03-02T10:00:00Z"
	g.tasks[list][i] = t
	g.write(w, http.StatusOK, t)
}

func (g *fakeGraph) deleteTask(w http.ResponseWriter, r *http.Request) {
	list, id := r.PathValue("list"), r.PathValue("task")
	i := g.findTask(list, id)
	if i < 0 {
		g.fail(w, http.StatusNotFound, "ErrorItemNotFound", "task not found")
		return
	}
	g.tasks[list] = append(g.tasks[list][:i], g.tasks[list][i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

func (g *fakeGraph) task(r *http.Request) *graphTask {
	list, id := r.PathValue("list"), r.PathValue("task")
	i := g.findTask(list, id)
	if i < 0 {
		return nil
	}
	return &g.tasks[list][i]
}

func (g *fakeGraph) createItem(w http.ResponseWriter, r *http.Request) {
	t := g.task(r)
	require.NotNil(g.t, t)
	var item checklistItem
	require.NoError(g.t, json.NewDecoder(r.Body).Decode(&item))
	item.ID = g.id("item-")
	item.CreatedDateTime = "2026-03-01T11:00:00Z"
	t.ChecklistItems = append(t.ChecklistItems, item)
	g.write(w, http.StatusCreated, item)
}

func (g *fakeGraph) patchItem(w http.ResponseWriter, r *http.Request) {
	t := g.task(r)
	require.NotNil(g.t, t)
	var patch checklistItem
	require.NoError(g.t, json.NewDecoder(r.Body).Decode(&patch))
	for i := range t.ChecklistItems {
		if t.ChecklistItems[i].ID == r.PathValue("item") {
			t.ChecklistItems[i].DisplayName = patch.DisplayName
			t.ChecklistItems[i].IsChecked = patch.IsChecked
			g.write(w, http.StatusOK, t.ChecklistItems[i])
			return
		}
	}
	g.fail(w, http.StatusNotFound, "ErrorItemNotFound", "item not found")
}

func (g *fakeGraph) deleteItem(w http.ResponseWriter, r *http.Request) {
	t := g.task(r)
	require.NotNil(g.t, t)
	for i := range t.ChecklistItems {
		if t.ChecklistItems[i].ID == r.PathValue("item") {
			t.ChecklistItems = append(t.ChecklistItems[:i], t.ChecklistItems[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	g.fail(w, http.StatusNotFound, "ErrorItemNotFound", "item not found")
}

func (g *fakeGraph) callCount(call string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c == call {
			n++
		}
	}
	return n
}

// bearer adds a fixed token, standing in for the oauth2 transport.
type bearer struct{ token string }

func (b bearer) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+b.token)
	return http.DefaultTransport.RoundTrip(r)
}

func newTestBackend(t *testing.T, g *fakeGraph, pageSize int) *Backend {
	t.Helper()
	b, err := New(Config{
		HTTPClient: &http.Client{Transport: bearer{"test-token"}},
		BaseURL:    g.srv.URL + "/v1.0",
		PageSize:   pageSize,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNewRequiresHTTPClient(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestMetadata(t *testing.T) {
	b := newTestBackend(t, newFakeGraph(t), 0)
	info := backend.InfoOf(b)
	assert.Equal(t, "microsoft", info.ID)
	assert.Equal(t, "Microsoft To Do", info.Name)
	assert.NotEmpty(t, info.Description)
	assert.NotEmpty(t, info.Icon)
}

func TestListLifecycle(t *testing.T) {
	g := newFakeGraph(t)
	b := newTestBackend(t, g, 0)
	ctx := context.Background()

	created, err := b.CreateList(ctx, &backend.List{Name: "Groceries"})
	require.NoError(t, err)
	assert.Equal(t, "Groceries", created.Name)
	assert.Equal(t, "microsoft", created.Provider)
	assert.True(t, created.IsOwner)

	_, err = b.CreateList(ctx, &backend.List{Name: "  "})
	assert.ErrorIs(t, err, backend.ErrInvalidArgument)

	lists, err := b.ReadAllLists(ctx)
	require.NoError(t, err)
	require.Len(t, lists, 1)

	got, err := b.ReadList(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	require.NoError(t, b.DeleteList(ctx, created.ID))
	_, err = b.ReadList(ctx, created.ID)
	assert.ErrorIs(t, err, backend.ErrNotFound)
	assert.ErrorContains(t, err, "The specified object was not found")

	_, err = b.ReadTasksFromList(ctx, created.ID)
	assert.ErrorIs(t, err, backend.ErrNotFound, "tasks go with their list")
}

func TestStreamFollowsNextLink(t *testing.T) {
	g := newFakeGraph(t)
	g.lists = []graphList{{ID: "l1", DisplayName: "Work", IsOwner: true}, {ID: "l2", DisplayName: "Empty"}}
	g.tasks["l1"] = []graphTask{
		{ID: "a", Title: "A", Status: "notStarted"},
		{ID: "b", Title: "B", Status: "completed", CompletedDateTime: &dateTimeTimeZone{DateTime: "2026-02-01T08:00:00.0000000", TimeZone: "UTC"}},
		{ID: "c", Title: "C"},
	}
	b := newTestBackend(t, g, 2)

	var sizes []int
	err := b.StreamTasks(context.Background(), "", func(batch []backend.Task) error {
		sizes = append(sizes, len(batch))
		for _, task := range batch {
			assert.Equal(t, "l1", task.Parent)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, sizes, "one batch per page, empty lists yield nothing")

	all, err := b.ReadAllTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, backend.StatusCompleted, all[1].Status)
	require.NotNil(t, all[1].CompletionDate)
	assert.Equal(t, time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC), *all[1].CompletionDate)

	empty, err := b.ReadTasksFromList(context.Background(), "l2")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestStreamStopsWhenConsumerFails(t *testing.T) {
	g := newFakeGraph(t)
	g.lists = []graphList{{ID: "l1", DisplayName: "Work"}}
	g.tasks["l1"] = []graphTask{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}, {ID: "c", Title: "C"}}
	b := newTestBackend(t, g, 1)

	stop := errors.New("enough")
	err := b.StreamTasks(context.Background(), "l1", func([]backend.Task) error { return stop })
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, g.callCount("GET /v1.0/me/todo/lists/l1/tasks"))
}

func TestCreateTaskWithChecklist(t *testing.T) {
	g := newFakeGraph(t)
	g.lists = []graphList{{ID: "l1", DisplayName: "Groceries"}}
	b := newTestBackend(t, g, 0)
	ctx := context.Background()

	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	task := backend.NewTask("l1", "Milk")
	task.Priority = backend.PriorityHigh
	task.DueDate = &due
	task.Recurrence = backend.RecurrenceOf(time.Monday, time.Thursday)
	task.Tags = []string{"dairy"}
	task.SubTasks = []backend.Task{{Title: "Oat"}, {Title: "Whole", Status: backend.StatusCompleted}}

	created, err := b.CreateTask(ctx, &task)
	require.NoError(t, err)
	assert.NotEqual(t, task.ID, created.ID, "Graph assigns ids")
	assert.Equal(t, "l1", created.Parent)
	assert.Equal(t, backend.PriorityHigh, created.Priority)
	assert.Equal(t, []string{"dairy"}, created.Tags)
	assert.True(t, created.Recurrence.Has(time.Monday))
	assert.True(t, created.Recurrence.Has(time.Thursday))
	require.NotNil(t, created.DueDate)
	assert.True(t, due.Equal(*created.DueDate))
	require.Len(t, created.SubTasks, 2)
	assert.Equal(t, "Oat", created.SubTasks[0].Title)
	assert.Equal(t, backend.StatusCompleted, created.SubTasks[1].Status)
	assert.False(t, created.Favorite, "favorite has no Graph equivalent")

	stored := g.tasks["l1"][0]
	require.NotNil(t, stored.Recurrence)
	assert.Equal(t, "weekly", stored.Recurrence.Pattern.Type)
	assert.Equal(t, "2026-03-10", stored.Recurrence.Range.StartDate)
	assert.Equal(t, "text", stored.Body.ContentType)
}

func TestCreateTaskRejectsMissingOrUnknownParent(t *testing.T) {
	g := newFakeGraph(t)
	b := newTestBackend(t, g, 0)

	_, err := b.CreateTask(context.Background(), &backend.Task{Title: "Orphan"})
	assert.ErrorIs(t, err, backend.ErrInvalidArgument)

	_, err = b.CreateTask(context.Background(), &backend.Task{Title: "Orphan", Parent: "nope"})
	assert.ErrorIs(t, err, backend.ErrInvalidArgument)
}

func TestUpdateTaskSynchronizesChecklist(t *testing.T) {
	g := newFakeGraph(t)
	g.lists = []graphList{{ID: "l1", DisplayName: "Trip"}}
	g.tasks["l1"] = []graphTask{{
		ID: "t1", Title: "Pack", Status: "notStarted",
		ChecklistItems: []checklistItem{
			{ID: "i1", DisplayName: "Socks"},
			{ID: "i2", DisplayName: "Hat"},
		},
	}}
	b := newTestBackend(t, g, 0)
	ctx := context.Background()

	task, err := b.ReadTask(ctx, "", "t1")
	require.NoError(t, err)
	assert.Equal(t, "l1", task.Parent, "task located without its list id")

	task.Title = "Pack bags"
	task.SubTasks[0].Status = backend.StatusCompleted
	task.SubTasks = append(task.SubTasks[:1], backend.Task{Title: "Passport"})

	updated, err := b.UpdateTask(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, "Pack bags", updated.Title)
	require.Len(t, updated.SubTasks, 2)
	assert.Equal(t, "i1", updated.SubTasks[0].ID)
	assert.Equal(t, backend.StatusCompleted, updated.SubTasks[0].Status)
	assert.Equal(t, "Passport", updated.SubTasks[1].Title)

	assert.Equal(t, 1, g.callCount("PATCH /v1.0/me/todo/lists/l1/tasks/t1/checklistItems/i1"))
	assert.Equal(t, 1, g.callCount("DELETE /v1.0/me/todo/lists/l1/tasks/t1/checklistItems/i2"))
	assert.Equal(t, 1, g.callCount("POST /v1.0/me/todo/lists/l1/tasks/t1/checklistItems"))

	_, err = b.UpdateTask(ctx, &backend.Task{ID: "ghost", Parent: "l1", Title: "x"})
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestDeleteTask(t *testing.T) {
	g := newFakeGraph(t)
	g.lists = []graphList{{ID: "l1", DisplayName: "Trip"}}
	g.tasks["l1"] = []graphTask{{ID: "t1", Title: "Pack"}}
	b := newTestBackend(t, g, 0)
	ctx := context.Background()

	require.NoError(t, b.DeleteTask(ctx, "", "t1"))
	_, err := b.ReadTask(ctx, "l1", "t1")
	assert.ErrorIs(t, err, backend.ErrNotFound)
	assert.ErrorIs(t, b.DeleteTask(ctx, "l1", "t1"), backend.ErrNotFound)
	assert.ErrorIs(t, b.DeleteTask(ctx, "", "t1"), backend.ErrNotFound)
}

func TestErrorMapping(t *testing.T) {
	g := newFakeGraph(t)
	ctx := context.Background()

	unauthorized, err := New(Config{HTTPClient: &http.Client{}, BaseURL: g.srv.URL + "/v1.0"})
	require.NoError(t, err)
	_, err = unauthorized.ReadAllLists(ctx)
	var authErr *backend.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.ErrorIs(t, err, backend.ErrUnauthenticated)
	assert.ErrorContains(t, err, "Access token is empty")

	b := newTestBackend(t, g, 0)
	g.status = http.StatusServiceUnavailable
	_, err = b.ReadAllLists(ctx)
	require.Error(t, err)
	assert.ErrorContains(t, err, "graph returned 503: try later")
}

// failingToken simulates an oauth2 transport whose token cannot be refreshed.
type failingToken struct{}

func (failingToken) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, &backend.AuthError{Provider: "microsoft", Err: errors.New("invalid_grant")}
}

func TestTransportAuthErrorSurfaces(t *testing.T) {
	b, err := New(Config{HTTPClient: &http.Client{Transport: failingToken{}}, BaseURL: "http://127.0.0.1:1/v1.0"})
	require.NoError(t, err)
	_, err = b.ReadAllLists(context.Background())
	var authErr *backend.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.ErrorContains(t, err, "invalid_grant")
}

func TestUnreachableGraphIsUnavailable(t *testing.T) {
	b, err := New(Config{HTTPClient: &http.Client{Timeout: time.Second}, BaseURL: "http://127.0.0.1:1/v1.0"})
	require.NoError(t, err)
	_, err = b.ReadAllLists(context.Background())
	assert.ErrorIs(t, err, backend.ErrUnavailable)
}

func TestCompletingKeepsRecurrenceWithoutCanonicalForm(t *testing.T) {
	g := newFakeGraph(t)
	g.lists = []graphList{{ID: "l1", DisplayName: "Bills"}}
	g.tasks["l1"] = []graphTask{{
		ID:     "t1",
		Title:  "Rent",
		Status: "notStarted",
		Recurrence: &patternedRecurrence{
			Pattern: recurrencePattern{Type: "absoluteMonthly", Interval: 1},
			Range:   recurrenceRange{Type: "noEnd", StartDate: "2026-01-01"},
		},
		CreatedDateTime: "2026-01-01T08:00:00Z",
	}}
	b := newTestBackend(t, g, 0)
	b.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	task, err := b.ReadTask(ctx, "l1", "t1")
	require.NoError(t, err)
	assert.True(t, task.Recurrence.IsZero())

	task.Status = backend.StatusCompleted
	updated, err := b.UpdateTask(ctx, task)
	require.NoError(t, err)
	assert.Nil(t, task.CompletionDate, "the caller's task is not modified")

	require.Len(t, g.patches, 1)
	assert.NotContains(t, g.patches[0], `"recurrence"`)
	stored := g.tasks["l1"][0]
	require.NotNil(t, stored.Recurrence)
	assert.Equal(t, "absoluteMonthly", stored.Recurrence.Pattern.Type)

	require.NotNil(t, stored.CompletedDateTime, "completion date is filled in for completed tasks")
	assert.Equal(t, backend.StatusCompleted, updated.Status)
	require.NotNil(t, updated.CompletionDate)
	assert.True(t, b.now().Equal(*updated.CompletionDate))
}

func TestUpdateTaskClearsWeeklyRecurrence(t *testing.T) {
	g := newFakeGraph(t)
	g.lists = []graphList{{ID: "l1", DisplayName: "Chores"}}
	g.tasks["l1"] = []graphTask{{
		ID:     "t1",
		Title:  "Bins",
		Status: "notStarted",
		Recurrence: &patternedRecurrence{
			Pattern: recurrencePattern{Type: "weekly", Interval: 1, DaysOfWeek: []string{"tuesday"}},
			Range:   recurrenceRange{Type: "noEnd", StartDate: "2026-01-06"},
		},
	}}
	b := newTestBackend(t, g, 0)
	ctx := context.Background()

	task, err := b.ReadTask(ctx, "l1", "t1")
	require.NoError(t, err)
	assert.Equal(t, backend.RecurrenceOf(time.Tuesday), task.Recurrence)

	task.Recurrence = 0
	_, err = b.UpdateTask(ctx, task)
	require.NoError(t, err)
	require.Len(t, g.patches, 1)
	assert.Contains(t, g.patches[0], `"recurrence":null`)
	assert.Nil(t, g.tasks["l1"][0].Recurrence)
}
