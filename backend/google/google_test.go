package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tasks "google.golang.org/api/tasks/v1"

	"done/backend"
)

// fakeTasksAPI serves the subset of the Google Tasks REST API used by the provider.
type fakeTasksAPI struct {
	t      *testing.T
	srv    *httptest.Server
	mu     sync.Mutex
	lists  []*tasks.TaskList
	tasks  map[string][]*tasks.Task
	nextID int
	calls  []string
	deny   bool
}

func newFakeTasksAPI(t *testing.T) *fakeTasksAPI {
	f := &fakeTasksAPI{t: t, tasks: map[string][]*tasks.Task{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tasks/v1/users/@me/lists", f.getLists)
	mux.HandleFunc("POST /tasks/v1/users/@me/lists", f.createList)
	mux.HandleFunc("GET /tasks/v1/users/@me/lists/{list}", f.getList)
	mux.HandleFunc("PATCH /tasks/v1/users/@me/lists/{list}", f.patchList)
	mux.HandleFunc("DELETE /tasks/v1/users/@me/lists/{list}", f.deleteList)
	mux.HandleFunc("GET /tasks/v1/lists/{list}/tasks", f.listTasks)
	mux.HandleFunc("POST /tasks/v1/lists/{list}/tasks", f.insertTask)
	mux.HandleFunc("GET /tasks/v1/lists/{list}/tasks/{task}", f.getTask)
	mux.HandleFunc("PATCH /tasks/v1/lists/{list}/tasks/{task}", f.patchTask)
	mux.HandleFunc("DELETE /tasks/v1/lists/{list}/tasks/{task}", f.deleteTask)
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		if f.deny {
			f.fail(w, http.StatusUnauthorized, "Request had invalid authentication credentials.")
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeTasksAPI) id(prefix string) string {
	f.nextID++
	return prefix + strconv.Itoa(f.nextID)
}

func (f *fakeTasksAPI) write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		require.NoError(f.t, json.NewEncoder(w).Encode(v))
	}
}

func (f *fakeTasksAPI) fail(w http.ResponseWriter, status int, msg string) {
	f.write(w, status, map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

func (f *fakeTasksAPI) list(id string) int {
	for i, l := range f.lists {
		if l.Id == id {
			return i
		}
	}
	return -1
}

func (f *fakeTasksAPI) task(list, id string) int {
	for i, t := range f.tasks[list] {
		if t.Id == id {
			return i
		}
	}
	return -1
}

func (f *fakeTasksAPI) getLists(w http.ResponseWriter, _ *http.Request) {
	f.write(w, http.StatusOK, &tasks.TaskLists{Items: f.lists})
}

func (f *fakeTasksAPI) createList(w http.ResponseWriter, r *http.Request) {
	var tl tasks.TaskList
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&tl))
	tl.Id = f.id("list-")
	f.lists = append(f.lists, &tl)
	f.write(w, http.StatusOK, &tl)
}

func (f *fakeTasksAPI) getList(w http.ResponseWriter, r *http.Request) {
	i := f.list(r.PathValue("list"))
	if i < 0 {
		f.fail(w, http.StatusNotFound, "Task list not found.")
		return
	}
	f.write(w, http.StatusOK, f.lists[i])
}

func (f *fakeTasksAPI) patchList(w http.ResponseWriter, r *http.Request) {
	i := f.list(r.PathValue("list"))
	if i < 0 {
		f.fail(w, http.StatusNotFound, "Task list not found.")
		return
	}
	var tl tasks.TaskList
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&tl))
	f.lists[i].Title = tl.Title
	f.write(w, http.StatusOK, f.lists[i])
}

func (f *fakeTasksAPI) deleteList(w http.ResponseWriter, r *http.Request) {
	i := f.list(r.PathValue("list"))
	if i < 0 {
		f.fail(w, http.StatusNotFound, "Task list not found.")
		return
	}
	delete(f.tasks, f.lists[i].Id)
	f.lists = append(f.lists[:i], f.lists[i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

// listTasks pages with maxResults and an index page token.
func (f *fakeTasksAPI) listTasks(w http.ResponseWriter, r *http.Request) {
	list := r.PathValue("list")
	if f.list(list) < 0 {
		f.fail(w, http.StatusNotFound, "Task list not found.")
		return
	}
	all := f.tasks[list]
	size, _ := strconv.Atoi(r.URL.Query().Get("maxResults"))
	start, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))
	if size <= 0 {
		size = len(all)
	}
	end := min(start+size, len(all))
	page := &tasks.Tasks{Items: all[start:end]}
	if end < len(all) {
		page.NextPageToken = strconv.Itoa(end)
	}
	f.write(w, http.StatusOK, page)
}

func (f *fakeTasksAPI) insertTask(w http.ResponseWriter, r *http.Request) {
	list := r.PathValue("list")
	if f.list(list) < 0 {
		f.fail(w, http.StatusNotFound, "Task list not found.")
		return
	}
	var t tasks.Task
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&t))
	t.Id = f.id("task-")
	t.Parent = r.URL.Query().Get("parent")
	t.Updated = "2026-03-01T10:00:00.000Z"
	f.tasks[list] = append(f.tasks[list], &t)
	f.write(w, http.StatusOK, &t)
}

func (f *fakeTasksAPI) getTask(w http.ResponseWriter, r *http.Request) {
	list := r.PathValue("list")
	i := f.task(list, r.PathValue("task"))
	if i < 0 {
		f.fail(w, http.StatusNotFound, "Task not found.")
		return
	}
	f.write(w, http.StatusOK, f.tasks[list][i])
}

func (f *fakeTasksAPI) patchTask(w http.ResponseWriter, r *http.Request) {
	list := r.PathValue("list")
	i := f.task(list, r.PathValue("task"))
	if i < 0 {
		f.fail(w, http.StatusNotFound, "Task not found.")
		return
	}
	var patch tasks.Task
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&patch))
	cur := f.tasks[list][i]
	cur.Title, cur.Notes, cur.Status, cur.Due, cur.Completed = patch.Title, patch.Notes, patch.Status, patch.Due, patch.Completed
	cur.Updated = "2026-03-02T10:00:00.000Z"
	f.write(w, http.StatusOK, cur)
}

func (f *fakeTasksAPI) deleteTask(w http.ResponseWriter, r *http.Request) {
	list, id := r.PathValue("list"), r.PathValue("task")
	if f.task(list, id) < 0 {
		f.fail(w, http.StatusNotFound, "Task not found.")
		return
	}
	kept := f.tasks[list][:0]
	for _, t := range f.tasks[list] {
		if t.Id != id && t.Parent != id {
			kept = append(kept, t)
		}
	}
	f.tasks[list] = kept
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeTasksAPI) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func newTestBackend(t *testing.T, f *fakeTasksAPI, pageSize int64) *Backend {
	t.Helper()
	b, err := New(context.Background(), Config{
		HTTPClient: f.srv.Client(),
		Endpoint:   f.srv.URL + "/",
		PageSize:   pageSize,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNewRequiresHTTPClient(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestMetadata(t *testing.T) {
	b := newTestBackend(t, newFakeTasksAPI(t), 0)
	info := backend.InfoOf(b)
	assert.Equal(t, "google", info.ID)
	assert.Equal(t, "Google Tasks", info.Name)
	assert.NotEmpty(t, info.Description)
	assert.NotEmpty(t, info.Icon)
}

func TestListLifecycle(t *testing.T) {
	f := newFakeTasksAPI(t)
	b := newTestBackend(t, f, 0)
	ctx := context.Background()

	created, err := b.CreateList(ctx, &backend.List{Name: "Groceries"})
	require.NoError(t, err)
	assert.Equal(t, "google", created.Provider)
	assert.True(t, created.IsOwner)

	created.Name = "Food"
	renamed, err := b.UpdateList(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, "Food", renamed.Name)

	lists, err := b.ReadAllLists(ctx)
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, "Food", lists[0].Name)

	require.NoError(t, b.DeleteList(ctx, created.ID))
	_, err = b.ReadList(ctx, created.ID)
	assert.ErrorIs(t, err, backend.ErrNotFound)
	assert.ErrorContains(t, err, "Task list not found.")
	_, err = b.ReadTasksFromList(ctx, created.ID)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestSubTasksAreFoldedAcrossPages(t *testing.T) {
	f := newFakeTasksAPI(t)
	f.lists = []*tasks.TaskList{{Id: "l1", Title: "Trip"}, {Id: "l2", Title: "Empty"}}
	completed := "2026-02-01T08:00:00.000Z"
	f.tasks["l1"] = []*tasks.Task{
		{Id: "p", Title: "Pack", Status: "needsAction", Updated: "2026-01-01T00:00:00.000Z"},
		{Id: "c1", Title: "Socks", Parent: "p", Status: "completed", Completed: &completed},
		{Id: "o", Title: "Orphan", Parent: "gone"},
		{Id: "c2", Title: "Hat", Parent: "p"},
	}
	b := newTestBackend(t, f, 2)
	ctx := context.Background()

	got, err := b.ReadTasksFromList(ctx, "l1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Pack", got[0].Title)
	require.Len(t, got[0].SubTasks, 2)
	assert.Equal(t, "Socks", got[0].SubTasks[0].Title)
	assert.Equal(t, backend.StatusCompleted, got[0].SubTasks[0].Status)
	require.NotNil(t, got[0].SubTasks[0].CompletionDate)
	assert.Equal(t, time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC), *got[0].SubTasks[0].CompletionDate)
	assert.Equal(t, "Hat", got[0].SubTasks[1].Title)
	assert.Equal(t, "Orphan", got[1].Title, "children of unknown parents stay top level")
	assert.Equal(t, 2, f.count("GET /tasks/v1/lists/l1/tasks"), "two pages")

	var batches int
	require.NoError(t, b.StreamTasks(ctx, "", func([]backend.Task) error {
		batches++
		return nil
	}))
	assert.Equal(t, 1, batches, "empty lists yield nothing")

	task, err := b.ReadTask(ctx, "", "p")
	require.NoError(t, err)
	assert.Equal(t, "l1", task.Parent)
	assert.Len(t, task.SubTasks, 2)
}

func TestCreateTaskDropsUnsupportedFields(t *testing.T) {
	f := newFakeTasksAPI(t)
	f.lists = []*tasks.TaskList{{Id: "l1", Title: "Groceries"}}
	b := newTestBackend(t, f, 0)

	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	task := backend.NewTask("l1", "Milk")
	task.Notes = "oat"
	task.DueDate = &due
	task.Priority = backend.PriorityHigh
	task.Favorite = true
	task.Tags = []string{"dairy"}
	task.SubTasks = []backend.Task{{Title: "Check fridge"}, {Title: "Bring bag"}}

	created, err := b.CreateTask(context.Background(), &task)
	require.NoError(t, err)
	assert.Equal(t, "Milk", created.Title)
	assert.Equal(t, "oat", created.Notes)
	require.NotNil(t, created.DueDate)
	assert.True(t, due.Equal(*created.DueDate))
	assert.Equal(t, backend.PriorityNormal, created.Priority)
	assert.False(t, created.Favorite)
	assert.Empty(t, created.Tags)
	require.Len(t, created.SubTasks, 2)
	assert.Equal(t, "Check fridge", created.SubTasks[0].Title)

	for _, stored := range f.tasks["l1"][1:] {
		assert.Equal(t, created.ID, stored.Parent)
	}
}

func TestCreateTaskRejectsMissingOrUnknownParent(t *testing.T) {
	b := newTestBackend(t, newFakeTasksAPI(t), 0)

	_, err := b.CreateTask(context.Background(), &backend.Task{Title: "Orphan"})
	assert.ErrorIs(t, err, backend.ErrInvalidArgument)

	_, err = b.CreateTask(context.Background(), &backend.Task{Title: "Orphan", Parent: "nope"})
	assert.ErrorIs(t, err, backend.ErrInvalidArgument)
}

func TestUpdateTaskSynchronizesSubTasks(t *testing.T) {
	f := newFakeTasksAPI(t)
	f.lists = []*tasks.TaskList{{Id: "l1", Title: "Trip"}}
	f.tasks["l1"] = []*tasks.Task{
		{Id: "p", Title: "Pack", Status: "needsAction"},
		{Id: "c1", Title: "Socks", Parent: "p", Status: "needsAction"},
		{Id: "c2", Title: "Hat", Parent: "p", Status: "needsAction"},
	}
	b := newTestBackend(t, f, 0)
	ctx := context.Background()

	task, err := b.ReadTask(ctx, "l1", "p")
	require.NoError(t, err)
	task.SetStatus(backend.StatusCompleted, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC))
	task.SubTasks = []backend.Task{task.SubTasks[0], {Title: "Passport"}}

	updated, err := b.UpdateTask(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, backend.StatusCompleted, updated.Status)
	require.NotNil(t, updated.CompletionDate)
	require.Len(t, updated.SubTasks, 2)
	assert.Equal(t, "Socks", updated.SubTasks[0].Title)
	assert.Equal(t, "Passport", updated.SubTasks[1].Title)
	assert.Equal(t, 1, f.count("DELETE /tasks/v1/lists/l1/tasks/c2"))

	task.SetStatus(backend.StatusNotStarted, time.Now())
	reopened, err := b.UpdateTask(ctx, task)
	require.NoError(t, err)
	assert.Nil(t, reopened.CompletionDate)

	_, err = b.UpdateTask(ctx, &backend.Task{ID: "ghost", Parent: "l1", Title: "x"})
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestDeleteTaskRemovesSubTasks(t *testing.T) {
	f := newFakeTasksAPI(t)
	f.lists = []*tasks.TaskList{{Id: "l1", Title: "Trip"}}
	f.tasks["l1"] = []*tasks.Task{{Id: "p", Title: "Pack"}, {Id: "c1", Title: "Socks", Parent: "p"}}
	b := newTestBackend(t, f, 0)
	ctx := context.Background()

	require.NoError(t, b.DeleteTask(ctx, "", "p"))
	remaining, err := b.ReadTasksFromList(ctx, "l1")
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.ErrorIs(t, b.DeleteTask(ctx, "l1", "p"), backend.ErrNotFound)
}

func TestUnauthorizedIsAuthError(t *testing.T) {
	f := newFakeTasksAPI(t)
	f.deny = true
	b := newTestBackend(t, f, 0)

	_, err := b.ReadAllLists(context.Background())
	var authErr *backend.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "google", authErr.Provider)
	assert.ErrorIs(t, err, backend.ErrUnauthenticated)
}

func TestUnreachableIsUnavailable(t *testing.T) {
	b, err := New(context.Background(), Config{
		HTTPClient: &http.Client{Timeout: time.Second},
		Endpoint:   "http://127.0.0.1:1/",
	})
	require.NoError(t, err)
	_, err = b.ReadAllLists(context.Background())
	assert.ErrorIs(t, err, backend.ErrUnavailable)
}
