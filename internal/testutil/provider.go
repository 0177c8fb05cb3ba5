package testutil

import (
	"context"
	"slices"
	"sync"
	"time"

	"done/backend"
)

// MemoryProvider is an in-memory backend.Provider for tests. It follows the
// same rules as the real providers: tasks need an existing parent list,
// unknown ids are ErrNotFound and deleting a list deletes its tasks.
type MemoryProvider struct {
	id string

	mu     sync.Mutex
	lists  []backend.List
	tasks  map[string][]backend.Task // by list id
	err    error
	closed bool
	now    func() time.Time
}

var (
	_ backend.Provider     = (*MemoryProvider)(nil)
	_ backend.TaskStreamer = (*MemoryProvider)(nil)
)

// NewMemoryProvider creates an empty provider reporting id.
func NewMemoryProvider(id string) *MemoryProvider {
	return &MemoryProvider{
		id:    id,
		tasks: map[string][]backend.Task{},
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// FailWith makes every subsequent data operation return err. nil clears it.
func (m *MemoryProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Closed reports whether Close was called.
func (m *MemoryProvider) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MemoryProvider) ID() string          { return m.id }
func (m *MemoryProvider) Name() string        { return "Memory " + m.id }
func (m *MemoryProvider) Description() string { return "In-memory provider for tests" }
func (m *MemoryProvider) IconName() string    { return "drive-harddisk-symbolic" }

func (m *MemoryProvider) ReadAllTasks(ctx context.Context) ([]backend.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	all := []backend.Task{}
	for _, l := range m.lists {
		all = append(all, m.tasks[l.ID]...)
	}
	return all, nil
}

func (m *MemoryProvider) ReadTasksFromList(ctx context.Context, listID string) ([]backend.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.listIndex(listID) < 0 {
		return nil, backend.NotFoundf("list %s", listID)
	}
	return slices.Clone(m.tasks[listID]), nil
}

// StreamTasks yields one batch per list that has tasks.
func (m *MemoryProvider) StreamTasks(ctx context.Context, listID string, yield func([]backend.Task) error) error {
	var batches [][]backend.Task
	m.mu.Lock()
	switch {
	case m.err != nil:
		err := m.err
		m.mu.Unlock()
		return err
	case listID != "":
		if m.listIndex(listID) < 0 {
			m.mu.Unlock()
			return backend.NotFoundf("list %s", listID)
		}
		batches = append(batches, slices.Clone(m.tasks[listID]))
	default:
		for _, l := range m.lists {
			if len(m.tasks[l.ID]) > 0 {
				batches = append(batches, slices.Clone(m.tasks[l.ID]))
			}
		}
	}
	m.mu.Unlock()

	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := yield(b); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryProvider) ReadTask(ctx context.Context, listID, taskID string) (*backend.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	lid, i := m.findTask(listID, taskID)
	if i < 0 {
		return nil, backend.NotFoundf("task %s", taskID)
	}
	t := m.tasks[lid][i]
	return &t, nil
}

func (m *MemoryProvider) CreateTask(ctx context.Context, task *backend.Task) (*backend.Task, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if task.Parent == "" || m.listIndex(task.Parent) < 0 {
		return nil, backend.InvalidArgumentf("parent list %q does not exist", task.Parent)
	}
	t := *task
	if t.ID == "" {
		t.ID = backend.GenerateID()
	}
	if _, i := m.findTask("", t.ID); i >= 0 {
		return nil, backend.InvalidArgumentf("task %s already exists", t.ID)
	}
	t.Normalize(m.now())
	m.tasks[t.Parent] = append(m.tasks[t.Parent], t)
	return &t, nil
}

func (m *MemoryProvider) UpdateTask(ctx context.Context, task *backend.Task) (*backend.Task, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	lid, i := m.findTask(task.Parent, task.ID)
	if i < 0 {
		return nil, backend.NotFoundf("task %s", task.ID)
	}
	t := *task
	t.Parent = lid
	t.Normalize(m.now())
	t.Touch(m.now())
	m.tasks[lid][i] = t
	return &t, nil
}

func (m *MemoryProvider) DeleteTask(ctx context.Context, listID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	lid, i := m.findTask(listID, taskID)
	if i < 0 {
		return backend.NotFoundf("task %s", taskID)
	}
	m.tasks[lid] = slices.Delete(m.tasks[lid], i, i+1)
	return nil
}

func (m *MemoryProvider) ReadAllLists(ctx context.Context) ([]backend.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return slices.Clone(m.lists), nil
}

func (m *MemoryProvider) ReadList(ctx context.Context, listID string) (*backend.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	i := m.listIndex(listID)
	if i < 0 {
		return nil, backend.NotFoundf("list %s", listID)
	}
	l := m.lists[i]
	return &l, nil
}

func (m *MemoryProvider) CreateList(ctx context.Context, list *backend.List) (*backend.List, error) {
	if err := list.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	l := *list
	if l.ID == "" {
		l.ID = backend.GenerateID()
	}
	if m.listIndex(l.ID) >= 0 {
		return nil, backend.InvalidArgumentf("list %s already exists", l.ID)
	}
	l.Provider = m.id
	l.IsOwner = true
	m.lists = append(m.lists, l)
	return &l, nil
}

func (m *MemoryProvider) UpdateList(ctx context.Context, list *backend.List) (*backend.List, error) {
	if err := list.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	i := m.listIndex(list.ID)
	if i < 0 {
		return nil, backend.NotFoundf("list %s", list.ID)
	}
	l := *list
	l.Provider = m.id
	m.lists[i] = l
	return &l, nil
}

func (m *MemoryProvider) DeleteList(ctx context.Context, listID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	i := m.listIndex(listID)
	if i < 0 {
		return backend.NotFoundf("list %s", listID)
	}
	m.lists = slices.Delete(m.lists, i, i+1)
	delete(m.tasks, listID)
	return nil
}

func (m *MemoryProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryProvider) listIndex(id string) int {
	return slices.IndexFunc(m.lists, func(l backend.List) bool { return l.ID == id })
}

// findTask locates a task, searching every list when listID is empty.
func (m *MemoryProvider) findTask(listID, taskID string) (string, int) {
	for lid, tasks := range m.tasks {
		if listID != "" && lid != listID {
			continue
		}
		if i := slices.IndexFunc(tasks, func(t backend.Task) bool { return t.ID == taskID }); i >= 0 {
			return lid, i
		}
	}
	return "", -1
}
