package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"done/backend"
)

// ProviderID is the identifier of the on-device provider.
const ProviderID = "local"

// Backend implements backend.Provider using SQLite
type Backend struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new SQLite backend and initializes the database schema
func New(path string) (*Backend, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	b := &Backend{db: db, now: time.Now}
	if err := b.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return b, nil
}

// migrations move the database one schema version forward each; entry i
// produces version i+1.
var migrations = []string{
	`
		CREATE TABLE IF NOT EXISTS lists (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			is_owner INTEGER NOT NULL DEFAULT 1,
			icon TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL DEFAULT 'local'
		);

		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			parent TEXT NOT NULL,
			parent_task TEXT,
			position INTEGER NOT NULL DEFAULT 0,
			title TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			status INTEGER NOT NULL DEFAULT 0,
			priority INTEGER NOT NULL DEFAULT 0,
			favorite INTEGER NOT NULL DEFAULT 0,
			is_reminder_on INTEGER NOT NULL DEFAULT 0,
			due_date TEXT,
			reminder_date TEXT,
			completion_date TEXT,
			deletion_date TEXT,
			recurrence INTEGER NOT NULL DEFAULT 0,
			created_date_time TEXT NOT NULL,
			last_modified_date_time TEXT NOT NULL,
			FOREIGN KEY (parent) REFERENCES lists(id) ON DELETE CASCADE,
			FOREIGN KEY (parent_task) REFERENCES tasks(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS task_tags (
			task_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			PRIMARY KEY (task_id, tag),
			FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent);
		CREATE INDEX IF NOT EXISTS idx_tasks_parent_task ON tasks(parent_task);
	`,
}

// initSchema applies the migrations the database has not seen yet.
func (b *Backend) initSchema() error {
	if _, err := b.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	current, err := b.SchemaVersion()
	if err != nil {
		return err
	}
	for v := current; v < len(migrations); v++ {
		err := b.withTx(context.Background(), func(tx *sql.Tx) error {
			if _, err := tx.Exec(migrations[v]); err != nil {
				return err
			}
			_, err := tx.Exec("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)", v+1, formatNaive(b.now()))
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to migrate schema to version %d: %w", v+1, err)
		}
	}
	return nil
}

// SchemaVersion returns the latest schema version applied to the database.
func (b *Backend) SchemaVersion() (int, error) {
	var version int
	err := b.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// ID returns the provider identifier.
func (b *Backend) ID() string { return ProviderID }

// Name returns the display name.
func (b *Backend) Name() string { return "Local" }

// Description returns a one-line description.
func (b *Backend) Description() string { return "Tasks stored on this device" }

// IconName returns the themed icon name.
func (b *Backend) IconName() string { return "user-home-symbolic" }

// scanner is an interface satisfied by both *sql.Rows and *sql.Row
type scanner interface {
	Scan(dest ...any) error
}

const listColumns = `id, name, is_owner, icon`

func scanList(s scanner) (*backend.List, error) {
	var l backend.List
	if err := s.Scan(&l.ID, &l.Name, &l.IsOwner, &l.Icon); err != nil {
		return nil, err
	}
	l.Provider = ProviderID
	return &l, nil
}

// ReadAllLists returns every list stored on this device
func (b *Backend) ReadAllLists(ctx context.Context) ([]backend.List, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT "+listColumns+" FROM lists ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	lists := []backend.List{}
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		lists = append(lists, *l)
	}
	return lists, rows.Err()
}

// ReadList returns a specific list by ID
func (b *Backend) ReadList(ctx context.Context, listID string) (*backend.List, error) {
	l, err := scanList(b.db.QueryRowContext(ctx, "SELECT "+listColumns+" FROM lists WHERE id = ?", listID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backend.NotFoundf("list %q", listID)
	}
	return l, err
}

// CreateList creates a new task list. An ID is assigned when the list has none.
func (b *Backend) CreateList(ctx context.Context, list *backend.List) (*backend.List, error) {
	if err := list.Validate(); err != nil {
		return nil, err
	}
	created := *list
	if created.ID == "" {
		created.ID = backend.GenerateID()
	}
	created.IsOwner = true
	created.Provider = ProviderID

	_, err := b.db.ExecContext(ctx,
		"INSERT INTO lists (id, name, is_owner, icon, provider) VALUES (?, ?, 1, ?, ?)",
		created.ID, created.Name, created.Icon, ProviderID,
	)
	if err != nil {
		if exists, _ := b.listExists(ctx, created.ID); exists {
			return nil, backend.InvalidArgumentf("list %q already exists", created.ID)
		}
		return nil, err
	}
	return &created, nil
}

// UpdateList renames a list or changes its icon
func (b *Backend) UpdateList(ctx context.Context, list *backend.List) (*backend.List, error) {
	if err := list.Validate(); err != nil {
		return nil, err
	}
	res, err := b.db.ExecContext(ctx, "UPDATE lists SET name = ?, icon = ? WHERE id = ?", list.Name, list.Icon, list.ID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, backend.NotFoundf("list %q", list.ID)
	}
	return b.ReadList(ctx, list.ID)
}

// DeleteList permanently deletes a list and all its tasks
func (b *Backend) DeleteList(ctx context.Context, listID string) error {
	return b.withTx(ctx, func(tx *sql.Tx) error {
		// Tags and sub-tasks follow through their own cascades.
		if _, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE parent = ?", listID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM lists WHERE id = ?", listID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return backend.NotFoundf("list %q", listID)
		}
		return nil
	})
}

func (b *Backend) listExists(ctx context.Context, listID string) (bool, error) {
	var n int
	err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM lists WHERE id = ?", listID).Scan(&n)
	return n > 0, err
}

const taskColumns = `id, parent, parent_task, position, title, notes, status, priority, favorite, is_reminder_on,
	due_date, reminder_date, completion_date, deletion_date, recurrence, created_date_time, last_modified_date_time`

// scanTaskFrom scans a task row from any scanner (Rows or Row)
func scanTaskFrom(s scanner) (taskRow, error) {
	var r taskRow
	err := s.Scan(
		&r.ID, &r.Parent, &r.ParentTask, &r.Position, &r.Title, &r.Notes, &r.Status, &r.Priority,
		&r.Favorite, &r.IsReminderOn, &r.DueDate, &r.ReminderDate, &r.CompletionDate, &r.DeletionDate,
		&r.Recurrence, &r.Created, &r.Modified,
	)
	return r, err
}

// queryTasks runs a task query and hydrates tags and sub-tasks.
func (b *Backend) queryTasks(ctx context.Context, query string, args ...any) ([]backend.Task, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var scanned []taskRow
	for rows.Next() {
		r, err := scanTaskFrom(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		scanned = append(scanned, r)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	// Hydration issues further queries, so the cursor above must be closed
	// first: the pool holds a single connection.
	tasks := make([]backend.Task, 0, len(scanned))
	for _, r := range scanned {
		t, err := b.hydrate(ctx, r)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (b *Backend) hydrate(ctx context.Context, r taskRow) (backend.Task, error) {
	t := r.toTask()
	tags, err := b.readTags(ctx, t.ID)
	if err != nil {
		return t, err
	}
	t.Tags = tags
	subs, err := b.queryTasks(ctx, "SELECT "+taskColumns+" FROM tasks WHERE parent_task = ? ORDER BY position, rowid", t.ID)
	if err != nil {
		return t, err
	}
	if len(subs) > 0 {
		t.SubTasks = subs
	}
	return t, nil
}

func (b *Backend) readTags(ctx context.Context, taskID string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT tag FROM task_tags WHERE task_id = ? ORDER BY tag", taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// ReadAllTasks returns the top-level tasks of every list
func (b *Backend) ReadAllTasks(ctx context.Context) ([]backend.Task, error) {
	return b.queryTasks(ctx, "SELECT "+taskColumns+" FROM tasks WHERE parent_task IS NULL ORDER BY rowid")
}

// ReadTasksFromList returns the top-level tasks of one list
func (b *Backend) ReadTasksFromList(ctx context.Context, listID string) ([]backend.Task, error) {
	exists, err := b.listExists(ctx, listID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, backend.NotFoundf("list %q", listID)
	}
	return b.queryTasks(ctx, "SELECT "+taskColumns+" FROM tasks WHERE parent = ? AND parent_task IS NULL ORDER BY rowid", listID)
}

// StreamTasks yields one batch per list so large stores are never held in memory at once.
func (b *Backend) StreamTasks(ctx context.Context, listID string, yield func([]backend.Task) error) error {
	if listID != "" {
		tasks, err := b.ReadTasksFromList(ctx, listID)
		if err != nil {
			return err
		}
		return yield(tasks)
	}
	lists, err := b.ReadAllLists(ctx)
	if err != nil {
		return err
	}
	for _, l := range lists {
		if err := ctx.Err(); err != nil {
			return err
		}
		tasks, err := b.ReadTasksFromList(ctx, l.ID)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			continue
		}
		if err := yield(tasks); err != nil {
			return err
		}
	}
	return nil
}

// ReadTask returns a specific task. listID may be empty.
func (b *Backend) ReadTask(ctx context.Context, listID, taskID string) (*backend.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks WHERE id = ?"
	args := []any{taskID}
	if listID != "" {
		query += " AND parent = ?"
		args = append(args, listID)
	}
	r, err := scanTaskFrom(b.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backend.NotFoundf("task %q", taskID)
	}
	if err != nil {
		return nil, err
	}
	t, err := b.hydrate(ctx, r)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTask adds a new task to the list named by task.Parent
func (b *Backend) CreateTask(ctx context.Context, task *backend.Task) (*backend.Task, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if task.Parent == "" {
		return nil, backend.InvalidArgumentf("task %q has no parent list", task.Title)
	}
	exists, err := b.listExists(ctx, task.Parent)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, backend.InvalidArgumentf("parent list %q does not exist", task.Parent)
	}

	now := b.now().UTC()
	created := cloneTask(task)
	if created.ID == "" {
		created.ID = backend.GenerateID()
	}
	created.Normalize(now)
	created.LastModifiedDateTime = now
	prepareSubTasks(&created, now)

	err = b.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks WHERE id = ?", created.ID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return backend.InvalidArgumentf("task %q already exists", created.ID)
		}
		return insertTask(ctx, tx, &created, "", 0)
	})
	if err != nil {
		return nil, err
	}
	return b.ReadTask(ctx, created.Parent, created.ID)
}

// UpdateTask replaces the stored task. Writing identical content is a no-op
// and leaves LastModifiedDateTime untouched.
func (b *Backend) UpdateTask(ctx context.Context, task *backend.Task) (*backend.Task, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	existing, err := b.ReadTask(ctx, "", task.ID)
	if err != nil {
		return nil, err
	}

	now := b.now().UTC()
	updated := cloneTask(task)
	if updated.Parent == "" {
		updated.Parent = existing.Parent
	}
	if updated.Parent != existing.Parent {
		exists, err := b.listExists(ctx, updated.Parent)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, backend.InvalidArgumentf("parent list %q does not exist", updated.Parent)
		}
	}
	updated.Tags = normalizeTags(updated.Tags)
	updated.CreatedDateTime = existing.CreatedDateTime
	updated.Normalize(now)
	prepareSubTasks(&updated, now)

	if sameContent(existing, &updated) {
		return existing, nil
	}
	updated.LastModifiedDateTime = now

	err = b.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE parent_task = ?", updated.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM task_tags WHERE task_id = ?", updated.ID); err != nil {
			return err
		}
		r := rowFromTask(&updated, "", 0)
		_, err := tx.ExecContext(ctx,
			`UPDATE tasks SET parent = ?, title = ?, notes = ?, status = ?, priority = ?, favorite = ?, is_reminder_on = ?,
			 due_date = ?, reminder_date = ?, completion_date = ?, deletion_date = ?, recurrence = ?, last_modified_date_time = ?
			 WHERE id = ?`,
			r.Parent, r.Title, r.Notes, r.Status, r.Priority, r.Favorite, r.IsReminderOn,
			r.DueDate, r.ReminderDate, r.CompletionDate, r.DeletionDate, r.Recurrence, r.Modified,
			r.ID,
		)
		if err != nil {
			return err
		}
		if err := insertTags(ctx, tx, updated.ID, updated.Tags); err != nil {
			return err
		}
		for i := range updated.SubTasks {
			if err := insertTask(ctx, tx, &updated.SubTasks[i], updated.ID, i); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b.ReadTask(ctx, updated.Parent, updated.ID)
}

// DeleteTask removes a task and its sub-tasks
func (b *Backend) DeleteTask(ctx context.Context, listID, taskID string) error {
	query := "DELETE FROM tasks WHERE id = ?"
	args := []any{taskID}
	if listID != "" {
		query += " AND parent = ?"
		args = append(args, listID)
	}
	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return backend.NotFoundf("task %q", taskID)
	}
	return nil
}

// Close closes the database connection
func (b *Backend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *Backend) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertTask(ctx context.Context, tx *sql.Tx, t *backend.Task, parentTask string, position int) error {
	r := rowFromTask(t, parentTask, position)
	_, err := tx.ExecContext(ctx,
		"INSERT INTO tasks ("+taskColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.ID, r.Parent, r.ParentTask, r.Position, r.Title, r.Notes, r.Status, r.Priority, r.Favorite, r.IsReminderOn,
		r.DueDate, r.ReminderDate, r.CompletionDate, r.DeletionDate, r.Recurrence, r.Created, r.Modified,
	)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	if err := insertTags(ctx, tx, t.ID, t.Tags); err != nil {
		return err
	}
	for i := range t.SubTasks {
		if err := insertTask(ctx, tx, &t.SubTasks[i], t.ID, i); err != nil {
			return err
		}
	}
	return nil
}

func insertTags(ctx context.Context, tx *sql.Tx, taskID string, tags []string) error {
	for _, tag := range normalizeTags(tags) {
		if _, err := tx.ExecContext(ctx, "INSERT INTO task_tags (task_id, tag) VALUES (?, ?)", taskID, tag); err != nil {
			return err
		}
	}
	return nil
}

// prepareSubTasks gives sub-tasks an ID, the parent's list and default timestamps.
func prepareSubTasks(t *backend.Task, now time.Time) {
	t.Tags = normalizeTags(t.Tags)
	for i := range t.SubTasks {
		sub := &t.SubTasks[i]
		if sub.ID == "" {
			sub.ID = backend.GenerateID()
		}
		sub.Parent = t.Parent
		sub.Normalize(now)
		prepareSubTasks(sub, now)
	}
}

// cloneTask copies a task deeply enough that normalization never mutates the caller's value.
func cloneTask(t *backend.Task) backend.Task {
	c := *t
	c.Tags = append([]string(nil), t.Tags...)
	if t.SubTasks != nil {
		c.SubTasks = make([]backend.Task, len(t.SubTasks))
		for i := range t.SubTasks {
			c.SubTasks[i] = cloneTask(&t.SubTasks[i])
		}
	}
	return c
}

// Verify interface compliance at compile time
var (
	_ backend.Provider     = (*Backend)(nil)
	_ backend.TaskStreamer = (*Backend)(nil)
)
