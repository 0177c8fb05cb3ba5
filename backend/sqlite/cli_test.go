package sqlite_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"done/backend"
	"done/backend/sqlite"
	"done/internal/notification"
	"done/internal/testutil"
)

// newLocalCLI serves a fresh sqlite store as the local provider.
func newLocalCLI(t *testing.T) *testutil.CLITest {
	t.Helper()
	b, err := sqlite.New(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("sqlite.New error: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return testutil.NewCLITest(t, b)
}

func createList(t *testing.T, cli *testutil.CLITest, name string) backend.List {
	t.Helper()
	out := cli.MustExecute("--json", "list", "create", "local", name)
	var resp struct {
		List   backend.List `json:"list"`
		Result string       `json:"result"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if resp.Result != testutil.ResultActionCompleted {
		t.Errorf("result = %q", resp.Result)
	}
	return resp.List
}

func addTask(t *testing.T, cli *testutil.CLITest, listID, title string, flags ...string) backend.Task {
	t.Helper()
	args := append([]string{"--json", "task", "add", "local", listID, title}, flags...)
	out := cli.MustExecute(args...)
	var resp struct {
		Task backend.Task `json:"task"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	return resp.Task
}

// =============================================================================
// List Command Tests
// =============================================================================

func TestListsEmptySQLiteCLI(t *testing.T) {
	cli := newLocalCLI(t)

	out := cli.MustExecute("-y", "lists", "local")
	testutil.AssertContains(t, out, "No lists found")
	testutil.AssertResultCode(t, out, testutil.ResultInfoOnly)
}

func TestListLifecycleSQLiteCLI(t *testing.T) {
	cli := newLocalCLI(t)

	groceries := createList(t, cli, "Groceries")
	if groceries.ID == "" || !groceries.IsOwner || groceries.Provider != "local" {
		t.Errorf("created list = %+v", groceries)
	}

	out := cli.MustExecute("-y", "lists", "local")
	testutil.AssertContains(t, out, "Available lists (1)")
	testutil.AssertContains(t, out, "Groceries")

	out = cli.MustExecute("-y", "list", "rename", "local", groceries.ID, "Shopping")
	testutil.AssertContains(t, out, "Renamed list: Shopping")
	testutil.AssertResultCode(t, out, testutil.ResultActionCompleted)

	out = cli.MustExecute("-y", "list", "delete", "local", groceries.ID)
	testutil.AssertContains(t, out, "Deleted list: Shopping")

	_, stderr := cli.ExecuteAndFail("-y", "list", "delete", "local", groceries.ID)
	testutil.AssertContains(t, stderr, "not found")
	testutil.AssertContains(t, stderr, "Suggestion:")
}

func TestListsJSONSQLiteCLI(t *testing.T) {
	cli := newLocalCLI(t)
	createList(t, cli, "Work")

	out := cli.MustExecute("--json", "lists", "local")
	var lists []backend.List
	if err := json.Unmarshal([]byte(out), &lists); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if len(lists) != 1 || lists[0].Name != "Work" {
		t.Errorf("lists = %+v", lists)
	}
}

// =============================================================================
// Task Command Tests
// =============================================================================

func TestTaskWorkflowSQLiteCLI(t *testing.T) {
	cli := newLocalCLI(t)
	list := createList(t, cli, "Groceries")

	milk := addTask(t, cli, list.ID, "Milk", "--priority", "high", "--tag", "dairy", "--favorite")
	if milk.ID == "" || milk.Parent != list.ID {
		t.Fatalf("created task = %+v", milk)
	}
	if milk.Priority != backend.PriorityHigh || !milk.Favorite || !milk.HasTag("dairy") {
		t.Errorf("flags not applied: %+v", milk)
	}
	bread := addTask(t, cli, list.ID, "Bread")

	out := cli.MustExecute("-y", "tasks", "local", list.ID)
	testutil.AssertContains(t, out, "[TODO] Milk (!, ★) {dairy}")
	testutil.AssertContains(t, out, "[TODO] Bread")
	testutil.AssertResultCode(t, out, testutil.ResultInfoOnly)

	out = cli.MustExecute("-y", "task", "complete", "local", milk.ID)
	testutil.AssertContains(t, out, "Completed task: Milk")

	out = cli.MustExecute("-y", "tasks", "local", list.ID)
	testutil.AssertNotContains(t, out, "Milk")
	out = cli.MustExecute("-y", "tasks", "local", list.ID, "--all")
	testutil.AssertContains(t, out, "[DONE] Milk")

	out = cli.MustExecute("-y", "task", "reopen", "local", milk.ID, "--list", list.ID)
	testutil.AssertContains(t, out, "Reopened task: Milk")

	out = cli.MustExecute("-y", "task", "delete", "local", bread.ID)
	testutil.AssertContains(t, out, "Deleted task: Bread")

	out = cli.MustExecute("--json", "tasks", "local", list.ID, "--all")
	var resp struct {
		Tasks []backend.Task `json:"tasks"`
		Count int            `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if resp.Count != 1 || resp.Tasks[0].ID != milk.ID || resp.Tasks[0].Status != backend.StatusNotStarted {
		t.Errorf("tasks = %+v", resp.Tasks)
	}
}

func TestTaskAddWithSubTasksSQLiteCLI(t *testing.T) {
	cli := newLocalCLI(t)
	list := createList(t, cli, "Trip")

	trip := addTask(t, cli, list.ID, "Pack", "--sub", "Passport", "--sub", "Charger", "--repeat", "mon,thu")
	if len(trip.SubTasks) != 2 {
		t.Fatalf("sub-tasks = %+v", trip.SubTasks)
	}

	out := cli.MustExecute("-y", "tasks", "local")
	testutil.AssertContains(t, out, "[TODO] Pack (every Mon,Thu)")
	testutil.AssertContains(t, out, "├─ [TODO] Passport")
	testutil.AssertContains(t, out, "└─ [TODO] Charger")
}

func TestTaskAddDueAndReminderSQLiteCLI(t *testing.T) {
	cli := newLocalCLI(t)
	list := createList(t, cli, "Bills")

	task := addTask(t, cli, list.ID, "Rent", "--due", "2030-05-01", "--remind", "2030-04-30 09:00")
	if task.DueDate == nil || task.ReminderDate == nil || !task.IsReminderOn {
		t.Fatalf("dates not applied: %+v", task)
	}

	out := cli.MustExecute("-y", "tasks", "local", list.ID)
	testutil.AssertContains(t, out, "due 2030-05-01")

	_, stderr := cli.ExecuteAndFail("-y", "task", "add", "local", list.ID, "Late", "--due", "2030-05-01", "--remind", "2030-05-02")
	if stderr == "" {
		t.Error("reminder after the due date should be rejected")
	}
}

func TestTaskErrorsSQLiteCLI(t *testing.T) {
	cli := newLocalCLI(t)
	list := createList(t, cli, "Inbox")

	_, stderr := cli.ExecuteAndFail("-y", "task", "complete", "local", "missing-task")
	testutil.AssertContains(t, stderr, "task missing-task")

	_, stderr = cli.ExecuteAndFail("-y", "task", "add", "local", list.ID, "Bad", "--priority", "urgent")
	testutil.AssertContains(t, stderr, "Valid options: low, normal, high")

	_, stderr = cli.ExecuteAndFail("-y", "task", "add", "local", "no-such-list", "Orphan")
	if !strings.Contains(stderr, "no-such-list") && !strings.Contains(stderr, "invalid") {
		t.Errorf("stderr = %q", stderr)
	}

	stdout, _ := cli.ExecuteAndFail("--json", "task", "delete", "local", "missing-task")
	testutil.AssertContains(t, stdout, `"result":"ERROR"`)
}

// =============================================================================
// Reminder Command Tests
// =============================================================================

type recordingNotifier struct {
	sent []notification.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notification.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

func TestRemindersCommand(t *testing.T) {
	cli := newLocalCLI(t)
	list := createList(t, cli, "Home")
	addTask(t, cli, list.ID, "Call mom", "--remind", "yesterday")
	addTask(t, cli, list.ID, "Dentist", "--remind", "+30d")
	addTask(t, cli, list.ID, "Milk")

	out := cli.MustExecute("-y", "reminders", "local")
	testutil.AssertContains(t, out, "Call mom")
	testutil.AssertContains(t, out, "Overdue since")
	testutil.AssertNotContains(t, out, "Dentist")
	testutil.AssertNotContains(t, out, "Milk")
	testutil.AssertResultCode(t, out, testutil.ResultInfoOnly)

	out = cli.MustExecute("--json", "reminders", "local", list.ID, "--within", "1000h")
	var resp struct {
		Reminders []struct {
			Title   string `json:"title"`
			Overdue bool   `json:"overdue"`
		} `json:"reminders"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if resp.Count != 2 || resp.Reminders[0].Title != "Call mom" || !resp.Reminders[0].Overdue {
		t.Errorf("reminders = %+v", resp)
	}
}

func TestRemindersNotify(t *testing.T) {
	cli := newLocalCLI(t)
	rec := &recordingNotifier{}
	cli.Config().Notifier = rec
	list := createList(t, cli, "Home")
	addTask(t, cli, list.ID, "Call mom", "--remind", "yesterday")

	cli.MustExecute("reminders", "local", "--notify")
	if len(rec.sent) != 1 || rec.sent[0].Title != "Call mom" {
		t.Errorf("sent = %+v", rec.sent)
	}
}

func TestRemindersNoneDue(t *testing.T) {
	cli := newLocalCLI(t)
	createList(t, cli, "Home")

	out := cli.MustExecute("reminders", "local")
	testutil.AssertContains(t, out, "No reminders due")
}
