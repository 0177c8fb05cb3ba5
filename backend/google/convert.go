package google

import (
	"time"

	tasks "google.golang.org/api/tasks/v1"

	"done/backend"
)

const (
	statusNeedsAction = "needsAction"
	statusCompleted   = "completed"
)

func listFromGoogle(tl *tasks.TaskList) backend.List {
	return backend.List{
		ID:       tl.Id,
		Name:     tl.Title,
		IsOwner:  true,
		Provider: ProviderID,
	}
}

// taskFromGoogle converts a Google task. Priority, tags, recurrence,
// reminder and favorite have no Google equivalent and keep their zero values.
// Google only records the last update, which also stands in for creation.
func taskFromGoogle(listID string, g *tasks.Task) backend.Task {
	updated := parseTime(g.Updated)
	t := backend.Task{
		ID:                   g.Id,
		Parent:               listID,
		Title:                g.Title,
		Notes:                g.Notes,
		DueDate:              parseOptionalTime(g.Due),
		CreatedDateTime:      updated,
		LastModifiedDateTime: updated,
	}
	if g.Status == statusCompleted {
		t.Status = backend.StatusCompleted
		if g.Completed != nil {
			t.CompletionDate = parseOptionalTime(*g.Completed)
		}
	}
	ref := updated
	if ref.IsZero() {
		ref = time.Now()
	}
	t.Normalize(ref)
	return t
}

// foldSubTasks nests tasks that name a parent under that parent. Children
// whose parent is not in the set stay top level. Order is preserved.
func foldSubTasks(listID string, items []*tasks.Task) []backend.Task {
	children := map[string][]backend.Task{}
	present := map[string]bool{}
	for _, item := range items {
		present[item.Id] = true
	}
	var top []*tasks.Task
	for _, item := range items {
		if item.Parent != "" && present[item.Parent] {
			children[item.Parent] = append(children[item.Parent], taskFromGoogle(listID, item))
			continue
		}
		top = append(top, item)
	}

	out := make([]backend.Task, 0, len(top))
	for _, item := range top {
		t := taskFromGoogle(listID, item)
		t.SubTasks = children[item.Id]
		out = append(out, t)
	}
	return out
}

func taskToGoogle(t *backend.Task) *tasks.Task {
	g := &tasks.Task{
		Title:  t.Title,
		Notes:  t.Notes,
		Status: statusNeedsAction,
		// An empty note must still be sent for an update to clear it.
		ForceSendFields: []string{"Notes"},
	}
	if t.DueDate != nil {
		g.Due = t.DueDate.UTC().Format(time.RFC3339)
	} else {
		g.NullFields = append(g.NullFields, "Due")
	}
	if t.Status == backend.StatusCompleted {
		g.Status = statusCompleted
		if t.CompletionDate != nil {
			completed := t.CompletionDate.UTC().Format(time.RFC3339)
			g.Completed = &completed
		}
	} else {
		g.NullFields = append(g.NullFields, "Completed")
	}
	return g
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseOptionalTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}
