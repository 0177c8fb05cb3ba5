package sqlite

import (
	"database/sql"
	"sort"
	"strings"
	"time"

	"done/backend"
)

// naiveLayout is the zone-less timestamp layout used in the database.
// Values are written in UTC and read back as UTC, so the original zone of a
// timestamp is not retained.
const naiveLayout = "2006-01-02 15:04:05.999999999"

// taskRow is the flat storage shape of a task. Enums are stored as integers,
// the recurrence as a weekday bit mask; tags and sub-tasks live in their own tables.
type taskRow struct {
	ID             string
	Parent         string
	ParentTask     sql.NullString
	Position       int
	Title          string
	Notes          string
	Status         int
	Priority       int
	Favorite       bool
	IsReminderOn   bool
	DueDate        sql.NullString
	ReminderDate   sql.NullString
	CompletionDate sql.NullString
	DeletionDate   sql.NullString
	Recurrence     int
	Created        string
	Modified       string
}

// formatNaive converts a timestamp to its stored form.
func formatNaive(t time.Time) string {
	return t.UTC().Format(naiveLayout)
}

// parseNaive reinterprets a stored timestamp as UTC.
func parseNaive(s string) time.Time {
	t, err := time.ParseInLocation(naiveLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// timeToNullString converts a *time.Time to sql.NullString for database storage.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatNaive(*t), Valid: true}
}

// parseOptionalDate parses a nullable date string and returns a pointer to time.Time.
func parseOptionalDate(str sql.NullString) *time.Time {
	if str.Valid && str.String != "" {
		parsed := parseNaive(str.String)
		if !parsed.IsZero() {
			return &parsed
		}
	}
	return nil
}

// rowFromTask flattens a canonical task into its storage row.
func rowFromTask(t *backend.Task, parentTask string, position int) taskRow {
	row := taskRow{
		ID:             t.ID,
		Parent:         t.Parent,
		Position:       position,
		Title:          t.Title,
		Notes:          t.Notes,
		Status:         int(t.Status),
		Priority:       int(t.Priority),
		Favorite:       t.Favorite,
		IsReminderOn:   t.ReminderDate != nil,
		DueDate:        timeToNullString(t.DueDate),
		ReminderDate:   timeToNullString(t.ReminderDate),
		CompletionDate: timeToNullString(t.CompletionDate),
		DeletionDate:   timeToNullString(t.DeletionDate),
		Recurrence:     int(t.Recurrence & backend.EveryDay),
		Created:        formatNaive(t.CreatedDateTime),
		Modified:       formatNaive(t.LastModifiedDateTime),
	}
	if parentTask != "" {
		row.ParentTask = sql.NullString{String: parentTask, Valid: true}
	}
	return row
}

// toTask rebuilds the canonical task. It never fails: unknown enum values
// fall back to their defaults.
func (r taskRow) toTask() backend.Task {
	t := backend.Task{
		ID:                   r.ID,
		Parent:               r.Parent,
		Title:                r.Title,
		Notes:                r.Notes,
		Status:               backend.StatusNotStarted,
		Priority:             backend.PriorityNormal,
		Favorite:             r.Favorite,
		DueDate:              parseOptionalDate(r.DueDate),
		CompletionDate:       parseOptionalDate(r.CompletionDate),
		DeletionDate:         parseOptionalDate(r.DeletionDate),
		Recurrence:           backend.Recurrence(r.Recurrence) & backend.EveryDay,
		CreatedDateTime:      parseNaive(r.Created),
		LastModifiedDateTime: parseNaive(r.Modified),
	}
	if r.Status == int(backend.StatusCompleted) {
		t.Status = backend.StatusCompleted
	}
	switch backend.Priority(r.Priority) {
	case backend.PriorityLow, backend.PriorityHigh:
		t.Priority = backend.Priority(r.Priority)
	}
	t.SetReminder(parseOptionalDate(r.ReminderDate))
	return t
}

// normalizeTags trims, de-duplicates and sorts tags. Tags are a set.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if tag == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// sameContent reports whether two tasks would be stored identically,
// ignoring the modification timestamp.
func sameContent(a, b *backend.Task) bool {
	if a.ID != b.ID || a.Parent != b.Parent || a.Title != b.Title || a.Notes != b.Notes ||
		a.Status != b.Status || a.Priority != b.Priority || a.Favorite != b.Favorite ||
		a.Recurrence&backend.EveryDay != b.Recurrence&backend.EveryDay {
		return false
	}
	if !sameInstant(a.DueDate, b.DueDate) || !sameInstant(a.ReminderDate, b.ReminderDate) ||
		!sameInstant(a.CompletionDate, b.CompletionDate) || !sameInstant(a.DeletionDate, b.DeletionDate) {
		return false
	}
	at, bt := normalizeTags(a.Tags), normalizeTags(b.Tags)
	if len(at) != len(bt) {
		return false
	}
	for i := range at {
		if at[i] != bt[i] {
			return false
		}
	}
	if len(a.SubTasks) != len(b.SubTasks) {
		return false
	}
	for i := range a.SubTasks {
		if !sameContent(&a.SubTasks[i], &b.SubTasks[i]) {
			return false
		}
	}
	return true
}

// sameInstant compares optional timestamps at storage precision.
func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return formatNaive(*a) == formatNaive(*b)
}
