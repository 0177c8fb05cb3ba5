package mstodo

import (
	"encoding/json"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"done/backend"
)

// =============================================================================
// Microsoft Graph API Types
// =============================================================================

type graphList struct {
	ID                string `json:"id,omitempty"`
	DisplayName       string `json:"displayName"`
	IsOwner           bool   `json:"isOwner,omitempty"`
	IsShared          bool   `json:"isShared,omitempty"`
	WellknownListName string `json:"wellknownListName,omitempty"`
}

type graphTask struct {
	ID                   string               `json:"id,omitempty"`
	Title                string               `json:"title"`
	Body                 *itemBody            `json:"body,omitempty"`
	Status               string               `json:"status"`     // notStarted, inProgress, completed, waitingOnOthers, deferred
	Importance           string               `json:"importance"` // low, normal, high
	IsReminderOn         bool                 `json:"isReminderOn"`
	ReminderDateTime     *dateTimeTimeZone    `json:"reminderDateTime"`
	DueDateTime          *dateTimeTimeZone    `json:"dueDateTime"`
	CompletedDateTime    *dateTimeTimeZone    `json:"completedDateTime"`
	Recurrence           *patternedRecurrence `json:"recurrence,omitempty"`
	Categories           []string             `json:"categories"`
	CreatedDateTime      string               `json:"createdDateTime,omitempty"`
	LastModifiedDateTime string               `json:"lastModifiedDateTime,omitempty"`
	ChecklistItems       []checklistItem      `json:"checklistItems,omitempty"`
}

type itemBody struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"` // text or html
}

type dateTimeTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type patternedRecurrence struct {
	Pattern recurrencePattern `json:"pattern"`
	Range   recurrenceRange   `json:"range"`
}

type recurrencePattern struct {
	Type           string   `json:"type"`
	Interval       int      `json:"interval"`
	DaysOfWeek     []string `json:"daysOfWeek"`
	FirstDayOfWeek string   `json:"firstDayOfWeek,omitempty"`
}

type recurrenceRange struct {
	Type      string `json:"type"`
	StartDate string `json:"startDate"`
}

type checklistItem struct {
	ID              string `json:"id,omitempty"`
	DisplayName     string `json:"displayName"`
	IsChecked       bool   `json:"isChecked"`
	CreatedDateTime string `json:"createdDateTime,omitempty"`
	CheckedDateTime string `json:"checkedDateTime,omitempty"`
}

// graphTimeLayout is the zone-less layout of dateTimeTimeZone values.
const graphTimeLayout = "2006-01-02T15:04:05.0000000"

var htmlConverter = md.NewConverter("", true, nil)

// =============================================================================
// Graph -> canonical
// =============================================================================

func listFromGraph(l graphList) backend.List {
	return backend.List{
		ID:       l.ID,
		Name:     l.DisplayName,
		IsOwner:  l.IsOwner,
		Provider: ProviderID,
	}
}

// taskFromGraph converts a Graph task. It never fails: unparsable optional
// fields are dropped.
func taskFromGraph(listID string, g graphTask) backend.Task {
	t := backend.Task{
		ID:                   g.ID,
		Parent:               listID,
		Title:                g.Title,
		Notes:                bodyText(g.Body),
		Status:               statusFromGraph(g.Status),
		Priority:             priorityFromGraph(g.Importance),
		DueDate:              parseDateTime(g.DueDateTime),
		CompletionDate:       parseDateTime(g.CompletedDateTime),
		Recurrence:           recurrenceFromGraph(g.Recurrence),
		Tags:                 g.Categories,
		CreatedDateTime:      parseTimestamp(g.CreatedDateTime),
		LastModifiedDateTime: parseTimestamp(g.LastModifiedDateTime),
	}
	if g.IsReminderOn {
		t.SetReminder(parseDateTime(g.ReminderDateTime))
	}
	for _, item := range g.ChecklistItems {
		t.SubTasks = append(t.SubTasks, subTaskFromGraph(listID, item))
	}
	ref := t.LastModifiedDateTime
	if ref.IsZero() {
		ref = time.Now()
	}
	t.Normalize(ref)
	return t
}

func subTaskFromGraph(listID string, c checklistItem) backend.Task {
	sub := backend.Task{
		ID:              c.ID,
		Parent:          listID,
		Title:           c.DisplayName,
		CreatedDateTime: parseTimestamp(c.CreatedDateTime),
	}
	sub.LastModifiedDateTime = sub.CreatedDateTime
	if c.IsChecked {
		sub.Status = backend.StatusCompleted
		if checked := parseTimestamp(c.CheckedDateTime); !checked.IsZero() {
			sub.CompletionDate = &checked
			sub.LastModifiedDateTime = checked
		}
	}
	return sub
}

// bodyText returns the body as plain text. HTML bodies are converted to
// Markdown.
func bodyText(b *itemBody) string {
	if b == nil {
		return ""
	}
	if !strings.EqualFold(b.ContentType, "html") {
		return b.Content
	}
	text, err := htmlConverter.ConvertString(b.Content)
	if err != nil {
		return b.Content
	}
	return strings.TrimSpace(text)
}

func statusFromGraph(status string) backend.Status {
	if status == "completed" {
		return backend.StatusCompleted
	}
	return backend.StatusNotStarted
}

func priorityFromGraph(importance string) backend.Priority {
	switch importance {
	case "high":
		return backend.PriorityHigh
	case "low":
		return backend.PriorityLow
	default:
		return backend.PriorityNormal
	}
}

// recurrenceFromGraph reads daily and weekly patterns repeating every period.
// Anything else (monthly, yearly, every other week) has no canonical form
// and reads as no recurrence.
func recurrenceFromGraph(r *patternedRecurrence) backend.Recurrence {
	var rec backend.Recurrence
	if r == nil || r.Pattern.Interval > 1 {
		return rec
	}
	switch r.Pattern.Type {
	case "daily":
		return backend.EveryDay
	case "", "weekly":
	default:
		return rec
	}
	for _, day := range r.Pattern.DaysOfWeek {
		if wd, err := backend.ParseWeekday(day); err == nil {
			rec = rec.With(wd)
		}
	}
	return rec
}

// parseDateTime parses a dateTimeTimeZone. Unknown zones are read as UTC.
func parseDateTime(dt *dateTimeTimeZone) *time.Time {
	if dt == nil || dt.DateTime == "" {
		return nil
	}
	loc := time.UTC
	if dt.TimeZone != "" && !strings.EqualFold(dt.TimeZone, "UTC") {
		if l, err := time.LoadLocation(dt.TimeZone); err == nil {
			loc = l
		}
	}

	// Try various formats
	formats := []string{
		graphTimeLayout,
		"2006-01-02T15:04:05",
		time.RFC3339Nano,
	}
	for _, format := range formats {
		if t, err := time.ParseInLocation(format, dt.DateTime, loc); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// parseTimestamp parses a Graph RFC 3339 timestamp; the zero time on failure.
func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// =============================================================================
// canonical -> Graph
// =============================================================================

func listToGraph(l *backend.List) graphList {
	return graphList{DisplayName: l.Name}
}

// taskToGraph converts a task for create and update requests. Checklist items
// are synchronized separately. Favorite has no Graph equivalent.
func taskToGraph(t *backend.Task) graphTask {
	g := graphTask{
		Title:        t.Title,
		Body:         &itemBody{Content: t.Notes, ContentType: "text"},
		Status:       statusToGraph(t.Status),
		Importance:   priorityToGraph(t.Priority),
		IsReminderOn: t.ReminderDate != nil,
		DueDateTime:  formatDateTime(t.DueDate),
		Categories:   t.Tags,
		Recurrence:   recurrenceToGraph(t.Recurrence, t.DueDate),
	}
	if g.Categories == nil {
		g.Categories = []string{}
	}
	if t.ReminderDate != nil {
		g.ReminderDateTime = formatDateTime(t.ReminderDate)
	}
	if t.Status == backend.StatusCompleted && t.CompletionDate != nil {
		g.CompletedDateTime = formatDateTime(t.CompletionDate)
	}
	return g
}

func subTaskToGraph(t *backend.Task) checklistItem {
	return checklistItem{
		DisplayName: t.Title,
		IsChecked:   t.Status == backend.StatusCompleted,
	}
}

func statusToGraph(s backend.Status) string {
	if s == backend.StatusCompleted {
		return "completed"
	}
	return "notStarted"
}

func priorityToGraph(p backend.Priority) string {
	switch p {
	case backend.PriorityHigh:
		return "high"
	case backend.PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// recurrenceToGraph returns a daily or weekly pattern, or nil for no
// recurrence. Graph requires a start date; the due date is used when present.
func recurrenceToGraph(r backend.Recurrence, due *time.Time) *patternedRecurrence {
	if r.IsZero() {
		return nil
	}
	start := time.Now().UTC()
	if due != nil {
		start = due.UTC()
	}
	rng := recurrenceRange{Type: "noEnd", StartDate: start.Format(time.DateOnly)}
	if r == backend.EveryDay {
		return &patternedRecurrence{Pattern: recurrencePattern{Type: "daily", Interval: 1}, Range: rng}
	}
	days := []string{}
	for _, d := range r.Days() {
		days = append(days, strings.ToLower(d.String()))
	}
	return &patternedRecurrence{
		Pattern: recurrencePattern{Type: "weekly", Interval: 1, DaysOfWeek: days, FirstDayOfWeek: "sunday"},
		Range:   rng,
	}
}

// taskPatch is the body of a task update. Its recurrence shadows the
// embedded one: left out when unchanged, null when cleared.
type taskPatch struct {
	graphTask
	Recurrence json.RawMessage `json:"recurrence,omitempty"`
}

// taskPatchToGraph converts t for a PATCH of current. The recurrence is only
// sent when the canonical value differs from what current reads as, so a
// pattern without canonical form survives unrelated edits.
func taskPatchToGraph(t *backend.Task, current *graphTask) taskPatch {
	p := taskPatch{graphTask: taskToGraph(t)}
	p.graphTask.Recurrence = nil
	var have backend.Recurrence
	if current != nil {
		have = recurrenceFromGraph(current.Recurrence)
	}
	if t.Recurrence == have {
		return p
	}
	if t.Recurrence.IsZero() {
		p.Recurrence = json.RawMessage("null")
		return p
	}
	// A plain struct of strings and ints always marshals.
	p.Recurrence, _ = json.Marshal(recurrenceToGraph(t.Recurrence, t.DueDate))
	return p
}

func formatDateTime(t *time.Time) *dateTimeTimeZone {
	if t == nil {
		return nil
	}
	return &dateTimeTimeZone{DateTime: t.UTC().Format(graphTimeLayout), TimeZone: "UTC"}
}
