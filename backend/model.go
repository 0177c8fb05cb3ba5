package backend

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the completion state of a task. Providers with richer
// state machines (in progress, deferred, waiting) collapse into these two.
type Status int

const (
	StatusNotStarted Status = iota
	StatusCompleted
)

// String returns the canonical name of the status.
func (s Status) String() string {
	if s == StatusCompleted {
		return "Completed"
	}
	return "NotStarted"
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus parses a status name. Provider-specific names are accepted and
// collapsed to the two-state enum.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "done", "complete":
		return StatusCompleted, nil
	case "", "notstarted", "not_started", "needsaction", "needs-action", "inprogress", "in-progress",
		"started", "deferred", "waitingonothers":
		return StatusNotStarted, nil
	default:
		return StatusNotStarted, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, s)
	}
}

// Priority represents task importance. The zero value is PriorityNormal.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityLow
	PriorityHigh
)

// String returns the canonical name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityHigh:
		return "High"
	default:
		return "Normal"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePriority parses a priority name.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal", "medium":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "high", "important":
		return PriorityHigh, nil
	default:
		return PriorityNormal, fmt.Errorf("%w: unknown priority %q", ErrInvalidArgument, s)
	}
}

// Task represents a single to-do item
type Task struct {
	ID                   string     `json:"id"`
	Parent               string     `json:"parent"` // ID of the owning list
	Title                string     `json:"title"`
	Notes                string     `json:"notes,omitempty"`
	Status               Status     `json:"status"`
	Priority             Priority   `json:"priority"`
	Favorite             bool       `json:"favorite"`
	IsReminderOn         bool       `json:"is_reminder_on"`
	DueDate              *time.Time `json:"due_date,omitempty"`
	ReminderDate         *time.Time `json:"reminder_date,omitempty"`
	CompletionDate       *time.Time `json:"completion_date,omitempty"`
	DeletionDate         *time.Time `json:"deletion_date,omitempty"`
	Recurrence           Recurrence `json:"recurrence"`
	SubTasks             []Task     `json:"sub_tasks,omitempty"`
	Tags                 []string   `json:"tags,omitempty"`
	CreatedDateTime      time.Time  `json:"created_date_time"`
	LastModifiedDateTime time.Time  `json:"last_modified_date_time"`
}

// NewTask returns a not-started task in the given list with fresh timestamps.
func NewTask(listID, title string) Task {
	now := time.Now().UTC()
	return Task{
		ID:                   GenerateID(),
		Parent:               listID,
		Title:                title,
		CreatedDateTime:      now,
		LastModifiedDateTime: now,
	}
}

// Validate checks the fields every provider requires.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: task title must not be empty", ErrInvalidArgument)
	}
	for i := range t.SubTasks {
		if strings.TrimSpace(t.SubTasks[i].Title) == "" {
			return fmt.Errorf("%w: sub-task %d title must not be empty", ErrInvalidArgument, i)
		}
	}
	return nil
}

// SetStatus changes the status and keeps CompletionDate consistent with it.
func (t *Task) SetStatus(s Status, now time.Time) {
	t.Status = s
	if s == StatusCompleted {
		if t.CompletionDate == nil {
			c := now.UTC()
			t.CompletionDate = &c
		}
		return
	}
	t.CompletionDate = nil
}

// SetReminder sets or clears the reminder and keeps IsReminderOn in step.
func (t *Task) SetReminder(at *time.Time) {
	t.ReminderDate = at
	t.IsReminderOn = at != nil
}

// Touch records a mutation.
func (t *Task) Touch(now time.Time) {
	t.LastModifiedDateTime = now.UTC()
}

// Normalize repairs the derived fields: IsReminderOn follows ReminderDate,
// CompletionDate follows Status, and missing timestamps default to now.
// Sub-tasks are normalized recursively.
func (t *Task) Normalize(now time.Time) {
	t.IsReminderOn = t.ReminderDate != nil
	if t.Status == StatusCompleted && t.CompletionDate == nil {
		c := now.UTC()
		t.CompletionDate = &c
	}
	if t.Status != StatusCompleted {
		t.CompletionDate = nil
	}
	if t.CreatedDateTime.IsZero() {
		t.CreatedDateTime = now.UTC()
	}
	if t.LastModifiedDateTime.IsZero() {
		t.LastModifiedDateTime = t.CreatedDateTime
	}
	for i := range t.SubTasks {
		t.SubTasks[i].Normalize(now)
	}
}

// HasTag reports whether the task carries the tag (case-insensitive).
func (t *Task) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if strings.EqualFold(existing, tag) {
			return true
		}
	}
	return false
}

// List represents a named collection of tasks owned by one provider
type List struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsOwner  bool   `json:"is_owner"`
	Icon     string `json:"icon,omitempty"`
	Provider string `json:"provider"`
}

// Validate checks the fields every provider requires.
func (l *List) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("%w: list name must not be empty", ErrInvalidArgument)
	}
	return nil
}
