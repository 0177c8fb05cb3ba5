// Package reminder finds tasks whose reminder is due and announces them.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"done/backend"
	"done/internal/notification"
)

// Upcoming is one reminder of an open task.
type Upcoming struct {
	Task   backend.Task
	Parent string // title of the parent task when Task is a sub-task
	At     time.Time
}

// Overdue reports whether the reminder time has passed at now.
func (u Upcoming) Overdue(now time.Time) bool {
	return !u.At.After(now)
}

// Due returns the reminders of open tasks and sub-tasks set at or before
// now+window, earliest first. Sub-tasks of completed tasks are skipped.
func Due(tasks []backend.Task, now time.Time, window time.Duration) []Upcoming {
	limit := now.Add(window)
	var out []Upcoming
	var walk func(ts []backend.Task, parent string)
	walk = func(ts []backend.Task, parent string) {
		for _, t := range ts {
			if t.Status == backend.StatusCompleted {
				continue
			}
			if t.IsReminderOn && t.ReminderDate != nil && !t.ReminderDate.After(limit) {
				task := t
				task.SubTasks = nil
				out = append(out, Upcoming{Task: task, Parent: parent, At: *t.ReminderDate})
			}
			walk(t.SubTasks, t.Title)
		}
	}
	walk(tasks, "")

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].Task.Title < out[j].Task.Title
	})
	return out
}

// Message builds the notification announcing u.
func Message(u Upcoming, now time.Time) notification.Notification {
	title := u.Task.Title
	if u.Parent != "" {
		title = u.Parent + ": " + title
	}
	msg := "Reminder at " + u.At.Local().Format("Mon 2 Jan 15:04")
	if u.Overdue(now) {
		msg = "Overdue since " + u.At.Local().Format("Mon 2 Jan 15:04")
	}
	if u.Task.DueDate != nil {
		msg += fmt.Sprintf(", due %s", u.Task.DueDate.Local().Format("2006-01-02"))
	}
	return notification.Notification{Title: title, Message: msg}
}

// Notify announces every reminder through n and returns the joined failures.
func Notify(ctx context.Context, n notification.Notifier, reminders []Upcoming, now time.Time) error {
	var errs []error
	for _, u := range reminders {
		if err := n.Notify(ctx, Message(u, now)); err != nil {
			errs = append(errs, fmt.Errorf("reminder for %q: %w", u.Task.Title, err))
		}
	}
	return errors.Join(errs...)
}
