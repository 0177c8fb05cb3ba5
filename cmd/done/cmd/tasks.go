package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"done/backend"
	"done/internal/cache"
	"done/internal/utils"
)

// =============================================================================
// Lists
// =============================================================================

func newListsCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lists [provider]",
		Short:         "Show the lists of a provider",
		Args:          cobra.ExactArgs(1),
		RunE:          run(cfg, stdout, stderr, doLists),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().Bool("cached", false, "Use cached list metadata when it is still fresh")
	return cmd
}

func doLists(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
	ident, err := a.identity(args[0])
	if err != nil {
		return err
	}
	lists, cachedAt, err := a.readLists(ctx, cmd, ident.ID)
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return writeJSON(a.stdout, lists)
	}

	if len(lists) == 0 {
		_, _ = fmt.Fprintf(a.stdout, "No lists found. Create one with: done list create %s \"MyList\"\n", args[0])
		a.done(ResultInfoOnly)
		return nil
	}

	if !cachedAt.IsZero() {
		_, _ = fmt.Fprintf(a.stdout, "Available lists (%d, cached %s):\n\n", len(lists), cachedAt.Local().Format("15:04:05"))
	} else {
		_, _ = fmt.Fprintf(a.stdout, "Available lists (%d):\n\n", len(lists))
	}
	_, _ = fmt.Fprintf(a.stdout, "%-38s %-24s %s\n", "ID", "NAME", "SHARED")
	for _, l := range lists {
		shared := ""
		if !l.IsOwner {
			shared = "yes"
		}
		name := l.Name
		if l.Icon != "" {
			name = l.Icon + " " + name
		}
		_, _ = fmt.Fprintf(a.stdout, "%-38s %-24s %s\n", l.ID, name, shared)
	}
	a.done(ResultInfoOnly)
	return nil
}

// readLists returns the lists of id, from the cache when --cached is set and
// the entry is fresh. cachedAt is zero for a live read.
func (a *app) readLists(ctx context.Context, cmd *cobra.Command, id string) ([]backend.List, time.Time, error) {
	if cached, _ := cmd.Flags().GetBool("cached"); cached {
		entry, err := a.cache.Load(id)
		if err == nil {
			return entry.Lists, entry.CreatedAt, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			a.logger.Warn("failed to read list cache", zap.String("provider", id), zap.Error(err))
		}
	}

	p, err := a.connect(ctx, id)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer func() { _ = p.Close() }()

	lists, err := p.ReadAllLists(ctx)
	if err != nil {
		return nil, time.Time{}, utils.Explain(id, err)
	}
	if err := a.cache.Save(id, lists); err != nil {
		a.logger.Warn("failed to write list cache", zap.String("provider", id), zap.Error(err))
	}
	return lists, time.Time{}, nil
}

// newListCmd creates the 'list' subcommand for list management
func newListCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Manage task lists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	create := &cobra.Command{
		Use:   "create [provider] [name]",
		Short: "Create a new list",
		Args:  cobra.ExactArgs(2),
		RunE: run(cfg, stdout, stderr, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			icon, _ := cmd.Flags().GetString("icon")
			return withProvider(ctx, a, args[0], func(p backend.Provider) error {
				list, err := p.CreateList(ctx, &backend.List{Name: args[1], Icon: icon, IsOwner: true, Provider: args[0]})
				if err != nil {
					return err
				}
				return a.listAction(cmd, args[0], "create", list)
			})
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	create.Flags().String("icon", "", "Emoji or short icon shown next to the list")

	rename := &cobra.Command{
		Use:   "rename [provider] [list-id] [name]",
		Short: "Rename a list",
		Args:  cobra.ExactArgs(3),
		RunE: run(cfg, stdout, stderr, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			return withProvider(ctx, a, args[0], func(p backend.Provider) error {
				list, err := p.ReadList(ctx, args[1])
				if err != nil {
					return listError(args[1], err)
				}
				list.Name = args[2]
				updated, err := p.UpdateList(ctx, list)
				if err != nil {
					return err
				}
				return a.listAction(cmd, args[0], "rename", updated)
			})
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	del := &cobra.Command{
		Use:   "delete [provider] [list-id]",
		Short: "Delete a list and its tasks",
		Long:  "Delete a list and its tasks. Without a list id the list is chosen interactively.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: run(cfg, stdout, stderr, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			if len(args) == 1 && a.cfg.NoPrompt {
				return fmt.Errorf("%w: a list id is required with --no-prompt", backend.ErrInvalidArgument)
			}
			return withProvider(ctx, a, args[0], func(p backend.Provider) error {
				var list *backend.List
				var err error
				if len(args) == 2 {
					list, err = p.ReadList(ctx, args[1])
					if err != nil {
						return listError(args[1], err)
					}
				} else if list, err = a.chooseList(ctx, p); err != nil {
					return err
				}

				if !a.cfg.NoPrompt && !a.prompt.Confirm(fmt.Sprintf("Delete list %q and all of its tasks?", list.Name)) {
					_, _ = fmt.Fprintln(a.stdout, "Cancelled")
					return nil
				}
				if err := p.DeleteList(ctx, list.ID); err != nil {
					return err
				}
				return a.listAction(cmd, args[0], "delete", list)
			})
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	listCmd.AddCommand(create, rename, del)
	return listCmd
}

// chooseList lets the user pick one of the provider's lists.
func (a *app) chooseList(ctx context.Context, p backend.Provider) (*backend.List, error) {
	lists, err := p.ReadAllLists(ctx)
	if err != nil {
		return nil, err
	}
	if len(lists) == 0 {
		return nil, backend.NotFoundf("no lists on %s", p.ID())
	}
	i, err := utils.Select(a.prompt, "List", lists, func(l backend.List) string { return l.Name })
	if err != nil {
		return nil, err
	}
	return &lists[i], nil
}

func (a *app) listAction(cmd *cobra.Command, id, action string, list *backend.List) error {
	if err := a.cache.Invalidate(id); err != nil {
		a.logger.Warn("failed to drop list cache", zap.String("provider", id), zap.Error(err))
	}
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return writeJSON(a.stdout, listActionResponse{Action: action, List: *list, Result: ResultActionCompleted})
	}
	verb := map[string]string{"create": "Created", "rename": "Renamed", "delete": "Deleted"}[action]
	_, _ = fmt.Fprintf(a.stdout, "%s list: %s (%s)\n", verb, list.Name, list.ID)
	a.done(ResultActionCompleted)
	return nil
}

// withProvider connects to id, runs fn and explains its error.
func withProvider(ctx context.Context, a *app, id string, fn func(p backend.Provider) error) error {
	p, err := a.connect(ctx, id)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()
	return utils.Explain(id, fn(p))
}

func listError(listID string, err error) error {
	if errors.Is(err, backend.ErrNotFound) {
		return utils.ErrListNotFound(listID)
	}
	return err
}

func taskError(taskID string, err error) error {
	if errors.Is(err, backend.ErrNotFound) {
		return utils.ErrTaskNotFound(taskID)
	}
	return err
}

// =============================================================================
// Tasks
// =============================================================================

func newTasksCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tasks [provider] [list-id]",
		Short:         "Show the tasks of a provider, or of one list",
		Args:          cobra.RangeArgs(1, 2),
		RunE:          run(cfg, stdout, stderr, doTasks),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().BoolP("all", "a", false, "Include completed tasks")
	cmd.Flags().String("tag", "", "Only show tasks carrying this tag")
	return cmd
}

// doTasks prints tasks as the provider delivers them, one batch at a time.
func doTasks(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
	listID := ""
	if len(args) == 2 {
		listID = args[1]
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")
	all, _ := cmd.Flags().GetBool("all")
	tag, _ := cmd.Flags().GetString("tag")

	keep := func(t backend.Task) bool {
		if !all && t.Status == backend.StatusCompleted {
			return false
		}
		return tag == "" || t.HasTag(tag)
	}

	return withProvider(ctx, a, args[0], func(p backend.Provider) error {
		collected := []backend.Task{}
		count := 0
		for batch, err := range backend.StreamTasks(ctx, p, listID) {
			if err != nil {
				if listID != "" {
					return listError(listID, err)
				}
				return err
			}
			for _, t := range batch {
				if !keep(t) {
					continue
				}
				count++
				if jsonOutput {
					collected = append(collected, t)
					continue
				}
				printTask(a.stdout, t, "")
			}
		}

		if jsonOutput {
			return writeJSON(a.stdout, taskListResponse{Tasks: collected, List: listID, Count: len(collected), Result: ResultInfoOnly})
		}
		if count == 0 {
			_, _ = fmt.Fprintln(a.stdout, "No tasks found")
		}
		a.done(ResultInfoOnly)
		return nil
	})
}

// getStatusIcon returns a visual indicator for task status
func getStatusIcon(status backend.Status) string {
	if status == backend.StatusCompleted {
		return "[DONE]"
	}
	return "[TODO]"
}

// printTask prints a task and its sub-tasks with box-drawing characters
func printTask(w io.Writer, t backend.Task, prefix string) {
	var extra []string
	switch t.Priority {
	case backend.PriorityHigh:
		extra = append(extra, "!")
	case backend.PriorityLow:
		extra = append(extra, "low")
	}
	if t.Favorite {
		extra = append(extra, "★")
	}
	if t.DueDate != nil {
		extra = append(extra, "due "+t.DueDate.Local().Format("2006-01-02"))
	}
	if !t.Recurrence.IsZero() {
		var days []string
		for _, d := range t.Recurrence.Days() {
			days = append(days, d.String()[:3])
		}
		extra = append(extra, "every "+strings.Join(days, ","))
	}
	line := fmt.Sprintf("%s %s", getStatusIcon(t.Status), t.Title)
	if len(extra) > 0 {
		line += " (" + strings.Join(extra, ", ") + ")"
	}
	if len(t.Tags) > 0 {
		line += " {" + strings.Join(t.Tags, ",") + "}"
	}
	if prefix == "" {
		_, _ = fmt.Fprintf(w, "  %s  %s\n", line, t.ID)
	} else {
		_, _ = fmt.Fprintf(w, "%s%s\n", prefix, line)
	}

	for i, sub := range t.SubTasks {
		branch := "├─ "
		if i == len(t.SubTasks)-1 {
			branch = "└─ "
		}
		printTask(w, sub, "    "+branch)
	}
}

// newTaskCmd creates the 'task' subcommand for task management
func newTaskCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	add := &cobra.Command{
		Use:           "add [provider] [list-id] [title]",
		Short:         "Add a task to a list",
		Args:          cobra.ExactArgs(3),
		RunE:          run(cfg, stdout, stderr, doAdd),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	add.Flags().StringP("notes", "n", "", "Task notes")
	add.Flags().StringP("priority", "p", "", "Task priority (low, normal, high)")
	add.Flags().String("due", "", "Due date (YYYY-MM-DD, 'YYYY-MM-DD HH:MM', today, tomorrow, +Nd)")
	add.Flags().String("remind", "", "Reminder date, same formats as --due")
	add.Flags().String("repeat", "", "Weekdays the task repeats on (mon,thu or daily)")
	add.Flags().StringSlice("tag", nil, "Tag (can be specified multiple times or comma-separated)")
	add.Flags().StringSlice("sub", nil, "Sub-task title (can be specified multiple times)")
	add.Flags().Bool("favorite", false, "Mark the task as favorite")

	complete := &cobra.Command{
		Use:   "complete [provider] [task-id]",
		Short: "Mark a task as completed",
		Args:  cobra.ExactArgs(2),
		RunE: run(cfg, stdout, stderr, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			return a.setStatus(ctx, cmd, args, backend.StatusCompleted)
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	complete.Flags().String("list", "", "List holding the task (searches every list when empty)")

	reopen := &cobra.Command{
		Use:   "reopen [provider] [task-id]",
		Short: "Mark a task as not started",
		Args:  cobra.ExactArgs(2),
		RunE: run(cfg, stdout, stderr, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			return a.setStatus(ctx, cmd, args, backend.StatusNotStarted)
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	reopen.Flags().String("list", "", "List holding the task (searches every list when empty)")

	del := &cobra.Command{
		Use:   "delete [provider] [task-id]",
		Short: "Delete a task and its sub-tasks",
		Args:  cobra.ExactArgs(2),
		RunE: run(cfg, stdout, stderr, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			listID, _ := cmd.Flags().GetString("list")
			return withProvider(ctx, a, args[0], func(p backend.Provider) error {
				task, err := p.ReadTask(ctx, listID, args[1])
				if err != nil {
					return taskError(args[1], err)
				}
				if err := p.DeleteTask(ctx, task.Parent, task.ID); err != nil {
					return taskError(args[1], err)
				}
				return a.taskAction(cmd, "delete", task)
			})
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	del.Flags().String("list", "", "List holding the task (searches every list when empty)")

	taskCmd.AddCommand(add, complete, reopen, del)
	return taskCmd
}

// doAdd creates a new task
func doAdd(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
	providerID, listID, title := args[0], args[1], args[2]
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("task title is required")
	}

	task := backend.NewTask(listID, title)
	task.Notes, _ = cmd.Flags().GetString("notes")
	task.Favorite, _ = cmd.Flags().GetBool("favorite")

	if s, _ := cmd.Flags().GetString("priority"); s != "" {
		p, err := backend.ParsePriority(s)
		if err != nil {
			return utils.WrapWithSuggestion(err, "Valid options: low, normal, high")
		}
		task.Priority = p
	}

	dueStr, _ := cmd.Flags().GetString("due")
	due, err := utils.ParseDateFlag(dueStr)
	if err != nil {
		return err
	}
	remindStr, _ := cmd.Flags().GetString("remind")
	remind, err := utils.ParseDateFlag(remindStr)
	if err != nil {
		return err
	}
	if err := utils.ValidateReminder(remind, due); err != nil {
		return err
	}
	task.DueDate = utcPtr(due)
	task.SetReminder(utcPtr(remind))

	repeat, _ := cmd.Flags().GetString("repeat")
	if task.Recurrence, err = utils.ParseRecurrenceFlag(repeat); err != nil {
		return err
	}

	tags, _ := cmd.Flags().GetStringSlice("tag")
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" && !task.HasTag(tag) {
			task.Tags = append(task.Tags, tag)
		}
	}
	subs, _ := cmd.Flags().GetStringSlice("sub")
	for _, s := range subs {
		task.SubTasks = append(task.SubTasks, backend.NewTask(listID, s))
	}

	return withProvider(ctx, a, providerID, func(p backend.Provider) error {
		created, err := p.CreateTask(ctx, &task)
		if err != nil {
			return err
		}
		return a.taskAction(cmd, "add", created)
	})
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// setStatus reads the task, changes its status and writes it back.
func (a *app) setStatus(ctx context.Context, cmd *cobra.Command, args []string, status backend.Status) error {
	listID, _ := cmd.Flags().GetString("list")
	return withProvider(ctx, a, args[0], func(p backend.Provider) error {
		task, err := p.ReadTask(ctx, listID, args[1])
		if err != nil {
			return taskError(args[1], err)
		}
		now := time.Now()
		task.SetStatus(status, now)
		task.Touch(now)
		updated, err := p.UpdateTask(ctx, task)
		if err != nil {
			return err
		}
		action := "complete"
		if status != backend.StatusCompleted {
			action = "reopen"
		}
		return a.taskAction(cmd, action, updated)
	})
}

func (a *app) taskAction(cmd *cobra.Command, action string, task *backend.Task) error {
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return writeJSON(a.stdout, taskActionResponse{Action: action, Task: *task, Result: ResultActionCompleted})
	}
	verb := map[string]string{"add": "Created", "complete": "Completed", "reopen": "Reopened", "delete": "Deleted"}[action]
	_, _ = fmt.Fprintf(a.stdout, "%s task: %s (%s)\n", verb, task.Title, task.ID)
	a.done(ResultActionCompleted)
	return nil
}
