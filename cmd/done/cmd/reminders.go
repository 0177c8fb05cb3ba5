package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"done/backend"
	"done/internal/notification"
	"done/internal/reminder"
)

type reminderJSON struct {
	TaskID  string    `json:"task_id"`
	ListID  string    `json:"list_id"`
	Title   string    `json:"title"`
	Parent  string    `json:"parent,omitempty"`
	At      time.Time `json:"at"`
	Overdue bool      `json:"overdue"`
}

type remindersResponse struct {
	Reminders []reminderJSON `json:"reminders"`
	Count     int            `json:"count"`
	Result    string         `json:"result"`
}

func newRemindersCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "reminders [provider] [list-id]",
		Short:         "Show reminders that are due, optionally as desktop notifications",
		Args:          cobra.RangeArgs(1, 2),
		RunE:          run(cfg, stdout, stderr, doReminders),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().Duration("within", 24*time.Hour, "Include reminders due within this window")
	cmd.Flags().Bool("notify", false, "Send a desktop notification per reminder")
	return cmd
}

func doReminders(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
	listID := ""
	if len(args) == 2 {
		listID = args[1]
	}
	within, _ := cmd.Flags().GetDuration("within")
	notify, _ := cmd.Flags().GetBool("notify")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	var tasks []backend.Task
	err := withProvider(ctx, a, args[0], func(p backend.Provider) error {
		for batch, err := range backend.StreamTasks(ctx, p, listID) {
			if err != nil {
				if listID != "" {
					return listError(listID, err)
				}
				return err
			}
			tasks = append(tasks, batch...)
		}
		return nil
	})
	if err != nil {
		return err
	}

	now := time.Now()
	due := reminder.Due(tasks, now, within)

	if notify && len(due) > 0 {
		n := a.cfg.Notifier
		if n == nil {
			n = notification.NewDesktop()
		}
		if err := reminder.Notify(ctx, n, due, now); err != nil {
			a.logger.Warn("failed to send some reminders")
			_, _ = fmt.Fprintln(a.stderr, "Warning:", err)
		}
	}

	if jsonOutput {
		out := remindersResponse{Reminders: []reminderJSON{}, Count: len(due), Result: ResultInfoOnly}
		for _, u := range due {
			out.Reminders = append(out.Reminders, reminderJSON{
				TaskID:  u.Task.ID,
				ListID:  u.Task.Parent,
				Title:   u.Task.Title,
				Parent:  u.Parent,
				At:      u.At,
				Overdue: u.Overdue(now),
			})
		}
		return writeJSON(a.stdout, out)
	}

	if len(due) == 0 {
		_, _ = fmt.Fprintln(a.stdout, "No reminders due")
		a.done(ResultInfoOnly)
		return nil
	}
	for _, u := range due {
		msg := reminder.Message(u, now)
		_, _ = fmt.Fprintf(a.stdout, "  %s  %s\n", msg.Title, msg.Message)
	}
	a.done(ResultInfoOnly)
	return nil
}
