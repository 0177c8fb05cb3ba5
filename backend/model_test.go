package backend_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"done/backend"
)

func TestTaskJSONUsesCanonicalFieldNames(t *testing.T) {
	due := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	task := backend.Task{
		ID:         "t1",
		Parent:     "l1",
		Title:      "Milk",
		Status:     backend.StatusCompleted,
		Priority:   backend.PriorityHigh,
		DueDate:    &due,
		Recurrence: backend.RecurrenceOf(time.Monday, time.Friday),
		Tags:       []string{"shop"},
	}

	data, err := json.Marshal(task)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "l1", raw["parent"])
	assert.Equal(t, "Completed", raw["status"])
	assert.Equal(t, "High", raw["priority"])
	assert.Equal(t, []any{"monday", "friday"}, raw["recurrence"])
	assert.Contains(t, raw, "is_reminder_on")
	assert.Contains(t, raw, "last_modified_date_time")

	var back backend.Task
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, task.Recurrence, back.Recurrence)
	assert.Equal(t, task.Status, back.Status)
	assert.True(t, back.DueDate.Equal(due))
}

func TestParseStatusCollapsesProviderStates(t *testing.T) {
	for _, name := range []string{"inProgress", "deferred", "waitingOnOthers", "needs-action", ""} {
		s, err := backend.ParseStatus(name)
		require.NoError(t, err, name)
		assert.Equal(t, backend.StatusNotStarted, s, name)
	}
	s, err := backend.ParseStatus("completed")
	require.NoError(t, err)
	assert.Equal(t, backend.StatusCompleted, s)

	_, err = backend.ParseStatus("exploded")
	assert.ErrorIs(t, err, backend.ErrInvalidArgument)
}

func TestPriorityZeroValueIsNormal(t *testing.T) {
	var task backend.Task
	assert.Equal(t, backend.PriorityNormal, task.Priority)
	assert.Equal(t, "Normal", task.Priority.String())
}

func TestSetStatusKeepsCompletionDateConsistent(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	task := backend.NewTask("l1", "Milk")

	task.SetStatus(backend.StatusCompleted, now)
	require.NotNil(t, task.CompletionDate)
	assert.True(t, task.CompletionDate.Equal(now))

	task.SetStatus(backend.StatusNotStarted, now)
	assert.Nil(t, task.CompletionDate)
}

func TestNormalizeRepairsReminderFlag(t *testing.T) {
	now := time.Now()
	task := backend.Task{Title: "x", IsReminderOn: true}
	task.SubTasks = []backend.Task{{Title: "child", Status: backend.StatusCompleted}}

	task.Normalize(now)

	assert.False(t, task.IsReminderOn)
	assert.False(t, task.CreatedDateTime.IsZero())
	assert.Equal(t, task.CreatedDateTime, task.LastModifiedDateTime)
	require.NotNil(t, task.SubTasks[0].CompletionDate)

	at := now.Add(time.Hour)
	task.SetReminder(&at)
	assert.True(t, task.IsReminderOn)
}

func TestValidateRejectsEmptyNames(t *testing.T) {
	task := backend.Task{Title: "  "}
	assert.ErrorIs(t, task.Validate(), backend.ErrInvalidArgument)

	list := backend.List{}
	assert.ErrorIs(t, list.Validate(), backend.ErrInvalidArgument)
}

func TestRecurrenceSet(t *testing.T) {
	r := backend.RecurrenceOf(time.Sunday, time.Wednesday)
	assert.True(t, r.Has(time.Wednesday))
	assert.False(t, r.Has(time.Thursday))
	assert.Equal(t, []time.Weekday{time.Sunday, time.Wednesday}, r.Days())
	assert.True(t, r.Without(time.Sunday).Without(time.Wednesday).IsZero())
	assert.Len(t, backend.EveryDay.Days(), 7)

	d, err := backend.ParseWeekday("TH")
	require.NoError(t, err)
	assert.Equal(t, time.Thursday, d)
}

func TestErrorTaxonomy(t *testing.T) {
	connErr := &backend.ConnectionError{Provider: "local", Addr: "127.0.0.1:7007", Err: errors.New("refused")}
	assert.ErrorIs(t, connErr, backend.ErrUnavailable)

	opErr := &backend.OperationFailedError{Provider: "local", Method: "DeleteTask", Reason: backend.ReasonNotFound, Message: "task not found"}
	assert.ErrorIs(t, opErr, backend.ErrNotFound)
	assert.NotErrorIs(t, opErr, backend.ErrUnavailable)

	authErr := &backend.AuthError{Provider: "microsoft"}
	assert.ErrorIs(t, authErr, backend.ErrUnauthenticated)
	assert.NotErrorIs(t, authErr, backend.ErrUnavailable)

	assert.Equal(t, backend.ReasonInvalidArgument, backend.ReasonOf(backend.InvalidArgumentf("parent %q", "x")))
	assert.Equal(t, backend.ReasonInternal, backend.ReasonOf(errors.New("boom")))
}

// batchProvider streams fixed batches; embedded nil Provider methods are never called.
type batchProvider struct {
	backend.Provider
	batches [][]backend.Task
	calls   int
}

func (b *batchProvider) StreamTasks(ctx context.Context, listID string, yield func([]backend.Task) error) error {
	b.calls++
	for _, batch := range b.batches {
		if err := yield(batch); err != nil {
			return err
		}
	}
	return nil
}

func TestStreamTasksIsLazyAndRestartable(t *testing.T) {
	p := &batchProvider{batches: [][]backend.Task{
		{{ID: "1"}, {ID: "2"}},
		{{ID: "3"}},
	}}

	seq := backend.StreamTasks(context.Background(), p, "")
	assert.Equal(t, 0, p.calls)

	tasks, err := backend.CollectTasks(seq)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)

	for batch, err := range seq {
		require.NoError(t, err)
		assert.Len(t, batch, 2)
		break
	}
	assert.Equal(t, 2, p.calls)
}
