package backend

import (
	"context"
	"errors"
	"iter"
)

// TaskStreamer is implemented by providers that can deliver bulk reads
// incrementally. listID selects a single list; empty means all lists.
// yield is called once per batch and stops the stream when it returns an error.
type TaskStreamer interface {
	StreamTasks(ctx context.Context, listID string, yield func([]Task) error) error
}

var errStopStream = errors.New("stream stopped by consumer")

// StreamTasks returns a lazy, finite sequence of task batches. Ranging over it
// again issues a fresh read. Providers without TaskStreamer yield one batch.
// An error ends the sequence and is delivered as the final element.
func StreamTasks(ctx context.Context, p Provider, listID string) iter.Seq2[[]Task, error] {
	return func(yield func([]Task, error) bool) {
		if s, ok := p.(TaskStreamer); ok {
			err := s.StreamTasks(ctx, listID, func(batch []Task) error {
				if !yield(batch, nil) {
					return errStopStream
				}
				return nil
			})
			if err != nil && !errors.Is(err, errStopStream) {
				yield(nil, err)
			}
			return
		}

		var (
			tasks []Task
			err   error
		)
		if listID == "" {
			tasks, err = p.ReadAllTasks(ctx)
		} else {
			tasks, err = p.ReadTasksFromList(ctx, listID)
		}
		if err != nil {
			yield(nil, err)
			return
		}
		yield(tasks, nil)
	}
}

// CollectTasks drains a task sequence into a single slice.
func CollectTasks(seq iter.Seq2[[]Task, error]) ([]Task, error) {
	tasks := []Task{}
	for batch, err := range seq {
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, batch...)
	}
	return tasks, nil
}
