package backend

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// ProviderInfo is the static metadata every provider exposes.
type ProviderInfo struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Icon        string `json:"icon" yaml:"icon"`
}

// Provider is the uniform CRUD surface over Tasks and Lists that every backend
// implements, whether it runs in-process or behind the wire protocol.
type Provider interface {
	// Static metadata. These never fail under normal operation.
	ID() string
	Name() string
	Description() string
	IconName() string

	// Task operations
	ReadAllTasks(ctx context.Context) ([]Task, error)
	ReadTasksFromList(ctx context.Context, listID string) ([]Task, error)
	// ReadTask returns ErrNotFound if the task does not exist. listID may be
	// empty for providers that index tasks globally.
	ReadTask(ctx context.Context, listID, taskID string) (*Task, error)
	// CreateTask assigns an ID if the task has none. task.Parent must reference
	// an existing list on the provider.
	CreateTask(ctx context.Context, task *Task) (*Task, error)
	UpdateTask(ctx context.Context, task *Task) (*Task, error)
	DeleteTask(ctx context.Context, listID, taskID string) error

	// List operations
	ReadAllLists(ctx context.Context) ([]List, error)
	ReadList(ctx context.Context, listID string) (*List, error)
	CreateList(ctx context.Context, list *List) (*List, error)
	UpdateList(ctx context.Context, list *List) (*List, error)
	// DeleteList removes the list together with all of its tasks.
	DeleteList(ctx context.Context, listID string) error

	// Connection management
	Close() error
}

// InfoOf collects the static metadata of a provider.
func InfoOf(p Provider) ProviderInfo {
	return ProviderInfo{
		ID:          p.ID(),
		Name:        p.Name(),
		Description: p.Description(),
		Icon:        p.IconName(),
	}
}

// FindListByName searches for a list by name (case-insensitive) in a slice of lists.
// Returns nil if no match is found.
func FindListByName(lists []List, name string) *List {
	for _, l := range lists {
		if strings.EqualFold(l.Name, name) {
			return &l
		}
	}
	return nil
}

// GenerateID generates a unique identifier using UUID v4.
// This is used by providers that need to generate task/list IDs locally.
func GenerateID() string {
	return uuid.New().String()
}
