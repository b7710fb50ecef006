package store

import (
	"context"

	"github.com/rendis/waypoint/pkg/schema"
)

// Store persists workflow instances, JSON definitions and the instance journal.
// All implementations must be safe for concurrent use.
type Store interface {
	// Instances. SaveInstance is an upsert of the full serialized state;
	// GetInstance returns an independent copy.
	SaveInstance(ctx context.Context, state *schema.InstanceState) error
	GetInstance(ctx context.Context, id string) (*schema.InstanceState, error)
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*schema.InstanceState, error)
	DeleteInstance(ctx context.Context, id string) error

	// ListBookmarks returns the active bookmarks of every stored instance.
	ListBookmarks(ctx context.Context) ([]schema.Bookmark, error)

	// Definitions. Version 0 on lookup means latest.
	SaveDefinition(ctx context.Context, def *schema.WorkflowDefinition) error
	GetDefinition(ctx context.Context, id string, version int) (*schema.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context) ([]*schema.WorkflowDefinition, error)

	// Journal (append-only, per-instance sequence starting at 1).
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, instanceID string, since int64) ([]*Event, error)

	// Secrets hold opaque (already encrypted) values; ListSecrets returns
	// keys in ascending order.
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeError(op string, err error) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}
