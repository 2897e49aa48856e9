package syncqueue

import "context"

// Store is the durable queue contract consumed by the sync engine.
//
// Implementations must apply each write atomically so a crash between
// operations never leaves an item half-updated.
type Store interface {
	// Add persists a new item.
	Add(ctx context.Context, item *Item) error

	// Update rewrites an existing item by ID.
	Update(ctx context.Context, item *Item) error

	// Delete removes an item by ID.
	Delete(ctx context.Context, id string) error

	// Get fetches one item by ID.
	Get(ctx context.Context, id string) (*Item, error)

	// GetByStatus lists items in a status, highest priority first and
	// oldest first within a priority.
	GetByStatus(ctx context.Context, status Status) ([]*Item, error)

	// GetAll lists every item in sync order.
	GetAll(ctx context.Context) ([]*Item, error)

	// Count returns the total number of items.
	Count(ctx context.Context) (int, error)

	// CountByStatus returns the number of items in a status.
	CountByStatus(ctx context.Context, status Status) (int, error)

	// Clear removes every item. Used by tests and explicit maintenance.
	Clear(ctx context.Context) error
}
