package syncqueue

import "errors"

// Domain errors for the sync queue store.
var (
	// ErrItemNotFound is returned when no item exists with the given ID.
	ErrItemNotFound = errors.New("syncqueue: item not found")

	// ErrInvalidItem is returned when an item fails validation before a
	// write.
	ErrInvalidItem = errors.New("syncqueue: invalid item")
)
