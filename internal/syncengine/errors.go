package syncengine

import "errors"

// Domain errors for the sync engine.
var (
	// ErrQueueFull is returned by Enqueue when the store already holds
	// the configured maximum number of items.
	ErrQueueFull = errors.New("syncengine: sync queue is full")

	// ErrUnknownStrategy is returned when a conflict resolution names a
	// strategy the engine does not implement.
	ErrUnknownStrategy = errors.New("syncengine: unknown conflict resolution strategy")

	// ErrNotConflicted is returned when resolving an item that is not in
	// the conflict state.
	ErrNotConflicted = errors.New("syncengine: item is not in conflict")

	// ErrMergePayloadRequired is returned when the merge strategy is
	// chosen without a merged payload.
	ErrMergePayloadRequired = errors.New("syncengine: merge resolution requires a merged payload")
)
