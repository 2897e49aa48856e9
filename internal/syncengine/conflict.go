package syncengine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/halcyonbio/biosync-core/internal/syncqueue"
)

// Strategy selects how a conflicted item is reconciled.
type Strategy string

// Conflict resolution strategies.
const (
	// StrategyKeepLocal re-sends the local version with the overwrite
	// flag set so the remote accepts it over its own copy.
	StrategyKeepLocal Strategy = "keep_local"

	// StrategyKeepRemote accepts the server's version and drops the
	// local item.
	StrategyKeepRemote Strategy = "keep_remote"

	// StrategyMerge replaces the payload with a caller-merged version
	// and re-queues it.
	StrategyMerge Strategy = "merge"
)

// Resolution is one decision about one conflicted item. For merge, the
// caller combines the local payload with the item's stored RemoteResponse
// and supplies the result.
type Resolution struct {
	ItemID        string          `json:"item_id"`
	Strategy      Strategy        `json:"strategy"`
	MergedPayload json.RawMessage `json:"merged_payload,omitempty"`
}

// ResolveConflict applies one resolution. Strategies that keep local data
// re-queue the item and trigger an immediate sync attempt.
func (e *Engine) ResolveConflict(ctx context.Context, res Resolution) error {
	item, err := e.store.Get(ctx, res.ItemID)
	if err != nil {
		return err
	}
	if item.Status != syncqueue.StatusConflict {
		return fmt.Errorf("%w: %s is %s", ErrNotConflicted, item.ID, item.Status)
	}

	switch res.Strategy {
	case StrategyKeepLocal:
		item.ForceOverwrite = true

	case StrategyKeepRemote:
		if err := e.store.Delete(ctx, item.ID); err != nil {
			return err
		}
		e.logger.Info("conflict resolved, remote version kept", "item", item.ID)
		return nil

	case StrategyMerge:
		if len(res.MergedPayload) == 0 {
			return ErrMergePayloadRequired
		}
		item.Payload = res.MergedPayload

	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, res.Strategy)
	}

	item.Status = syncqueue.StatusPending
	item.Error = ""
	item.RemoteResponse = ""
	if err := e.store.Update(ctx, item); err != nil {
		return err
	}
	e.logger.Info("conflict resolved, item requeued",
		"item", item.ID, "strategy", res.Strategy)

	if _, err := e.Sync(ctx); err != nil {
		e.logger.Warn("post-resolution sync failed", "item", item.ID, "error", err)
	}
	return nil
}
