package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonbio/biosync-core/internal/events"
	"github.com/halcyonbio/biosync-core/internal/syncqueue"
)

// Logger defines the logging interface used by the Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ConnectivitySource reports whether a sync endpoint is currently
// reachable. The connection coordinator satisfies it.
type ConnectivitySource interface {
	RemoteReachable() bool
}

// Summary is the outcome of one sync pass.
type Summary struct {
	Synced    int           `json:"synced"`
	Failed    int           `json:"failed"`
	Conflicts int           `json:"conflicts"`
	Duration  time.Duration `json:"duration"`
}

// ProgressFunc receives batch progress during a pass: items processed so
// far and the pass total.
type ProgressFunc func(processed, total int)

// Options holds construction parameters for the Engine.
type Options struct {
	Store        syncqueue.Store
	Client       Client
	Bus          *events.Bus
	Connectivity ConnectivitySource

	// Interval drives timer-based passes. Zero selects 30s.
	Interval time.Duration

	// BatchSize is items per batch within a pass. Zero selects 25.
	BatchSize int

	// MaxQueueSize caps the store; Enqueue fails beyond it. Zero
	// selects 10000.
	MaxQueueSize int

	// MaxRetries is the automatic retry ceiling per item. Zero
	// selects 5.
	MaxRetries int

	// GracePeriod delays deletion of synced items. Zero selects 60s.
	GracePeriod time.Duration

	// OnProgress, when set, receives batch progress during each pass.
	OnProgress ProgressFunc

	Logger Logger
}

// Engine drains the durable queue to the remote API.
//
// Passes are triggered three ways: a fixed interval timer, the
// offline-to-online network transition, and manual Sync calls. Only one
// pass runs at a time; concurrent triggers collapse into a no-op.
type Engine struct {
	store        syncqueue.Store
	client       Client
	bus          *events.Bus
	connectivity ConnectivitySource
	logger       Logger

	interval   time.Duration
	batchSize  int
	maxQueue   int
	maxRetries int
	grace      time.Duration
	onProgress ProgressFunc

	syncing atomic.Bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates an Engine. Call Start for the timer and connectivity
// triggers; Enqueue and Sync work without Start.
func New(opts Options) *Engine {
	interval := opts.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = 25
	}
	maxQueue := opts.MaxQueueSize
	if maxQueue == 0 {
		maxQueue = 10000
	}
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	grace := opts.GracePeriod
	if grace == 0 {
		grace = 60 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Engine{
		store:        opts.Store,
		client:       opts.Client,
		bus:          opts.Bus,
		connectivity: opts.Connectivity,
		logger:       logger,
		interval:     interval,
		batchSize:    batchSize,
		maxQueue:     maxQueue,
		maxRetries:   maxRetries,
		grace:        grace,
		onProgress:   opts.OnProgress,
		done:         make(chan struct{}),
	}
}

// EnqueueOptions carries the optional attributes of a new queue item.
type EnqueueOptions struct {
	DeviceID string
	UserID   string
	Priority syncqueue.Priority
}

// Enqueue persists a new item for synchronisation. Critical items trigger
// an immediate pass when the remote is reachable; everything else waits
// for the next trigger.
func (e *Engine) Enqueue(ctx context.Context, kind syncqueue.Kind, payload json.RawMessage, opts EnqueueOptions) (*syncqueue.Item, error) {
	count, err := e.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking queue size: %w", err)
	}
	if count >= e.maxQueue {
		return nil, fmt.Errorf("%w (%d items, max %d)", ErrQueueFull, count, e.maxQueue)
	}

	priority := opts.Priority
	if priority == "" {
		priority = syncqueue.PriorityNormal
	}

	item := &syncqueue.Item{
		ID:        uuid.New().String(),
		Kind:      kind,
		Payload:   payload,
		DeviceID:  opts.DeviceID,
		UserID:    opts.UserID,
		Priority:  priority,
		Status:    syncqueue.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.Add(ctx, item); err != nil {
		return nil, err
	}

	e.bus.Publish(events.Event{
		Type:     events.TypeItemEnqueued,
		ItemID:   item.ID,
		DeviceID: item.DeviceID,
		Data:     map[string]any{"kind": string(kind), "priority": string(priority)},
	})

	if priority == syncqueue.PriorityCritical && e.connectivity.RemoteReachable() {
		if _, err := e.Sync(ctx); err != nil {
			e.logger.Warn("immediate sync for critical item failed", "item", item.ID, "error", err)
		}
	}

	return item, nil
}

// Sync runs one pass over all pending items. It returns an empty Summary
// without touching the store when the remote is unreachable or another
// pass is already running.
func (e *Engine) Sync(ctx context.Context) (Summary, error) {
	if !e.connectivity.RemoteReachable() {
		return Summary{}, nil
	}
	if !e.syncing.CompareAndSwap(false, true) {
		return Summary{}, nil
	}
	defer e.syncing.Store(false)

	start := time.Now()

	pending, err := e.store.GetByStatus(ctx, syncqueue.StatusPending)
	if err != nil {
		return Summary{}, fmt.Errorf("loading pending items: %w", err)
	}

	var summary Summary
	total := len(pending)
	for processed := 0; processed < total; processed += e.batchSize {
		end := processed + e.batchSize
		if end > total {
			end = total
		}
		for _, item := range pending[processed:end] {
			select {
			case <-ctx.Done():
				summary.Duration = time.Since(start)
				return summary, ctx.Err()
			case <-e.done:
				summary.Duration = time.Since(start)
				return summary, nil
			default:
			}
			e.syncItem(ctx, item, &summary)
		}
		if e.onProgress != nil {
			e.onProgress(end, total)
		}
	}

	if err := e.requeueRetryable(ctx); err != nil {
		e.logger.Warn("requeueing failed items", "error", err)
	}

	summary.Duration = time.Since(start)
	if total > 0 {
		e.logger.Info("sync pass completed",
			"synced", summary.Synced, "failed", summary.Failed,
			"conflicts", summary.Conflicts, "duration", summary.Duration)
	}

	e.bus.Publish(events.Event{
		Type: events.TypeSyncCompleted,
		Data: map[string]any{
			"synced":    summary.Synced,
			"failed":    summary.Failed,
			"conflicts": summary.Conflicts,
		},
	})

	return summary, nil
}

// syncItem pushes one item and records the verdict.
func (e *Engine) syncItem(ctx context.Context, item *syncqueue.Item, summary *Summary) {
	now := time.Now().UTC()
	item.Status = syncqueue.StatusSyncing
	item.AttemptCount++
	item.LastAttemptAt = &now
	if err := e.store.Update(ctx, item); err != nil {
		e.logger.Error("marking item syncing", "item", item.ID, "error", err)
		summary.Failed++
		return
	}

	res, err := e.client.Push(ctx, item)
	switch {
	case err != nil:
		item.Status = syncqueue.StatusFailed
		item.Error = err.Error()
		summary.Failed++

	case res.Accepted():
		item.Status = syncqueue.StatusSynced
		item.Error = ""
		summary.Synced++

	case res.Conflict():
		item.Status = syncqueue.StatusConflict
		item.RemoteResponse = res.Body
		summary.Conflicts++

	default:
		item.Status = syncqueue.StatusFailed
		item.Error = fmt.Sprintf("remote returned status %d", res.StatusCode)
		summary.Failed++
	}

	if err := e.store.Update(ctx, item); err != nil {
		e.logger.Error("recording sync verdict", "item", item.ID, "error", err)
		return
	}

	switch item.Status {
	case syncqueue.StatusSynced:
		e.bus.Publish(events.Event{
			Type:     events.TypeItemSynced,
			ItemID:   item.ID,
			DeviceID: item.DeviceID,
		})
		e.scheduleDeletion(item.ID)

	case syncqueue.StatusConflict:
		e.bus.Publish(events.Event{
			Type:     events.TypeItemConflict,
			ItemID:   item.ID,
			DeviceID: item.DeviceID,
		})

	case syncqueue.StatusFailed:
		e.logger.Warn("item sync failed",
			"item", item.ID, "attempt", item.AttemptCount, "error", item.Error)
	}
}

// scheduleDeletion removes a synced item after the grace period, giving
// late readers a window to observe the synced state.
func (e *Engine) scheduleDeletion(itemID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		select {
		case <-time.After(e.grace):
		case <-e.done:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.store.Delete(ctx, itemID); err != nil {
			e.logger.Warn("deleting synced item", "item", itemID, "error", err)
		}
	}()
}

// requeueRetryable resets failed items below the retry ceiling back to
// pending. Items at the ceiling stay failed for manual intervention.
func (e *Engine) requeueRetryable(ctx context.Context) error {
	failed, err := e.store.GetByStatus(ctx, syncqueue.StatusFailed)
	if err != nil {
		return err
	}
	for _, item := range failed {
		if item.AttemptCount >= e.maxRetries {
			continue
		}
		item.Status = syncqueue.StatusPending
		if err := e.store.Update(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the interval timer and the connectivity trigger.
func (e *Engine) Start(ctx context.Context) {
	modeCh := e.bus.Subscribe(events.TypeNetworkModeChanged)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-e.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.runPass(ctx, "interval")
			case ev := <-modeCh:
				// Sync the backlog the moment connectivity returns.
				if e.connectivity.RemoteReachable() {
					e.logger.Info("connectivity restored, syncing backlog",
						"mode", ev.Data["current"])
					e.runPass(ctx, "connectivity")
				}
			}
		}
	}()
}

func (e *Engine) runPass(ctx context.Context, trigger string) {
	if _, err := e.Sync(ctx); err != nil && ctx.Err() == nil {
		e.logger.Error("sync pass failed", "trigger", trigger, "error", err)
	}
}

// Stop halts the triggers and waits for in-flight work, including pending
// grace-period deletions.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
	})
}
