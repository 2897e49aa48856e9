package events

import (
	"sync"
	"time"
)

// Type identifies a category of event.
type Type string

// Event types published by the core.
const (
	TypeDeviceConnected    Type = "device_connected"
	TypeDeviceDisconnected Type = "device_disconnected"
	TypeDeviceOffline      Type = "device_offline"
	TypeLowBattery         Type = "low_battery"
	TypeNetworkModeChanged Type = "network_mode_changed"
	TypeItemEnqueued       Type = "item_enqueued"
	TypeItemSynced         Type = "item_synced"
	TypeItemConflict       Type = "item_conflict"
	TypeSyncCompleted      Type = "sync_completed"
)

// Event is a typed notification carried on the Bus.
type Event struct {
	Type Type

	// DeviceID or ItemID identifies the subject, depending on the type.
	DeviceID string
	ItemID   string

	// Data carries type-specific details (e.g., new network mode,
	// battery level, sync pass summary).
	Data map[string]any

	Timestamp time.Time
}

// subscriberBuffer is the channel capacity per subscriber. A slow
// subscriber drops events rather than blocking publishers.
const subscriberBuffer = 64

// Bus is an in-process publish/subscribe channel for typed events.
//
// Delivery is best-effort and at-least-once per event per subscriber:
// subscribers with a full buffer miss events, and no ordering is implied
// across distinct event types. Publishers never block.
//
// Thread Safety: all methods are safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[Type][]chan Event
	all  []chan Event
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[Type][]chan Event),
	}
}

// Subscribe returns a channel receiving all events of the given type.
// The channel is buffered; events are dropped if the subscriber lags.
func (b *Bus) Subscribe(t Type) <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[t] = append(b.subs[t], ch)
	b.mu.Unlock()

	return ch
}

// SubscribeAll returns a channel receiving every published event.
func (b *Bus) SubscribeAll() <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.all = append(b.all, ch)
	b.mu.Unlock()

	return ch
}

// Publish delivers an event to all matching subscribers without blocking.
// A zero Timestamp is filled in with the current time.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[ev.Type] {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full; drop rather than stall the publisher.
		}
	}
	for _, ch := range b.all {
		select {
		case ch <- ev:
		default:
		}
	}
}
