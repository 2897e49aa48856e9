// Package events provides the in-process publish/subscribe bus used for
// device and sync notifications (device connected/offline, item synced,
// network mode changed, ...).
//
// Delivery is best-effort: publishers never block, and a subscriber that
// cannot keep up misses events. Components that need guarantees (the sync
// engine's durable queue, the registry's state) do not rely on the bus.
package events
