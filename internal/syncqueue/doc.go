// Package syncqueue is the durable outbound queue: every measurement,
// calibration, and user action captured while offline is persisted here
// until the remote confirms it.
//
// The store survives process restarts; the sync engine drains it in
// priority order and items are removed only after confirmed acceptance
// plus a grace period, or by explicit conflict resolution.
package syncqueue
