// Package syncengine drains the durable sync queue to the remote
// ingestion API and reconciles version conflicts.
//
// A pass is triggered by a fixed timer, by connectivity returning, or
// manually; at most one runs at a time. Items that fail keep retrying up
// to a ceiling, confirmed items are deleted after a grace period, and a
// 409 from the remote parks the item in the conflict state until a caller
// resolves it.
package syncengine
