// Package device provides the Device Registry for BioSync Core.
//
// The registry is the in-memory single source of truth for every known
// measurement device and its live state. It is a pure data-holding
// component: the connection coordinator and health monitor mutate records
// through it, the command dispatcher and exporters read from it, and it
// performs no I/O of its own.
//
// # Key Types
//
//   - Record: a device's identity, transport state, operational status,
//     capabilities, counters and timestamps
//   - Registry: the keyed table of Records (one per device ID)
//   - Groups: named ID sets used purely to address bulk commands
//
// # Thread Safety
//
// All Registry and Groups operations are safe for concurrent use. Records
// are stored and returned as copies; an update atomically replaces the
// whole record, so readers never observe a torn write.
package device
