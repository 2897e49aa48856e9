// Package coordinator owns device connection lifecycle: transport scans,
// session admission (including the BLE connection ceiling), the post-connect
// identification handshake, registry bookkeeping, bounded automatic
// reconnection after unexpected session loss, and host network-mode
// detection.
//
// The coordinator never reconnects after a deliberate Disconnect; only
// sessions that end with an error are retried, with linearly growing
// delays, and a device that exhausts its attempts stays offline until a
// manual Connect.
package coordinator
