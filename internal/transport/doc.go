// Package transport defines the adapter boundary between BioSync Core and
// the physical channels devices are reached over (short-range radio,
// local-area network, device-hosted access point).
//
// The core never talks to a radio or socket directly: the connection
// coordinator drives Driver implementations, and the command dispatcher
// sends request/response Envelopes over Sessions. The BLE stack itself is
// an external collaborator; this package carries its contract plus the
// in-tree LAN (mqttlan) and access-point (wsap) adapters.
package transport
