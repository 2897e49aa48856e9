// Package wsap implements the device-hosted access-point transport
// adapter: the device runs its own WiFi network and serves a websocket
// RPC endpoint, typically at the AP gateway address.
//
// This mode is used during provisioning or when no shared network exists;
// only one device is reachable at a time.
package wsap
