package coordinator

import "errors"

// Domain errors for the coordinator package.
//
// Admission errors (connection ceiling, scan exclusivity) are rejected
// synchronously; the caller must back off or choose another transport.
var (
	// ErrConnectionLimitExceeded is returned when a BLE connect would
	// exceed the configured session ceiling. Real BLE stacks support a
	// small fixed number of concurrent central connections; callers
	// should reach additional devices over the LAN transport instead.
	ErrConnectionLimitExceeded = errors.New(
		"coordinator: BLE connection limit exceeded, use the LAN transport for additional devices")

	// ErrScanInProgress is returned when a scan is already running on
	// the requested transport.
	ErrScanInProgress = errors.New("coordinator: scan already in progress on this transport")

	// ErrTransportUnavailable is returned when no driver is registered
	// for the requested transport kind.
	ErrTransportUnavailable = errors.New("coordinator: no driver for transport")

	// ErrAlreadyConnected is returned when a device already has an
	// active session.
	ErrAlreadyConnected = errors.New("coordinator: device already connected")

	// ErrNotConnected is returned when an operation needs an active
	// session and the device has none.
	ErrNotConnected = errors.New("coordinator: device not connected")
)
