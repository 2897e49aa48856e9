package command

import "errors"

// Domain errors for the command package. Per-device failures are reported
// inside the Result for that device, not as a call-level error.
var (
	// ErrDeviceNotFound is set on a Result when the target is not in the
	// registry.
	ErrDeviceNotFound = errors.New("command: device not found")

	// ErrNoActiveConnection is set on a Result when the target is known
	// but has no live session.
	ErrNoActiveConnection = errors.New("command: no active connection to device")

	// ErrCommandTimeout is set on a Result when the device did not
	// respond within the request timeout.
	ErrCommandTimeout = errors.New("command: device did not respond in time")

	// ErrUnknownKind is returned when the request names a command kind
	// the dispatcher does not recognise.
	ErrUnknownKind = errors.New("command: unknown command kind")

	// ErrNoTargets is returned when the request addresses no devices.
	ErrNoTargets = errors.New("command: request has no target devices")
)
