package transport

import "errors"

// Domain errors for transport adapters.
var (
	// ErrSessionClosed is returned by Send after the session has ended.
	ErrSessionClosed = errors.New("transport: session closed")

	// ErrConnectFailed is returned when a connection attempt fails.
	ErrConnectFailed = errors.New("transport: connect failed")

	// ErrScanFailed is returned when a scan cannot be performed at all
	// (individual unreachable devices are simply absent from results).
	ErrScanFailed = errors.New("transport: scan failed")
)
