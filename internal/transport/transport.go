package transport

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Kind identifies a physical/network channel used to reach a device.
type Kind string

// Transport kinds.
const (
	KindBLE         Kind = "ble"
	KindLAN         Kind = "lan"
	KindAccessPoint Kind = "access_point"
	KindWired       Kind = "wired"
)

// Envelope is the request message sent to a device over any transport:
// {type, params?, requestId}. The device replies with a matching
// <TYPE>_RESPONSE envelope carrying data.
type Envelope struct {
	Type      string         `json:"type"`
	Params    map[string]any `json:"params,omitempty"`
	RequestID string         `json:"requestId"`

	// Data is set on response envelopes only.
	Data json.RawMessage `json:"data,omitempty"`
}

// Well-known envelope types.
const (
	// TypeGetInfo is exchanged immediately after connection to populate
	// the device record; the reply type is TypeDeviceInfo.
	TypeGetInfo    = "GET_INFO"
	TypeDeviceInfo = "DEVICE_INFO"
)

// ResponseType returns the expected reply type for a request type.
func ResponseType(requestType string) string {
	if requestType == TypeGetInfo {
		return TypeDeviceInfo
	}
	return requestType + "_RESPONSE"
}

// IsResponseTo reports whether e answers a request of the given type and ID.
func (e Envelope) IsResponseTo(requestType, requestID string) bool {
	return e.RequestID == requestID &&
		(e.Type == ResponseType(requestType) || strings.HasSuffix(e.Type, "_RESPONSE"))
}

// DeviceInfo is the payload of a DEVICE_INFO reply.
type DeviceInfo struct {
	ID              string   `json:"id"`
	Serial          string   `json:"serial"`
	Name            string   `json:"name"`
	Model           string   `json:"model"`
	FirmwareVersion string   `json:"firmwareVersion"`
	Capabilities    []string `json:"capabilities"`
	BatteryLevel    int      `json:"batteryLevel"`
}

// Discovered describes a device found by a transport scan but not yet
// connected.
type Discovered struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Kind          Kind   `json:"transportType"`
	SignalQuality int    `json:"signalQuality"`
	Paired        bool   `json:"isPaired"`
}

// Driver is the per-transport adapter contract. Implementations wrap the
// actual radio/network stacks (which are external collaborators) and are
// expected to be safe for concurrent use.
type Driver interface {
	// Kind identifies the transport this driver serves.
	Kind() Kind

	// Scan discovers reachable devices within the timeout.
	Scan(ctx context.Context, timeout time.Duration) ([]Discovered, error)

	// Connect opens a session to one device. address may be empty for
	// transports that address devices by ID alone.
	Connect(ctx context.Context, deviceID, address string) (Session, error)
}

// Session is one live connection to one device.
type Session interface {
	// Send transmits a request envelope and waits for the matching
	// response or ctx cancellation/timeout.
	Send(ctx context.Context, req Envelope) (Envelope, error)

	// Close tears the session down. Closing twice is safe.
	Close() error

	// SetOnClose registers a callback invoked exactly once when the
	// session ends, with a nil error for deliberate closes and the
	// cause for unexpected losses. Registering on a session that has
	// already ended invokes the callback immediately.
	SetOnClose(fn func(err error))

	// Kind identifies the transport carrying this session.
	Kind() Kind

	// RemoteAddress returns the transport-specific peer address.
	RemoteAddress() string
}
