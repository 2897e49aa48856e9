package device

import "time"

// Record represents a known measurement device and its live state.
//
// Records are owned exclusively by the Registry; the connection coordinator
// and health monitor mutate them through Registry methods, and they are
// removed only on explicit disconnect/removal, never implicitly.
type Record struct {
	// Identity
	ID              string `json:"id"`
	Serial          string `json:"serial"`
	Name            string `json:"name"`
	Model           string `json:"model"`
	FirmwareVersion string `json:"firmware_version"`

	// Transport state
	ConnectionType ConnectionType `json:"connection_type"`
	SignalQuality  int            `json:"signal_quality"` // 0-100
	Address        string         `json:"address"`

	// Operational state
	Status Status `json:"status"`

	// Capabilities
	Capabilities []Capability `json:"capabilities"`

	// Counters
	MeasurementCount int `json:"measurement_count"`
	ErrorCount       int `json:"error_count"`
	UptimeSeconds    int `json:"uptime_seconds"`
	BatteryLevel     int `json:"battery_level"` // 0-100, -1 when unknown

	// Timestamps
	LastSeen        time.Time  `json:"last_seen"`
	LastMeasurement *time.Time `json:"last_measurement,omitempty"`
}

// Copy returns an independent copy of the Record.
// The registry stores and returns copies so concurrent readers never
// observe a partially-written record.
func (r *Record) Copy() *Record {
	if r == nil {
		return nil
	}

	cpy := *r

	if r.Capabilities != nil {
		cpy.Capabilities = make([]Capability, len(r.Capabilities))
		copy(cpy.Capabilities, r.Capabilities)
	}

	return &cpy
}

// HasCapability reports whether the record lists the given capability.
func (r *Record) HasCapability(c Capability) bool {
	for _, cap := range r.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// ConnectionType represents the transport a device is reachable over.
type ConnectionType string

// ConnectionType constants.
const (
	ConnectionBLE          ConnectionType = "ble"
	ConnectionLAN          ConnectionType = "lan"
	ConnectionAccessPoint  ConnectionType = "access_point"
	ConnectionWired        ConnectionType = "wired"
	ConnectionDisconnected ConnectionType = "disconnected"
)

// AllConnectionTypes returns all valid connection type values.
func AllConnectionTypes() []ConnectionType {
	return []ConnectionType{
		ConnectionBLE, ConnectionLAN, ConnectionAccessPoint,
		ConnectionWired, ConnectionDisconnected,
	}
}

// Status represents the operational state of a device.
type Status string

// Status constants.
const (
	StatusOnline      Status = "online"
	StatusOffline     Status = "offline"
	StatusConnecting  Status = "connecting"
	StatusMeasuring   Status = "measuring"
	StatusCalibrating Status = "calibrating"
	StatusError       Status = "error"
	StatusLowBattery  Status = "low_battery"
)

// AllStatuses returns all valid status values.
func AllStatuses() []Status {
	return []Status{
		StatusOnline, StatusOffline, StatusConnecting, StatusMeasuring,
		StatusCalibrating, StatusError, StatusLowBattery,
	}
}

// Capability represents what a device can measure or do.
type Capability string

// Capability constants.
const (
	CapGlucose        Capability = "glucose"
	CapLactate        Capability = "lactate"
	CapKetone         Capability = "ketone"
	CapContinuous     Capability = "continuous"
	CapCalibration    Capability = "calibration"
	CapFirmwareUpdate Capability = "firmware_update"
	CapSleepWake      Capability = "sleep_wake"
)

// AllCapabilities returns all valid capability values.
func AllCapabilities() []Capability {
	return []Capability{
		CapGlucose, CapLactate, CapKetone, CapContinuous,
		CapCalibration, CapFirmwareUpdate, CapSleepWake,
	}
}

// Counts summarises registry occupancy.
type Counts struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
}

// Group is a named set of device IDs used purely for addressing bulk
// commands. Groups have no lifecycle beyond create/add/remove/delete.
type Group struct {
	Name    string
	Members map[string]struct{}
}
