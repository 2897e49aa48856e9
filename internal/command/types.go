package command

import (
	"encoding/json"
	"strings"
	"time"
)

// Kind identifies a device command.
type Kind string

// Command kinds understood by measurement devices.
const (
	KindStartMeasurement Kind = "start_measurement"
	KindStopMeasurement  Kind = "stop_measurement"
	KindCalibrate        Kind = "calibrate"
	KindGetStatus        Kind = "get_status"
	KindSetConfig        Kind = "set_config"
	KindRestart          Kind = "restart"
	KindFirmwareUpdate   Kind = "firmware_update"
	KindSleep            Kind = "sleep"
	KindWake             Kind = "wake"
)

// AllKinds returns all valid command kinds.
func AllKinds() []Kind {
	return []Kind{
		KindStartMeasurement, KindStopMeasurement, KindCalibrate,
		KindGetStatus, KindSetConfig, KindRestart, KindFirmwareUpdate,
		KindSleep, KindWake,
	}
}

// Valid reports whether k is a known command kind.
func (k Kind) Valid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// EnvelopeType returns the wire type for this kind, e.g. calibrate
// becomes CALIBRATE.
func (k Kind) EnvelopeType() string {
	return strings.ToUpper(string(k))
}

// Priority is a dispatch hint carried to the device. Stop and calibrate
// commands default to high.
type Priority string

// Priorities, lowest to highest.
const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// DefaultPriority returns the default priority for a command kind.
func DefaultPriority(k Kind) Priority {
	switch k {
	case KindStopMeasurement, KindCalibrate:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// StartMeasurementParams configures a start_measurement command.
type StartMeasurementParams struct {
	// MeasurementType selects the assay, e.g. glucose or lactate.
	MeasurementType string `json:"measurementType"`

	// Continuous requests streaming mode on devices that support it.
	Continuous bool `json:"continuous,omitempty"`

	// IntervalSeconds sets the sampling interval in continuous mode.
	IntervalSeconds int `json:"intervalSeconds,omitempty"`
}

// CalibrateParams configures a calibrate command.
type CalibrateParams struct {
	// ReferenceValue is the known concentration of the calibration
	// solution, in the device's native unit.
	ReferenceValue float64 `json:"referenceValue"`

	// SolutionLot identifies the calibration solution batch.
	SolutionLot string `json:"solutionLot,omitempty"`
}

// SetConfigParams carries device configuration key/value updates.
type SetConfigParams struct {
	Settings map[string]any `json:"settings"`
}

// FirmwareUpdateParams points a device at a firmware image.
type FirmwareUpdateParams struct {
	Version string `json:"version"`
	URL     string `json:"url"`
	SHA256  string `json:"sha256"`
}

// Request addresses one command at one or more devices.
type Request struct {
	Kind    Kind
	Targets []string

	// Params is the kind-specific parameter struct (or nil). It is
	// flattened into the wire envelope's params object.
	Params any

	// Priority defaults per kind when empty.
	Priority Priority

	// Timeout bounds each device's round trip. Zero selects the
	// dispatcher default.
	Timeout time.Duration
}

// Result is the per-device outcome of a dispatched command. A failure on
// one device never affects the others in the same request.
type Result struct {
	DeviceID  string          `json:"device_id"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Err       error           `json:"-"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Latency   time.Duration   `json:"latency"`
}

// paramsToMap flattens a typed params struct into the envelope's params
// object.
func paramsToMap(params any) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
