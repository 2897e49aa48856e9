package syncqueue

import (
	"encoding/json"
	"time"
)

// Kind classifies what an item carries to the remote.
type Kind string

// Item kinds.
const (
	KindMeasurement  Kind = "measurement"
	KindCalibration  Kind = "calibration"
	KindUserAction   Kind = "user_action"
	KindDeviceConfig Kind = "device_config"
	KindFeedback     Kind = "feedback"
	KindHealthRecord Kind = "health_record"
)

// AllKinds returns all valid item kinds.
func AllKinds() []Kind {
	return []Kind{
		KindMeasurement, KindCalibration, KindUserAction,
		KindDeviceConfig, KindFeedback, KindHealthRecord,
	}
}

// Valid reports whether k is a known item kind.
func (k Kind) Valid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Status is an item's position in the sync lifecycle.
// Transitions: pending → syncing → {synced, failed, conflict};
// failed → pending (retry); conflict → pending or deleted (resolution).
type Status string

// Item statuses.
const (
	StatusPending  Status = "pending"
	StatusSyncing  Status = "syncing"
	StatusSynced   Status = "synced"
	StatusFailed   Status = "failed"
	StatusConflict Status = "conflict"
)

// Priority orders items within a sync pass. Higher priorities always sync
// first; within one priority, older items go first.
type Priority string

// Item priorities.
const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns the sort weight of a priority; higher syncs earlier.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Item is one durable unit of outbound synchronisation work.
//
// An item is never silently dropped: it leaves the store only after the
// remote has confirmed it (synced, then deleted after a grace period) or
// through explicit removal during conflict resolution.
type Item struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	DeviceID  string          `json:"device_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`

	AttemptCount  int        `json:"attempt_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	Priority Priority `json:"priority"`
	Status   Status   `json:"status"`

	// Error holds the most recent failure description.
	Error string `json:"error,omitempty"`

	// RemoteResponse stores the server body from a conflict reply, kept
	// so the caller can inspect both versions when resolving.
	RemoteResponse string `json:"remote_response,omitempty"`

	// ForceOverwrite marks an item resolved as keep-local; the remote
	// client signals it so the server accepts the overwrite.
	ForceOverwrite bool `json:"force_overwrite"`
}
