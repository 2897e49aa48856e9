package device

import (
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the in-memory table of known devices: the single source of
// truth for "what do we know about device X right now".
//
// It holds exactly one record per device ID. Updates are atomic
// replacements of whole records - concurrent readers never observe a
// partially-written record. The registry performs no I/O.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	logger  Logger
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*Record),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Upsert inserts or replaces the record for rec.ID.
// The registry stores its own copy; the caller keeps ownership of rec.
func (r *Registry) Upsert(rec *Record) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidRecord
	}

	r.mu.Lock()
	_, existed := r.records[rec.ID]
	r.records[rec.ID] = rec.Copy()
	r.mu.Unlock()

	if existed {
		r.logger.Debug("device updated", "id", rec.ID, "status", rec.Status)
	} else {
		r.logger.Info("device registered", "id", rec.ID, "name", rec.Name)
	}
	return nil
}

// Get retrieves a device by ID.
// Returns ErrNotFound if the device does not exist.
// The returned record is a copy; callers can safely modify it.
func (r *Registry) Get(id string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Copy(), nil
}

// All returns copies of every record in the registry.
func (r *Registry) All() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		records = append(records, *rec.Copy())
	}
	return records
}

// ByStatus returns copies of all records with the given status.
func (r *Registry) ByStatus(status Status) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []Record
	for _, rec := range r.records {
		if rec.Status == status {
			records = append(records, *rec.Copy())
		}
	}
	return records
}

// ByConnectionType returns copies of all records on the given transport.
func (r *Registry) ByConnectionType(ct ConnectionType) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []Record
	for _, rec := range r.records {
		if rec.ConnectionType == ct {
			records = append(records, *rec.Copy())
		}
	}
	return records
}

// ByCapability returns copies of all records listing the given capability.
func (r *Registry) ByCapability(c Capability) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []Record
	for _, rec := range r.records {
		if rec.HasCapability(c) {
			records = append(records, *rec.Copy())
		}
	}
	return records
}

// Count returns total/online/offline occupancy.
func (r *Registry) Count() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := Counts{Total: len(r.records)}
	for _, rec := range r.records {
		switch rec.Status {
		case StatusOffline:
			counts.Offline++
		default:
			// Everything except offline counts as reachable.
			counts.Online++
		}
	}
	return counts
}

// Remove deletes a device record. Destruction is always explicit:
// only disconnect/removal paths call this.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return ErrNotFound
	}
	delete(r.records, id)

	r.logger.Info("device removed", "id", id)
	return nil
}

// SetStatus atomically replaces the record with one carrying the new
// status. Returns ErrNotFound if the device does not exist.
func (r *Registry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}

	updated := rec.Copy()
	updated.Status = status
	if status == StatusOffline {
		updated.ConnectionType = ConnectionDisconnected
	}
	r.records[id] = updated

	r.logger.Debug("device status changed", "id", id, "status", status)
	return nil
}

// Touch updates the LastSeen timestamp, optionally with fresh signal and
// battery readings (pass -1 to leave either unchanged).
func (r *Registry) Touch(id string, at time.Time, signalQuality, batteryLevel int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}

	updated := rec.Copy()
	updated.LastSeen = at
	if signalQuality >= 0 {
		updated.SignalQuality = signalQuality
	}
	if batteryLevel >= 0 {
		updated.BatteryLevel = batteryLevel
	}
	r.records[id] = updated
	return nil
}

// RecordMeasurement increments the measurement counter and stamps
// LastMeasurement and LastSeen.
func (r *Registry) RecordMeasurement(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}

	updated := rec.Copy()
	updated.MeasurementCount++
	updated.LastMeasurement = &at
	updated.LastSeen = at
	r.records[id] = updated
	return nil
}

// RecordError increments the error counter.
func (r *Registry) RecordError(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}

	updated := rec.Copy()
	updated.ErrorCount++
	r.records[id] = updated
	return nil
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	Total            int
	ByStatus         map[Status]int
	ByConnectionType map[ConnectionType]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Total:            len(r.records),
		ByStatus:         make(map[Status]int),
		ByConnectionType: make(map[ConnectionType]int),
	}

	for _, rec := range r.records {
		stats.ByStatus[rec.Status]++
		stats.ByConnectionType[rec.ConnectionType]++
	}

	return stats
}
