package health

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonbio/biosync-core/internal/device"
	"github.com/halcyonbio/biosync-core/internal/events"
	"github.com/halcyonbio/biosync-core/internal/transport"
)

// offlineFactor is the number of missed sweep intervals after which a
// silent device is demoted to offline.
const offlineFactor = 3

// probeTimeout bounds each GET_STATUS probe within a sweep.
const probeTimeout = 3 * time.Second

// Logger defines the logging interface used by the Monitor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SessionProvider resolves live device sessions for status probes. The
// connection coordinator satisfies it.
type SessionProvider interface {
	Session(deviceID string) (transport.Session, error)
	ConnectedIDs() []string
}

// Telemetry receives per-device health samples. The influxdb client
// satisfies it; a nil Telemetry disables the stream.
type Telemetry interface {
	WriteDeviceHealth(deviceID, status string, batteryLevel, signalQuality int)
}

// Options holds construction parameters for the Monitor.
type Options struct {
	Registry *device.Registry
	Bus      *events.Bus
	Sessions SessionProvider

	// Telemetry is optional.
	Telemetry Telemetry

	// Interval between sweeps. Zero selects 5s.
	Interval time.Duration

	// LowBatteryThreshold is the battery percentage below which a
	// one-time notification fires. Zero selects 20.
	LowBatteryThreshold int

	Logger Logger
}

// Monitor periodically sweeps the registry: devices silent for three
// intervals go offline, batteries below the threshold move the device to
// low_battery with a one-time notification, and connected devices get a
// best-effort status probe.
type Monitor struct {
	registry  *device.Registry
	bus       *events.Bus
	sessions  SessionProvider
	telemetry Telemetry
	logger    Logger

	interval  time.Duration
	threshold int

	// lowBatteryNotified tracks devices already notified, cleared when
	// the battery recovers, so each dip raises exactly one event.
	mu                 sync.Mutex
	lowBatteryNotified map[string]bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Monitor. Call Start to begin sweeping.
func New(opts Options) *Monitor {
	interval := opts.Interval
	if interval == 0 {
		interval = 5 * time.Second
	}
	threshold := opts.LowBatteryThreshold
	if threshold == 0 {
		threshold = 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Monitor{
		registry:           opts.Registry,
		bus:                opts.Bus,
		sessions:           opts.Sessions,
		telemetry:          opts.Telemetry,
		logger:             logger,
		interval:           interval,
		threshold:          threshold,
		lowBatteryNotified: make(map[string]bool),
		done:               make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop and waits for an in-flight sweep.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

// sweep runs one pass over the registry.
func (m *Monitor) sweep(ctx context.Context) {
	now := time.Now().UTC()
	silenceLimit := m.interval * offlineFactor

	for _, rec := range m.registry.All() {
		// Battery first: a device that is both depleted and silent
		// must end the sweep offline.
		m.checkBattery(rec)
		m.checkSilence(rec, now, silenceLimit)

		if m.telemetry != nil {
			m.telemetry.WriteDeviceHealth(rec.ID, string(rec.Status), rec.BatteryLevel, rec.SignalQuality)
		}
	}

	m.probeConnected(ctx)
}

// checkSilence demotes a device that has missed three intervals. The
// status change itself makes the event one-time: an already-offline device
// is skipped on later sweeps.
func (m *Monitor) checkSilence(rec device.Record, now time.Time, limit time.Duration) {
	if rec.Status == device.StatusOffline || rec.LastSeen.IsZero() {
		return
	}
	if now.Sub(rec.LastSeen) <= limit {
		return
	}

	if err := m.registry.SetStatus(rec.ID, device.StatusOffline); err != nil {
		return
	}
	m.logger.Warn("device silent, marking offline",
		"id", rec.ID, "last_seen", rec.LastSeen)
	m.bus.Publish(events.Event{
		Type:     events.TypeDeviceOffline,
		DeviceID: rec.ID,
		Data:     map[string]any{"last_seen": rec.LastSeen},
	})
}

// checkBattery moves a depleted device to low_battery and raises a
// one-time event per dip; recovery restores the online status.
func (m *Monitor) checkBattery(rec device.Record) {
	if rec.BatteryLevel < 0 {
		return
	}

	m.mu.Lock()
	notified := m.lowBatteryNotified[rec.ID]
	low := rec.BatteryLevel < m.threshold

	switch {
	case low && !notified:
		m.lowBatteryNotified[rec.ID] = true
		m.mu.Unlock()

		if rec.Status != device.StatusOffline {
			_ = m.registry.SetStatus(rec.ID, device.StatusLowBattery) //nolint:errcheck // Device may have been removed mid-sweep
		}
		m.logger.Warn("device battery low", "id", rec.ID, "level", rec.BatteryLevel)
		m.bus.Publish(events.Event{
			Type:     events.TypeLowBattery,
			DeviceID: rec.ID,
			Data:     map[string]any{"battery_level": rec.BatteryLevel},
		})

	case !low && notified:
		// Battery recovered; arm the notification again.
		delete(m.lowBatteryNotified, rec.ID)
		m.mu.Unlock()

		if rec.Status == device.StatusLowBattery {
			_ = m.registry.SetStatus(rec.ID, device.StatusOnline) //nolint:errcheck // Device may have been removed mid-sweep
		}

	default:
		m.mu.Unlock()
	}
}

// probeConnected sends a best-effort GET_STATUS to every connected device.
// A reply refreshes the device's last-seen time; failures are left to the
// silence check and the coordinator's session-loss handling.
func (m *Monitor) probeConnected(ctx context.Context) {
	for _, id := range m.sessions.ConnectedIDs() {
		sess, err := m.sessions.Session(id)
		if err != nil {
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		resp, err := sess.Send(probeCtx, transport.Envelope{
			Type:      "GET_STATUS",
			RequestID: uuid.New().String(),
		})
		cancel()
		if err != nil {
			m.logger.Debug("status probe failed", "id", id, "error", err)
			continue
		}

		m.applyProbe(id, resp)
	}
}

// probeStatus is the subset of a GET_STATUS reply the monitor consumes.
type probeStatus struct {
	BatteryLevel  int `json:"batteryLevel"`
	SignalQuality int `json:"signalQuality"`
}

func (m *Monitor) applyProbe(deviceID string, resp transport.Envelope) {
	status := probeStatus{BatteryLevel: -1, SignalQuality: -1}
	if len(resp.Data) > 0 {
		_ = json.Unmarshal(resp.Data, &status) //nolint:errcheck // Partial replies still refresh last-seen
	}
	_ = m.registry.Touch(deviceID, time.Now().UTC(), status.SignalQuality, status.BatteryLevel) //nolint:errcheck // Device may have been removed mid-sweep
}
