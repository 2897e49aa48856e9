package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonbio/biosync-core/internal/device"
	"github.com/halcyonbio/biosync-core/internal/events"
	"github.com/halcyonbio/biosync-core/internal/transport"
)

// infoExchangeTimeout bounds the GET_INFO exchange after connecting.
const infoExchangeTimeout = 5 * time.Second

// Logger defines the logging interface used by the Coordinator.
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

// Options holds construction parameters for the Coordinator.
type Options struct {
	// Registry receives device records as sessions come and go.
	Registry *device.Registry

	// Bus carries device lifecycle and network-mode events.
	Bus *events.Bus

	// Drivers are the available transport adapters, at most one per kind.
	Drivers []transport.Driver

	// MaxBLEConnections is the hard ceiling on simultaneous BLE
	// sessions. Zero selects the default of 7.
	MaxBLEConnections int

	// ReconnectAttempts is the number of automatic reconnection attempts
	// after an unexpected session loss. Zero selects the default of 3.
	ReconnectAttempts int

	// ReconnectBaseDelay is the base reconnect delay; the wait before
	// attempt n is base × n. Zero selects the default of 2s.
	ReconnectBaseDelay time.Duration

	// CloudProbeURL and LocalProbeURL drive network-mode detection.
	CloudProbeURL string
	LocalProbeURL string

	// ProbeTimeout bounds each network probe. Zero selects 5s.
	ProbeTimeout time.Duration

	// ModeProbeInterval is the period between network-mode re-probes,
	// so connectivity restored without a platform signal is still
	// noticed. Zero selects 30s.
	ModeProbeInterval time.Duration

	// Logger is optional structured logging.
	Logger Logger
}

// Coordinator owns the scan → connect → identify → monitor → reconnect
// lifecycle for every device session, and enforces the per-transport
// admission limits.
//
// Construct one per process and inject it where needed; tests may create
// isolated instances freely.
//
// Thread Safety: all methods are safe for concurrent use.
type Coordinator struct {
	registry *device.Registry
	bus      *events.Bus
	drivers  map[transport.Kind]transport.Driver
	logger   Logger

	maxBLE        int
	attempts      int
	baseDelay     time.Duration
	probeInterval time.Duration

	// sessionMu guards sessions and bleCount together so the BLE
	// admission check-and-increment is atomic: two racing connects can
	// never both claim the last slot.
	sessionMu sync.Mutex
	sessions  map[string]transport.Session
	bleCount  int

	// scanMu guards the per-transport scan exclusivity flags.
	scanMu sync.Mutex
	scans  map[transport.Kind]bool

	// reconnectMu guards the per-device reconnect cancellation channels.
	reconnectMu sync.Mutex
	reconnects  map[string]chan struct{}

	// Network-mode detection state (netmode.go).
	probe  prober
	modeMu sync.RWMutex
	mode   NetworkMode

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Coordinator. Call Start to run network-mode detection and
// Stop for graceful teardown.
func New(opts Options) *Coordinator {
	maxBLE := opts.MaxBLEConnections
	if maxBLE == 0 {
		maxBLE = 7
	}
	attempts := opts.ReconnectAttempts
	if attempts == 0 {
		attempts = 3
	}
	baseDelay := opts.ReconnectBaseDelay
	if baseDelay == 0 {
		baseDelay = 2 * time.Second
	}
	probeInterval := opts.ModeProbeInterval
	if probeInterval == 0 {
		probeInterval = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	drivers := make(map[transport.Kind]transport.Driver, len(opts.Drivers))
	for _, d := range opts.Drivers {
		drivers[d.Kind()] = d
	}

	return &Coordinator{
		registry:      opts.Registry,
		bus:           opts.Bus,
		drivers:       drivers,
		logger:        logger,
		maxBLE:        maxBLE,
		attempts:      attempts,
		baseDelay:     baseDelay,
		probeInterval: probeInterval,
		sessions:      make(map[string]transport.Session),
		scans:         make(map[transport.Kind]bool),
		reconnects:    make(map[string]chan struct{}),
		probe: newHTTPProber(proberConfig{
			cloudURL: opts.CloudProbeURL,
			localURL: opts.LocalProbeURL,
			timeout:  opts.ProbeTimeout,
		}),
		mode: ModeOffline,
		done: make(chan struct{}),
	}
}

// Start runs network-mode detection: once immediately, then periodically,
// so a host that boots offline notices restored connectivity without any
// platform signal. Device operations do not depend on the mode; they
// address devices directly.
func (c *Coordinator) Start(ctx context.Context) {
	c.detectNetworkMode(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.probeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-c.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.detectNetworkMode(ctx)
			}
		}
	}()
}

// Stop tears down every session and cancels pending reconnects.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.DisconnectAll()
		c.wg.Wait()
	})
}

// Scan discovers devices on one transport. Only one scan per transport
// may run at a time; a concurrent call fails with ErrScanInProgress.
func (c *Coordinator) Scan(ctx context.Context, kind transport.Kind, timeout time.Duration) ([]transport.Discovered, error) {
	driver, ok := c.drivers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransportUnavailable, kind)
	}

	c.scanMu.Lock()
	if c.scans[kind] {
		c.scanMu.Unlock()
		return nil, ErrScanInProgress
	}
	c.scans[kind] = true
	c.scanMu.Unlock()

	defer func() {
		c.scanMu.Lock()
		c.scans[kind] = false
		c.scanMu.Unlock()
	}()

	c.logger.Info("scanning for devices", "transport", kind, "timeout", timeout)
	return driver.Scan(ctx, timeout)
}

// Connect opens a session to a device, identifies it with a GET_INFO
// exchange, and registers it as online.
//
// For the BLE transport the configured session ceiling is enforced
// atomically at admission time; when full, the error directs the caller
// to the LAN transport.
func (c *Coordinator) Connect(ctx context.Context, deviceID string, kind transport.Kind, address string) (*device.Record, error) {
	driver, ok := c.drivers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransportUnavailable, kind)
	}

	// Admission: reserve the slot before any I/O.
	c.sessionMu.Lock()
	if _, exists := c.sessions[deviceID]; exists {
		c.sessionMu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConnected, deviceID)
	}
	if kind == transport.KindBLE {
		if c.bleCount >= c.maxBLE {
			c.sessionMu.Unlock()
			return nil, fmt.Errorf("%w (limit %d)", ErrConnectionLimitExceeded, c.maxBLE)
		}
		c.bleCount++
	}
	// Placeholder claims the device ID so racing connects to the same
	// device fail fast while we dial.
	c.sessions[deviceID] = nil
	c.sessionMu.Unlock()

	release := func() {
		c.sessionMu.Lock()
		delete(c.sessions, deviceID)
		if kind == transport.KindBLE {
			c.bleCount--
		}
		c.sessionMu.Unlock()
	}

	// Mark connecting if the device is already known.
	_ = c.registry.SetStatus(deviceID, device.StatusConnecting) //nolint:errcheck // Unknown devices registered below

	sess, err := driver.Connect(ctx, deviceID, address)
	if err != nil {
		release()
		_ = c.registry.SetStatus(deviceID, device.StatusOffline) //nolint:errcheck // May not exist yet
		return nil, fmt.Errorf("connecting %s over %s: %w", deviceID, kind, err)
	}

	rec, err := c.identify(ctx, deviceID, sess)
	if err != nil {
		sess.Close() //nolint:errcheck // Already failing
		release()
		_ = c.registry.SetStatus(deviceID, device.StatusError) //nolint:errcheck // May not exist yet
		return nil, fmt.Errorf("identifying %s: %w", deviceID, err)
	}

	if err := c.registry.Upsert(rec); err != nil {
		// Only possible with an empty ID, which identify rejects.
		c.logger.Error("registering device failed", "id", deviceID, "error", err)
	}

	// Register the loss hook before exposing the session. Sessions that
	// have already ended fire the hook immediately, so a loss in this
	// window still releases the slot.
	sess.SetOnClose(func(closeErr error) {
		c.handleSessionLoss(deviceID, kind, address, closeErr)
	})

	c.sessionMu.Lock()
	if _, held := c.sessions[deviceID]; held {
		c.sessions[deviceID] = sess
	}
	c.sessionMu.Unlock()

	c.bus.Publish(events.Event{
		Type:     events.TypeDeviceConnected,
		DeviceID: deviceID,
		Data:     map[string]any{"transport": string(kind)},
	})
	c.logger.Info("device connected", "id", deviceID, "transport", kind)

	return rec, nil
}

// identify runs the GET_INFO / DEVICE_INFO exchange and builds the record.
func (c *Coordinator) identify(ctx context.Context, deviceID string, sess transport.Session) (*device.Record, error) {
	infoCtx, cancel := context.WithTimeout(ctx, infoExchangeTimeout)
	defer cancel()

	resp, err := sess.Send(infoCtx, transport.Envelope{
		Type:      transport.TypeGetInfo,
		RequestID: uuid.New().String(),
	})
	if err != nil {
		return nil, fmt.Errorf("info exchange: %w", err)
	}

	var info transport.DeviceInfo
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		return nil, fmt.Errorf("parsing device info: %w", err)
	}
	if info.ID == "" {
		info.ID = deviceID
	}

	caps := make([]device.Capability, 0, len(info.Capabilities))
	for _, cap := range info.Capabilities {
		caps = append(caps, device.Capability(cap))
	}

	return &device.Record{
		ID:              info.ID,
		Serial:          info.Serial,
		Name:            info.Name,
		Model:           info.Model,
		FirmwareVersion: info.FirmwareVersion,
		ConnectionType:  device.ConnectionType(sess.Kind()),
		Address:         sess.RemoteAddress(),
		Status:          device.StatusOnline,
		Capabilities:    caps,
		BatteryLevel:    info.BatteryLevel,
		LastSeen:        time.Now().UTC(),
	}, nil
}

// Disconnect tears down a device's session (best effort) and always
// cancels any reconnect scheduled for it.
func (c *Coordinator) Disconnect(deviceID string) error {
	c.cancelReconnect(deviceID)

	c.sessionMu.Lock()
	sess, ok := c.sessions[deviceID]
	c.sessionMu.Unlock()

	if !ok || sess == nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, deviceID)
	}

	// Close fires the OnClose hook with a nil error; session accounting
	// and registry demotion happen there.
	return sess.Close()
}

// DisconnectAll tears down every active session.
func (c *Coordinator) DisconnectAll() {
	c.sessionMu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.sessionMu.Unlock()

	for _, id := range ids {
		if err := c.Disconnect(id); err != nil {
			c.logger.Debug("disconnect skipped", "id", id, "reason", err.Error())
		}
	}
}

// Session returns the active session for a device, used by the command
// dispatcher. Returns ErrNotConnected if the device has no session.
func (c *Coordinator) Session(deviceID string) (transport.Session, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	sess, ok := c.sessions[deviceID]
	if !ok || sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, deviceID)
	}
	return sess, nil
}

// ConnectedIDs returns the IDs of all devices with active sessions.
func (c *Coordinator) ConnectedIDs() []string {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	ids := make([]string, 0, len(c.sessions))
	for id, sess := range c.sessions {
		if sess != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// handleSessionLoss releases the session slot, demotes the device, and on
// unexpected losses schedules reconnection.
func (c *Coordinator) handleSessionLoss(deviceID string, kind transport.Kind, address string, closeErr error) {
	c.sessionMu.Lock()
	delete(c.sessions, deviceID)
	if kind == transport.KindBLE {
		c.bleCount--
	}
	c.sessionMu.Unlock()

	// Offline also sets ConnectionType to disconnected.
	_ = c.registry.SetStatus(deviceID, device.StatusOffline) //nolint:errcheck // Device may have been removed

	c.bus.Publish(events.Event{
		Type:     events.TypeDeviceDisconnected,
		DeviceID: deviceID,
	})

	if closeErr == nil {
		// Deliberate disconnect; no reconnection.
		c.logger.Info("device disconnected", "id", deviceID)
		return
	}

	c.logger.Warn("session lost", "id", deviceID, "error", closeErr)
	c.scheduleReconnect(deviceID, kind, address)
}

// scheduleReconnect launches the bounded reconnect loop for one device.
// Delays grow linearly: baseDelay × attempt number. After the configured
// attempts the device stays offline for manual reconnection.
func (c *Coordinator) scheduleReconnect(deviceID string, kind transport.Kind, address string) {
	cancel := make(chan struct{})

	c.reconnectMu.Lock()
	if prev, ok := c.reconnects[deviceID]; ok {
		close(prev)
	}
	c.reconnects[deviceID] = cancel
	c.reconnectMu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.clearReconnect(deviceID, cancel)

		for attempt := 1; attempt <= c.attempts; attempt++ {
			delay := c.baseDelay * time.Duration(attempt)

			select {
			case <-c.done:
				return
			case <-cancel:
				return
			case <-time.After(delay):
			}

			c.logger.Info("reconnect attempt",
				"id", deviceID, "attempt", attempt, "of", c.attempts)

			ctx, ctxCancel := context.WithTimeout(context.Background(), infoExchangeTimeout*2)
			_, err := c.Connect(ctx, deviceID, kind, address)
			ctxCancel()

			if err == nil {
				return
			}
			c.logger.Warn("reconnect failed", "id", deviceID, "attempt", attempt, "error", err)
		}

		c.logger.Warn("reconnect abandoned, device left offline", "id", deviceID)
	}()
}

// cancelReconnect stops any pending reconnect loop for a device.
func (c *Coordinator) cancelReconnect(deviceID string) {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	if ch, ok := c.reconnects[deviceID]; ok {
		close(ch)
		delete(c.reconnects, deviceID)
	}
}

// clearReconnect removes bookkeeping when a reconnect loop exits, unless
// a newer loop has replaced it.
func (c *Coordinator) clearReconnect(deviceID string, own chan struct{}) {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	if current, ok := c.reconnects[deviceID]; ok && current == own {
		delete(c.reconnects, deviceID)
	}
}
