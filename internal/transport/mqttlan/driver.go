package mqttlan

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/halcyonbio/biosync-core/internal/infrastructure/config"
	"github.com/halcyonbio/biosync-core/internal/transport"
)

// Default timeouts for broker operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultTokenTimeout   = 5 * time.Second
)

// Logger interface for optional logging support.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Driver is the LAN transport adapter. Devices on the local network attach
// to the same MQTT broker and expose a request/response RPC surface:
//
//	biosync/device/<id>/presence      retained presence announcements
//	biosync/device/<id>/rpc           request envelopes (core → device)
//	biosync/device/<id>/rpc/response  response envelopes (device → core)
//
// Thread Safety: all methods are safe for concurrent use.
type Driver struct {
	client pahomqtt.Client
	qos    byte

	// sessions tracks open sessions by device ID so broker loss can
	// propagate to every session's OnClose hook.
	sessions   map[string]*session
	sessionsMu sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// presence is the retained announcement each device publishes.
type presence struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	SignalQuality int    `json:"signalQuality"`
	Paired        bool   `json:"isPaired"`
	Online        bool   `json:"online"`
}

// Connect establishes the broker connection and returns a ready driver.
func Connect(cfg config.MQTTConfig) (*Driver, error) {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetAutoReconnect(true).
		SetOrderMatters(false)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	d := &Driver{
		qos:      byte(cfg.QoS),
		sessions: make(map[string]*session),
	}

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		d.handleBrokerLost(err)
	})

	d.client = pahomqtt.NewClient(opts)
	token := d.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: broker connect timeout after %v",
			transport.ErrConnectFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrConnectFailed, err)
	}

	return d, nil
}

// Kind identifies this driver as the LAN transport.
func (d *Driver) Kind() transport.Kind {
	return transport.KindLAN
}

// SetLogger sets an optional logger for handler errors.
func (d *Driver) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

// Scan collects retained presence announcements for the timeout window.
// Devices that have announced themselves on the broker appear in the
// result; offline announcements are skipped.
func (d *Driver) Scan(ctx context.Context, timeout time.Duration) ([]transport.Discovered, error) {
	var (
		mu    sync.Mutex
		found = make(map[string]transport.Discovered)
	)

	topic := "biosync/device/+/presence"
	token := d.client.Subscribe(topic, d.qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		var p presence
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			d.logWarn("malformed presence payload", "topic", msg.Topic(), "error", err)
			return
		}
		if !p.Online || p.ID == "" {
			return
		}

		mu.Lock()
		found[p.ID] = transport.Discovered{
			ID:            p.ID,
			Name:          p.Name,
			Kind:          transport.KindLAN,
			SignalQuality: p.SignalQuality,
			Paired:        p.Paired,
		}
		mu.Unlock()
	})
	if !token.WaitTimeout(defaultTokenTimeout) || token.Error() != nil {
		return nil, fmt.Errorf("%w: presence subscribe: %v", transport.ErrScanFailed, token.Error())
	}
	defer d.client.Unsubscribe(topic)

	select {
	case <-ctx.Done():
	case <-time.After(timeout):
	}

	mu.Lock()
	defer mu.Unlock()
	devices := make([]transport.Discovered, 0, len(found))
	for _, dev := range found {
		devices = append(devices, dev)
	}
	return devices, nil
}

// Connect opens an RPC session to one device over the broker.
// The address parameter is unused; LAN devices are addressed by ID.
func (d *Driver) Connect(_ context.Context, deviceID, _ string) (transport.Session, error) {
	s := &session{
		driver:   d,
		deviceID: deviceID,
		pending:  make(map[string]chan transport.Envelope),
		done:     make(chan struct{}),
	}

	respTopic := fmt.Sprintf("biosync/device/%s/rpc/response", deviceID)
	token := d.client.Subscribe(respTopic, d.qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		s.handleResponse(msg.Payload())
	})
	if !token.WaitTimeout(defaultTokenTimeout) || token.Error() != nil {
		return nil, fmt.Errorf("%w: response subscribe for %s: %v",
			transport.ErrConnectFailed, deviceID, token.Error())
	}

	// Watch the device's presence topic so a device dropping off the
	// broker surfaces as a session loss.
	presTopic := fmt.Sprintf("biosync/device/%s/presence", deviceID)
	token = d.client.Subscribe(presTopic, d.qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		var p presence
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			return
		}
		if !p.Online {
			s.closeWith(fmt.Errorf("%w: device went offline", transport.ErrSessionClosed))
		}
	})
	if !token.WaitTimeout(defaultTokenTimeout) || token.Error() != nil {
		d.client.Unsubscribe(respTopic)
		return nil, fmt.Errorf("%w: presence subscribe for %s: %v",
			transport.ErrConnectFailed, deviceID, token.Error())
	}

	d.sessionsMu.Lock()
	d.sessions[deviceID] = s
	d.sessionsMu.Unlock()

	return s, nil
}

// Close disconnects from the broker, ending all sessions.
func (d *Driver) Close() {
	d.handleBrokerLost(fmt.Errorf("%w: driver closed", transport.ErrSessionClosed))
	d.client.Disconnect(250)
}

// handleBrokerLost fails every open session when the broker drops.
func (d *Driver) handleBrokerLost(err error) {
	d.sessionsMu.Lock()
	open := make([]*session, 0, len(d.sessions))
	for _, s := range d.sessions {
		open = append(open, s)
	}
	d.sessionsMu.Unlock()

	for _, s := range open {
		s.closeWith(fmt.Errorf("%w: broker connection lost: %v", transport.ErrSessionClosed, err))
	}
}

// dropSession removes bookkeeping for a finished session.
func (d *Driver) dropSession(deviceID string) {
	d.sessionsMu.Lock()
	delete(d.sessions, deviceID)
	d.sessionsMu.Unlock()

	d.client.Unsubscribe(
		fmt.Sprintf("biosync/device/%s/rpc/response", deviceID),
		fmt.Sprintf("biosync/device/%s/presence", deviceID),
	)
}

func (d *Driver) logWarn(msg string, args ...any) {
	d.loggerMu.RLock()
	logger := d.logger
	d.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, args...)
	}
}

// session is one device's RPC channel over the shared broker connection.
type session struct {
	driver   *Driver
	deviceID string

	pending   map[string]chan transport.Envelope
	pendingMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	onCloseMu sync.Mutex
	onClose   func(err error)
	closed    bool
	closeErr  error
}

// Send publishes a request envelope and waits for the matching response.
func (s *session) Send(ctx context.Context, req transport.Envelope) (transport.Envelope, error) {
	select {
	case <-s.done:
		return transport.Envelope{}, transport.ErrSessionClosed
	default:
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return transport.Envelope{}, fmt.Errorf("marshalling envelope: %w", err)
	}

	respCh := make(chan transport.Envelope, 1)
	s.pendingMu.Lock()
	s.pending[req.RequestID] = respCh
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, req.RequestID)
		s.pendingMu.Unlock()
	}()

	topic := fmt.Sprintf("biosync/device/%s/rpc", s.deviceID)
	token := s.driver.client.Publish(topic, s.driver.qos, false, payload)
	if !token.WaitTimeout(defaultTokenTimeout) {
		return transport.Envelope{}, fmt.Errorf("publish timeout for %s", s.deviceID)
	}
	if err := token.Error(); err != nil {
		return transport.Envelope{}, fmt.Errorf("publishing request: %w", err)
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-s.done:
		return transport.Envelope{}, transport.ErrSessionClosed
	case <-ctx.Done():
		return transport.Envelope{}, ctx.Err()
	}
}

// handleResponse routes an incoming response to the waiting Send call.
func (s *session) handleResponse(payload []byte) {
	var env transport.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		s.driver.logWarn("malformed response payload", "device", s.deviceID, "error", err)
		return
	}

	s.pendingMu.Lock()
	ch, ok := s.pending[env.RequestID]
	s.pendingMu.Unlock()

	if ok {
		select {
		case ch <- env:
		default:
			// Duplicate response for an already-answered request.
		}
	}
}

// Close ends the session deliberately.
func (s *session) Close() error {
	s.closeWith(nil)
	return nil
}

// closeWith ends the session once, firing the OnClose hook with err.
func (s *session) closeWith(err error) {
	s.closeOnce.Do(func() {
		close(s.done)
		s.driver.dropSession(s.deviceID)

		s.onCloseMu.Lock()
		s.closed = true
		s.closeErr = err
		fn := s.onClose
		s.onCloseMu.Unlock()
		if fn != nil {
			fn(err)
		}
	})
}

// SetOnClose registers the session-loss callback. On a session that has
// already ended the callback fires immediately, so a loss racing the
// registration is never dropped.
func (s *session) SetOnClose(fn func(err error)) {
	s.onCloseMu.Lock()
	if s.closed {
		err := s.closeErr
		s.onCloseMu.Unlock()
		fn(err)
		return
	}
	s.onClose = fn
	s.onCloseMu.Unlock()
}

// Kind identifies the carrying transport.
func (s *session) Kind() transport.Kind {
	return transport.KindLAN
}

// RemoteAddress returns the device's broker identity.
func (s *session) RemoteAddress() string {
	return fmt.Sprintf("mqtt:%s", s.deviceID)
}
