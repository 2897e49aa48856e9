package wsap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/halcyonbio/biosync-core/internal/transport"
)

// defaultGatewayAddress is the conventional address a device assigns
// itself when hosting its own access point.
const defaultGatewayAddress = "192.168.4.1"

// handshakeTimeout bounds the websocket dial.
const handshakeTimeout = 10 * time.Second

// Driver is the device-hosted access-point transport adapter. When a
// device exposes its own WiFi network, the host joins it and the device
// serves a websocket RPC endpoint at ws://<address>/rpc.
type Driver struct {
	// Gateway overrides the conventional AP gateway address for Scan.
	Gateway string
}

// NewDriver creates an access-point driver.
func NewDriver() *Driver {
	return &Driver{Gateway: defaultGatewayAddress}
}

// Kind identifies this driver as the access-point transport.
func (d *Driver) Kind() transport.Kind {
	return transport.KindAccessPoint
}

// Scan probes the AP gateway address. At most one device is reachable in
// access-point mode - the one whose network we have joined - so the result
// is empty or a single entry.
func (d *Driver) Scan(ctx context.Context, timeout time.Duration) ([]transport.Discovered, error) {
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sess, err := d.dial(scanCtx, d.Gateway)
	if err != nil {
		// Nothing hosting an AP at the gateway; not a scan failure.
		return nil, nil
	}
	defer sess.Close() //nolint:errcheck // Probe session, best-effort teardown

	resp, err := sess.Send(scanCtx, transport.Envelope{
		Type:      transport.TypeGetInfo,
		RequestID: uuid.New().String(),
	})
	if err != nil {
		return nil, nil
	}

	var info transport.DeviceInfo
	if err := json.Unmarshal(resp.Data, &info); err != nil || info.ID == "" {
		return nil, fmt.Errorf("%w: malformed device info", transport.ErrScanFailed)
	}

	return []transport.Discovered{{
		ID:            info.ID,
		Name:          info.Name,
		Kind:          transport.KindAccessPoint,
		SignalQuality: 100, // Direct AP link
		Paired:        true,
	}}, nil
}

// Connect dials the device's websocket RPC endpoint.
func (d *Driver) Connect(ctx context.Context, _, address string) (transport.Session, error) {
	if address == "" {
		address = d.Gateway
	}
	return d.dial(ctx, address)
}

// dial opens the websocket and starts the read pump.
func (d *Driver) dial(ctx context.Context, address string) (*session, error) {
	u := url.URL{Scheme: "ws", Host: address, Path: "/rpc"}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dialling %s: %w", transport.ErrConnectFailed, u.String(), err)
	}

	s := &session{
		conn:    conn,
		address: address,
		pending: make(map[string]chan transport.Envelope),
		done:    make(chan struct{}),
	}
	go s.readPump()

	return s, nil
}

// session is one websocket connection to a device in AP mode.
type session struct {
	conn    *websocket.Conn
	address string

	pending   map[string]chan transport.Envelope
	pendingMu sync.Mutex

	writeMu sync.Mutex // gorilla/websocket allows one concurrent writer

	done      chan struct{}
	closeOnce sync.Once
	onCloseMu sync.Mutex
	onClose   func(err error)
	closed    bool
	closeErr  error
}

// readPump reads response envelopes until the connection ends, then fires
// the OnClose hook with the terminating error.
func (s *session) readPump() {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.closeWith(fmt.Errorf("%w: %v", transport.ErrSessionClosed, err))
			return
		}

		var env transport.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			continue
		}

		s.pendingMu.Lock()
		ch, ok := s.pending[env.RequestID]
		s.pendingMu.Unlock()

		if ok {
			select {
			case ch <- env:
			default:
			}
		}
	}
}

// Send writes a request envelope and waits for the matching response.
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

	s.writeMu.Lock()
	err = s.conn.WriteMessage(websocket.TextMessage, payload)
	s.writeMu.Unlock()
	if err != nil {
		return transport.Envelope{}, fmt.Errorf("writing request: %w", err)
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

// Close ends the session deliberately.
func (s *session) Close() error {
	s.closeWith(nil)
	return nil
}

func (s *session) closeWith(err error) {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close() //nolint:errcheck // Already terminating

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
	return transport.KindAccessPoint
}

// RemoteAddress returns the device's network address.
func (s *session) RemoteAddress() string {
	return s.address
}
