package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/halcyonbio/biosync-core/internal/device"
	"github.com/halcyonbio/biosync-core/internal/events"
	"github.com/halcyonbio/biosync-core/internal/transport"
)

// fakeSession satisfies transport.Session for tests, mirroring the real
// drivers' close discipline: the hook fires exactly once, immediately
// when registered on an already-ended session.
type fakeSession struct {
	kind    transport.Kind
	address string
	info    transport.DeviceInfo
	sendErr error

	// closeAfterSend ends the session right after replying, inside the
	// window before the coordinator registers its loss hook.
	closeAfterSend bool

	mu        sync.Mutex
	closed    bool
	closeErr  error
	onClose   func(err error)
	closeOnce sync.Once
}

func (s *fakeSession) Send(_ context.Context, req transport.Envelope) (transport.Envelope, error) {
	if s.sendErr != nil {
		return transport.Envelope{}, s.sendErr
	}
	data, _ := json.Marshal(s.info)
	resp := transport.Envelope{
		Type:      transport.ResponseType(req.Type),
		RequestID: req.RequestID,
		Data:      data,
	}
	if s.closeAfterSend {
		s.fireClose(nil)
	}
	return resp, nil
}

func (s *fakeSession) Close() error {
	s.fireClose(nil)
	return nil
}

// lose simulates an unexpected session loss.
func (s *fakeSession) lose(err error) {
	s.fireClose(err)
}

func (s *fakeSession) fireClose(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.closeErr = err
		fn := s.onClose
		s.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	})
}

func (s *fakeSession) SetOnClose(fn func(err error)) {
	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		fn(err)
		return
	}
	s.onClose = fn
	s.mu.Unlock()
}

func (s *fakeSession) Kind() transport.Kind  { return s.kind }
func (s *fakeSession) RemoteAddress() string { return s.address }

// fakeDriver satisfies transport.Driver for tests.
type fakeDriver struct {
	kind transport.Kind

	mu             sync.Mutex
	connectErr     error
	connectN       int
	failUntil      int // Connect fails while connectN <= failUntil
	closeAfterSend bool
	sessions       map[string]*fakeSession
	scanResults    []transport.Discovered
	scanDelay      time.Duration
}

func newFakeDriver(kind transport.Kind) *fakeDriver {
	return &fakeDriver{kind: kind, sessions: make(map[string]*fakeSession)}
}

func (d *fakeDriver) Kind() transport.Kind { return d.kind }

func (d *fakeDriver) Scan(ctx context.Context, _ time.Duration) ([]transport.Discovered, error) {
	if d.scanDelay > 0 {
		select {
		case <-time.After(d.scanDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return d.scanResults, nil
}

func (d *fakeDriver) Connect(_ context.Context, deviceID, address string) (transport.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.connectN++
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	if d.connectN <= d.failUntil {
		return nil, transport.ErrConnectFailed
	}

	s := &fakeSession{
		kind:           d.kind,
		address:        address,
		closeAfterSend: d.closeAfterSend,
		info: transport.DeviceInfo{
			ID:           deviceID,
			Name:         "BioSense " + deviceID,
			Model:        "BS-200",
			BatteryLevel: 88,
			Capabilities: []string{"glucose", "calibration"},
		},
	}
	d.sessions[deviceID] = s
	return s, nil
}

func (d *fakeDriver) session(deviceID string) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[deviceID]
}

func (d *fakeDriver) connectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectN
}

// stubProber pins network-mode detection for tests.
type stubProber struct {
	mu                   sync.Mutex
	cloud, local, direct bool
}

func (p *stubProber) set(cloud, local, direct bool) {
	p.mu.Lock()
	p.cloud, p.local, p.direct = cloud, local, direct
	p.mu.Unlock()
}

func (p *stubProber) CloudReachable(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cloud
}

func (p *stubProber) LocalReachable(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *stubProber) DirectLinkPresent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.direct
}

func newTestCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	if opts.Registry == nil {
		opts.Registry = device.NewRegistry()
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	c := New(opts)
	c.probe = &stubProber{}
	t.Cleanup(c.Stop)
	return c
}

func TestConnect(t *testing.T) {
	t.Run("populates record from info exchange", func(t *testing.T) {
		ble := newFakeDriver(transport.KindBLE)
		c := newTestCoordinator(t, Options{Drivers: []transport.Driver{ble}})

		rec, err := c.Connect(context.Background(), "dev-1", transport.KindBLE, "AA:BB")
		if err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		if rec.Status != device.StatusOnline {
			t.Errorf("Status = %q, want %q", rec.Status, device.StatusOnline)
		}
		if rec.Model != "BS-200" {
			t.Errorf("Model = %q, want BS-200", rec.Model)
		}
		if rec.ConnectionType != device.ConnectionBLE {
			t.Errorf("ConnectionType = %q, want ble", rec.ConnectionType)
		}
		if !rec.HasCapability(device.CapGlucose) {
			t.Error("expected glucose capability")
		}

		got, err := c.registry.Get("dev-1")
		if err != nil {
			t.Fatalf("registry.Get() error = %v", err)
		}
		if got.Status != device.StatusOnline {
			t.Errorf("registry status = %q, want online", got.Status)
		}
	})

	t.Run("rejects duplicate connection", func(t *testing.T) {
		ble := newFakeDriver(transport.KindBLE)
		c := newTestCoordinator(t, Options{Drivers: []transport.Driver{ble}})

		if _, err := c.Connect(context.Background(), "dev-1", transport.KindBLE, ""); err != nil {
			t.Fatalf("first Connect() error = %v", err)
		}
		_, err := c.Connect(context.Background(), "dev-1", transport.KindBLE, "")
		if !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("error = %v, want ErrAlreadyConnected", err)
		}
	})

	t.Run("unknown transport", func(t *testing.T) {
		c := newTestCoordinator(t, Options{})
		_, err := c.Connect(context.Background(), "dev-1", transport.KindBLE, "")
		if !errors.Is(err, ErrTransportUnavailable) {
			t.Errorf("error = %v, want ErrTransportUnavailable", err)
		}
	})

	t.Run("dial failure releases slot", func(t *testing.T) {
		ble := newFakeDriver(transport.KindBLE)
		ble.connectErr = transport.ErrConnectFailed
		c := newTestCoordinator(t, Options{Drivers: []transport.Driver{ble}, MaxBLEConnections: 1})

		if _, err := c.Connect(context.Background(), "dev-1", transport.KindBLE, ""); err == nil {
			t.Fatal("expected connect error")
		}

		// The failed attempt must not hold the single BLE slot.
		ble.connectErr = nil
		if _, err := c.Connect(context.Background(), "dev-2", transport.KindBLE, ""); err != nil {
			t.Fatalf("Connect() after failure error = %v", err)
		}
	})
}

func TestBLEConnectionCeiling(t *testing.T) {
	t.Run("rejects connection beyond ceiling", func(t *testing.T) {
		ble := newFakeDriver(transport.KindBLE)
		c := newTestCoordinator(t, Options{Drivers: []transport.Driver{ble}, MaxBLEConnections: 2})

		for _, id := range []string{"a", "b"} {
			if _, err := c.Connect(context.Background(), id, transport.KindBLE, ""); err != nil {
				t.Fatalf("Connect(%s) error = %v", id, err)
			}
		}

		_, err := c.Connect(context.Background(), "c", transport.KindBLE, "")
		if !errors.Is(err, ErrConnectionLimitExceeded) {
			t.Fatalf("error = %v, want ErrConnectionLimitExceeded", err)
		}
	})

	t.Run("disconnect frees a slot", func(t *testing.T) {
		ble := newFakeDriver(transport.KindBLE)
		c := newTestCoordinator(t, Options{Drivers: []transport.Driver{ble}, MaxBLEConnections: 2})

		for _, id := range []string{"a", "b"} {
			if _, err := c.Connect(context.Background(), id, transport.KindBLE, ""); err != nil {
				t.Fatalf("Connect(%s) error = %v", id, err)
			}
		}
		if err := c.Disconnect("a"); err != nil {
			t.Fatalf("Disconnect(a) error = %v", err)
		}
		if _, err := c.Connect(context.Background(), "c", transport.KindBLE, ""); err != nil {
			t.Fatalf("Connect(c) after freeing slot error = %v", err)
		}
	})

	t.Run("other transports bypass the ceiling", func(t *testing.T) {
		ble := newFakeDriver(transport.KindBLE)
		lan := newFakeDriver(transport.KindLAN)
		c := newTestCoordinator(t, Options{Drivers: []transport.Driver{ble, lan}, MaxBLEConnections: 1})

		if _, err := c.Connect(context.Background(), "a", transport.KindBLE, ""); err != nil {
			t.Fatalf("Connect(a) error = %v", err)
		}
		for i := 0; i < 5; i++ {
			id := fmt.Sprintf("lan-%d", i)
			if _, err := c.Connect(context.Background(), id, transport.KindLAN, ""); err != nil {
				t.Fatalf("Connect(%s) error = %v", id, err)
			}
		}
	})

	t.Run("loss before the hook registers still frees the slot", func(t *testing.T) {
		ble := newFakeDriver(transport.KindBLE)
		ble.closeAfterSend = true
		c := newTestCoordinator(t, Options{Drivers: []transport.Driver{ble}, MaxBLEConnections: 1})

		// The session dies during the info exchange, before Connect can
		// register its loss hook.
		if _, err := c.Connect(context.Background(), "dev-1", transport.KindBLE, ""); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}

		if ids := c.ConnectedIDs(); len(ids) != 0 {
			t.Errorf("ConnectedIDs() = %v, want none for a dead session", ids)
		}
		rec, err := c.registry.Get("dev-1")
		if err != nil {
			t.Fatalf("registry.Get() error = %v", err)
		}
		if rec.Status != device.StatusOffline {
			t.Errorf("Status = %q, want offline", rec.Status)
		}

		// The dead session must not hold the only BLE slot.
		ble.mu.Lock()
		ble.closeAfterSend = false
		ble.mu.Unlock()
		if _, err := c.Connect(context.Background(), "dev-2", transport.KindBLE, ""); err != nil {
			t.Fatalf("Connect() after in-window loss error = %v", err)
		}
	})

	t.Run("concurrent connects never exceed ceiling", func(t *testing.T) {
		const limit = 7
		ble := newFakeDriver(transport.KindBLE)
		c := newTestCoordinator(t, Options{Drivers: []transport.Driver{ble}, MaxBLEConnections: limit})

		var wg sync.WaitGroup
		var mu sync.Mutex
		connected := 0
		for i := 0; i < 30; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				id := fmt.Sprintf("dev-%d", n)
				if _, err := c.Connect(context.Background(), id, transport.KindBLE, ""); err == nil {
					mu.Lock()
					connected++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		if connected != limit {
			t.Errorf("connected = %d, want exactly %d", connected, limit)
		}
		if got := len(c.ConnectedIDs()); got != limit {
			t.Errorf("active sessions = %d, want %d", got, limit)
		}
	})
}

func TestDisconnect(t *testing.T) {
	t.Run("marks device offline without reconnect", func(t *testing.T) {
		ble := newFakeDriver(transport.KindBLE)
		c := newTestCoordinator(t, Options{
			Drivers:            []transport.Driver{ble},
			ReconnectBaseDelay: time.Millisecond,
		})

		if _, err := c.Connect(context.Background(), "dev-1", transport.KindBLE, ""); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		before := ble.connectCount()

		if err := c.Disconnect("dev-1"); err != nil {
			t.Fatalf("Disconnect() error = %v", err)
		}

		rec, err := c.registry.Get("dev-1")
		if err != nil {
			t.Fatalf("registry.Get() error = %v", err)
		}
		if rec.Status != device.StatusOffline {
			t.Errorf("Status = %q, want offline", rec.Status)
		}
		if rec.ConnectionType != device.ConnectionDisconnected {
			t.Errorf("ConnectionType = %q, want disconnected", rec.ConnectionType)
		}

		// Deliberate disconnects never trigger reconnection.
		time.Sleep(20 * time.Millisecond)
		if got := ble.connectCount(); got != before {
			t.Errorf("connect attempts = %d after disconnect, want %d", got, before)
		}
	})

	t.Run("not connected", func(t *testing.T) {
		c := newTestCoordinator(t, Options{})
		if err := c.Disconnect("ghost"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("error = %v, want ErrNotConnected", err)
		}
	})
}

func TestReconnect(t *testing.T) {
	t.Run("recovers after unexpected loss", func(t *testing.T) {
		ble := newFakeDriver(transport.KindBLE)
		c := newTestCoordinator(t, Options{
			Drivers:            []transport.Driver{ble},
			ReconnectAttempts:  3,
			ReconnectBaseDelay: time.Millisecond,
		})

		if _, err := c.Connect(context.Background(), "dev-1", transport.KindBLE, ""); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}

		ble.session("dev-1").lose(errors.New("link dropped"))

		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if _, err := c.Session("dev-1"); err == nil {
				rec, _ := c.registry.Get("dev-1")
				if rec.Status == device.StatusOnline {
					return
				}
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatal("device never reconnected")
	})

	t.Run("gives up after configured attempts", func(t *testing.T) {
		ble := newFakeDriver(transport.KindBLE)
		ble.failUntil = 1 << 30 // never succeed again
		c := newTestCoordinator(t, Options{
			Drivers:            []transport.Driver{ble},
			ReconnectAttempts:  3,
			ReconnectBaseDelay: time.Millisecond,
		})

		ble.failUntil = 0
		if _, err := c.Connect(context.Background(), "dev-1", transport.KindBLE, ""); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		first := ble.connectCount()

		ble.mu.Lock()
		ble.failUntil = 1 << 30
		ble.mu.Unlock()

		ble.session("dev-1").lose(errors.New("link dropped"))

		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if ble.connectCount() >= first+3 {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}

		// Give a potential fourth attempt time to appear.
		time.Sleep(30 * time.Millisecond)
		if got := ble.connectCount(); got != first+3 {
			t.Errorf("reconnect attempts = %d, want exactly %d", got-first, 3)
		}

		rec, err := c.registry.Get("dev-1")
		if err != nil {
			t.Fatalf("registry.Get() error = %v", err)
		}
		if rec.Status != device.StatusOffline {
			t.Errorf("Status = %q, want offline after abandoning reconnects", rec.Status)
		}
	})
}

func TestScan(t *testing.T) {
	t.Run("returns driver results", func(t *testing.T) {
		ble := newFakeDriver(transport.KindBLE)
		ble.scanResults = []transport.Discovered{
			{ID: "dev-1", Name: "BioSense", Kind: transport.KindBLE, SignalQuality: 80},
		}
		c := newTestCoordinator(t, Options{Drivers: []transport.Driver{ble}})

		got, err := c.Scan(context.Background(), transport.KindBLE, time.Second)
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if len(got) != 1 || got[0].ID != "dev-1" {
			t.Errorf("Scan() = %+v, want one result dev-1", got)
		}
	})

	t.Run("one scan per transport at a time", func(t *testing.T) {
		ble := newFakeDriver(transport.KindBLE)
		ble.scanDelay = 100 * time.Millisecond
		c := newTestCoordinator(t, Options{Drivers: []transport.Driver{ble}})

		started := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			close(started)
			_, err := c.Scan(context.Background(), transport.KindBLE, time.Second)
			done <- err
		}()
		<-started
		time.Sleep(10 * time.Millisecond)

		if _, err := c.Scan(context.Background(), transport.KindBLE, time.Second); !errors.Is(err, ErrScanInProgress) {
			t.Errorf("concurrent scan error = %v, want ErrScanInProgress", err)
		}
		if err := <-done; err != nil {
			t.Errorf("first scan error = %v", err)
		}

		// Once the first scan finishes the transport is free again.
		if _, err := c.Scan(context.Background(), transport.KindBLE, time.Second); err != nil {
			t.Errorf("follow-up scan error = %v", err)
		}
	})

	t.Run("scans on different transports run concurrently", func(t *testing.T) {
		ble := newFakeDriver(transport.KindBLE)
		ble.scanDelay = 100 * time.Millisecond
		lan := newFakeDriver(transport.KindLAN)
		c := newTestCoordinator(t, Options{Drivers: []transport.Driver{ble, lan}})

		done := make(chan error, 1)
		go func() {
			_, err := c.Scan(context.Background(), transport.KindBLE, time.Second)
			done <- err
		}()
		time.Sleep(10 * time.Millisecond)

		if _, err := c.Scan(context.Background(), transport.KindLAN, time.Second); err != nil {
			t.Errorf("LAN scan during BLE scan error = %v", err)
		}
		if err := <-done; err != nil {
			t.Errorf("BLE scan error = %v", err)
		}
	})
}

func TestNetworkMode(t *testing.T) {
	tests := []struct {
		name  string
		probe *stubProber
		want  NetworkMode
	}{
		{"cloud wins", &stubProber{cloud: true, local: true, direct: true}, ModeCloud},
		{"local when no cloud", &stubProber{local: true, direct: true}, ModeLocal},
		{"direct when isolated", &stubProber{direct: true}, ModeDirect},
		{"offline", &stubProber{}, ModeOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoordinator(t, Options{})
			c.probe = tt.probe

			if got := c.NotifyConnectivityChange(context.Background()); got != tt.want {
				t.Errorf("mode = %q, want %q", got, tt.want)
			}
			if got := c.NetworkMode(); got != tt.want {
				t.Errorf("NetworkMode() = %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("publishes event on transition only", func(t *testing.T) {
		bus := events.NewBus()
		ch := bus.Subscribe(events.TypeNetworkModeChanged)
		c := newTestCoordinator(t, Options{Bus: bus})
		probe := &stubProber{cloud: true}
		c.probe = probe

		c.NotifyConnectivityChange(context.Background())
		select {
		case ev := <-ch:
			if ev.Data["current"] != "cloud" {
				t.Errorf("event current = %v, want cloud", ev.Data["current"])
			}
		case <-time.After(time.Second):
			t.Fatal("no event after mode transition")
		}

		// Same mode again: no event.
		c.NotifyConnectivityChange(context.Background())
		select {
		case ev := <-ch:
			t.Errorf("unexpected event %+v without transition", ev)
		case <-time.After(20 * time.Millisecond):
		}
	})

	t.Run("periodic re-probe notices restored connectivity", func(t *testing.T) {
		bus := events.NewBus()
		ch := bus.Subscribe(events.TypeNetworkModeChanged)
		c := newTestCoordinator(t, Options{
			Bus:               bus,
			ModeProbeInterval: 10 * time.Millisecond,
		})
		probe := &stubProber{}
		c.probe = probe

		// Boots with nothing reachable.
		c.Start(context.Background())
		if c.RemoteReachable() {
			t.Fatal("RemoteReachable() = true at offline start")
		}

		// Connectivity returns without any NotifyConnectivityChange call.
		probe.set(true, false, false)

		select {
		case ev := <-ch:
			if ev.Data["current"] != "cloud" {
				t.Errorf("event current = %v, want cloud", ev.Data["current"])
			}
		case <-time.After(time.Second):
			t.Fatal("re-probe never noticed restored connectivity")
		}
		if !c.RemoteReachable() {
			t.Error("RemoteReachable() = false after recovery")
		}
	})

	t.Run("remote reachable in cloud and local modes", func(t *testing.T) {
		c := newTestCoordinator(t, Options{})
		for mode, want := range map[NetworkMode]bool{
			ModeCloud:   true,
			ModeLocal:   true,
			ModeDirect:  false,
			ModeOffline: false,
		} {
			c.modeMu.Lock()
			c.mode = mode
			c.modeMu.Unlock()
			if got := c.RemoteReachable(); got != want {
				t.Errorf("RemoteReachable() in %q = %v, want %v", mode, got, want)
			}
		}
	})
}
