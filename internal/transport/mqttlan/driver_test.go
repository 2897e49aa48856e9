package mqttlan_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/halcyonbio/biosync-core/internal/infrastructure/config"
	"github.com/halcyonbio/biosync-core/internal/transport"
	"github.com/halcyonbio/biosync-core/internal/transport/mqttlan"
)

// These tests need a live broker on localhost:1883 and skip cleanly
// without one.

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "biosync-test",
		},
		QoS: 1,
	}
}

func connectDriver(t *testing.T) *mqttlan.Driver {
	t.Helper()
	d, err := mqttlan.Connect(testConfig())
	if err != nil {
		t.Skip("MQTT broker not available, skipping integration test")
	}
	t.Cleanup(d.Close)
	return d
}

// fakeDevice attaches to the broker like a LAN device: retained presence
// plus an RPC responder.
type fakeDevice struct {
	id     string
	client pahomqtt.Client
}

func startFakeDevice(t *testing.T, id string) *fakeDevice {
	t.Helper()

	opts := pahomqtt.NewClientOptions().
		AddBroker("tcp://127.0.0.1:1883").
		SetClientID("biosync-test-device-" + id)
	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Skip("MQTT broker not available, skipping integration test")
	}

	dev := &fakeDevice{id: id, client: client}
	t.Cleanup(func() {
		dev.publishPresence(t, false)
		client.Disconnect(100)
	})

	dev.publishPresence(t, true)

	rpcTopic := fmt.Sprintf("biosync/device/%s/rpc", id)
	client.Subscribe(rpcTopic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		var req transport.Envelope
		if err := json.Unmarshal(msg.Payload(), &req); err != nil {
			return
		}
		resp := transport.Envelope{
			Type:      transport.ResponseType(req.Type),
			RequestID: req.RequestID,
			Data:      json.RawMessage(fmt.Sprintf(`{"id":%q,"batteryLevel":55}`, id)),
		}
		out, _ := json.Marshal(resp)
		client.Publish(fmt.Sprintf("biosync/device/%s/rpc/response", id), 1, false, out)
	})

	return dev
}

func (d *fakeDevice) publishPresence(t *testing.T, online bool) {
	t.Helper()
	payload, _ := json.Marshal(map[string]any{
		"id":            d.id,
		"name":          "BioSense " + d.id,
		"signalQuality": 90,
		"isPaired":      true,
		"online":        online,
	})
	token := d.client.Publish(fmt.Sprintf("biosync/device/%s/presence", d.id), 1, true, payload)
	token.WaitTimeout(5 * time.Second)
}

func TestScan(t *testing.T) {
	d := connectDriver(t)
	startFakeDevice(t, "lan-scan-1")

	found, err := d.Scan(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	for _, dev := range found {
		if dev.ID == "lan-scan-1" {
			if dev.Kind != transport.KindLAN || !dev.Paired {
				t.Errorf("discovered = %+v", dev)
			}
			return
		}
	}
	t.Fatalf("device lan-scan-1 not discovered, found %+v", found)
}

func TestRoundTrip(t *testing.T) {
	d := connectDriver(t)
	startFakeDevice(t, "lan-rpc-1")

	sess, err := d.Connect(context.Background(), "lan-rpc-1", "")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sess.Close() //nolint:errcheck // Test teardown

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := sess.Send(ctx, transport.Envelope{
		Type:      transport.TypeGetInfo,
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.Type != transport.TypeDeviceInfo {
		t.Errorf("Type = %s, want DEVICE_INFO", resp.Type)
	}

	var info transport.DeviceInfo
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		t.Fatalf("parsing info: %v", err)
	}
	if info.ID != "lan-rpc-1" || info.BatteryLevel != 55 {
		t.Errorf("info = %+v", info)
	}
}

func TestPresenceOfflineEndsSession(t *testing.T) {
	d := connectDriver(t)
	dev := startFakeDevice(t, "lan-drop-1")

	sess, err := d.Connect(context.Background(), "lan-drop-1", "")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	closeErr := make(chan error, 1)
	sess.SetOnClose(func(err error) { closeErr <- err })

	dev.publishPresence(t, false)

	select {
	case err := <-closeErr:
		if !errors.Is(err, transport.ErrSessionClosed) {
			t.Errorf("OnClose err = %v, want ErrSessionClosed cause", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("offline presence did not end the session")
	}
}
