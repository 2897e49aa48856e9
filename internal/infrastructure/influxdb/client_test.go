package influxdb_test

import (
	"errors"
	"testing"

	"github.com/halcyonbio/biosync-core/internal/infrastructure/config"
	"github.com/halcyonbio/biosync-core/internal/infrastructure/influxdb"
)

// testConfig matches the local dev InfluxDB in docker-compose.yml.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "biosync-dev-token",
		Org:           "halcyon",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// skipIfNoInfluxDB skips when no local InfluxDB is reachable.
func skipIfNoInfluxDB(t *testing.T) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Skip("InfluxDB not available, skipping integration test")
	}
	return client
}

func TestConnectDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:1" // Nothing listens here

	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteDeviceHealth(t *testing.T) {
	client := skipIfNoInfluxDB(t)
	defer client.Close() //nolint:errcheck // Test teardown

	// Writes are async; this exercises the path without a read-back.
	client.WriteDeviceHealth("dev-1", "online", 85, 70)
	client.WriteDeviceHealth("dev-2", "online", -1, -1) // No fields, dropped
	client.WriteSyncSummary(10, 1, 0, 42, 0)
	client.Flush()
}
