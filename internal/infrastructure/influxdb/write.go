package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceHealth records one health sweep sample for a device.
//
// Battery and signal arrive from the device record; values of -1 mean the
// device has not reported them and are omitted.
func (c *Client) WriteDeviceHealth(deviceID, status string, batteryLevel, signalQuality int) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{}
	if batteryLevel >= 0 {
		fields["battery_level"] = batteryLevel
	}
	if signalQuality >= 0 {
		fields["signal_quality"] = signalQuality
	}
	if len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		"device_health",
		map[string]string{
			"device_id": deviceID,
			"status":    status,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSyncSummary records the outcome of one sync pass.
func (c *Client) WriteSyncSummary(synced, failed, conflicts, queueDepth int, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sync_pass",
		nil,
		map[string]interface{}{
			"synced":      synced,
			"failed":      failed,
			"conflicts":   conflicts,
			"queue_depth": queueDepth,
			"duration_ms": duration.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point for measurements the helpers don't
// cover. Tags should stay low cardinality.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
