package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/halcyonbio/biosync-core/internal/device"
	"github.com/halcyonbio/biosync-core/internal/syncqueue"
)

// WriteDevicesJSON writes the device table as an indented JSON array.
func WriteDevicesJSON(w io.Writer, records []device.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encoding devices: %w", err)
	}
	return nil
}

// deviceHeader is the column order of the device CSV export.
var deviceHeader = []string{
	"id", "serial", "name", "model", "firmware_version",
	"connection_type", "status", "signal_quality", "battery_level",
	"capabilities", "measurement_count", "error_count", "last_seen",
	"last_measurement",
}

// WriteDevicesCSV writes the device table as flat delimited text.
func WriteDevicesCSV(w io.Writer, records []device.Record) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(deviceHeader); err != nil {
		return fmt.Errorf("writing device header: %w", err)
	}

	for _, rec := range records {
		caps := make([]string, 0, len(rec.Capabilities))
		for _, c := range rec.Capabilities {
			caps = append(caps, string(c))
		}

		lastMeasurement := ""
		if rec.LastMeasurement != nil {
			lastMeasurement = rec.LastMeasurement.UTC().Format(time.RFC3339)
		}

		row := []string{
			rec.ID, rec.Serial, rec.Name, rec.Model, rec.FirmwareVersion,
			string(rec.ConnectionType), string(rec.Status),
			strconv.Itoa(rec.SignalQuality), strconv.Itoa(rec.BatteryLevel),
			strings.Join(caps, ";"),
			strconv.Itoa(rec.MeasurementCount), strconv.Itoa(rec.ErrorCount),
			formatTime(rec.LastSeen), lastMeasurement,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing device %s: %w", rec.ID, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing device export: %w", err)
	}
	return nil
}

// WriteQueueJSON writes the sync queue contents as an indented JSON array.
func WriteQueueJSON(w io.Writer, items []*syncqueue.Item) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("encoding queue items: %w", err)
	}
	return nil
}

// queueHeader is the column order of the queue CSV export. Payloads stay
// out of the flat export; the JSON export carries them.
var queueHeader = []string{
	"id", "kind", "device_id", "user_id", "priority", "status",
	"attempt_count", "last_attempt_at", "error", "force_overwrite",
	"created_at",
}

// WriteQueueCSV writes the sync queue contents as flat delimited text.
func WriteQueueCSV(w io.Writer, items []*syncqueue.Item) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(queueHeader); err != nil {
		return fmt.Errorf("writing queue header: %w", err)
	}

	for _, item := range items {
		lastAttempt := ""
		if item.LastAttemptAt != nil {
			lastAttempt = item.LastAttemptAt.UTC().Format(time.RFC3339)
		}

		row := []string{
			item.ID, string(item.Kind), item.DeviceID, item.UserID,
			string(item.Priority), string(item.Status),
			strconv.Itoa(item.AttemptCount), lastAttempt, item.Error,
			strconv.FormatBool(item.ForceOverwrite),
			formatTime(item.CreatedAt),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing queue item %s: %w", item.ID, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing queue export: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
