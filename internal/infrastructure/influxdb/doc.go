// Package influxdb writes BioSync telemetry to an InfluxDB v2 instance.
//
// It wraps the official influxdb-client-go v2 library for two streams of
// time-series data: per-device health samples from the health monitor
// (battery, signal quality) and sync pass summaries from the sync engine.
//
// Writes are non-blocking and batched by the underlying write API; async
// write failures surface through the SetOnError callback. Telemetry is
// strictly optional - when disabled in configuration the daemon runs
// without it.
package influxdb
