// Package health watches device liveness. A fixed-interval sweep demotes
// devices that have gone silent, raises one-time low battery
// notifications, probes connected devices for fresh status, and feeds the
// telemetry stream.
package health
