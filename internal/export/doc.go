// Package export renders read-only snapshots of the device table and the
// sync queue as JSON or CSV, for reporting and support bundles.
package export
