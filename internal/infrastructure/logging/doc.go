// Package logging provides structured logging for BioSync Core.
//
// It wraps log/slog with service defaults (service name, version) and
// config-driven level/format selection. Components that need logging
// declare their own small Logger interface and accept this type, keeping
// packages decoupled from the concrete logger.
package logging
