// Package command dispatches typed commands to measurement devices over
// their active sessions.
//
// A request may address many devices; each gets its own goroutine, its own
// timeout, and its own Result, so one unreachable device never blocks or
// fails the rest of the batch.
package command
