// Package database provides the SQLite connection backing the sync queue
// store.
//
// The store must survive process restarts and never expose a half-written
// item, so the database runs in WAL mode with a single writer connection
// and every mutation happens inside a transaction. Schema migrations are
// embedded into the binary and applied at startup.
package database
