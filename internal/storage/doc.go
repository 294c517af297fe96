// Package storage provides the optional run-history store.
//
// Every completed task run can be appended as a RunRecord so operators can see
// what fired, when, and whether it failed. The store is write-mostly and is
// never used to restore scheduler state after a restart.
//
// Drivers:
//   - "file":   JSON Lines file (no extra dependencies)
//   - "sqlite": SQLite database (modernc.org/sqlite, pure Go)
//   - "bolt":   bbolt key/value file
package storage
