// Package store archives recorded runs in SQLite.
//
// A run is its action log: every admitted action with its payload and the
// reactions it caused. Runs are written once, in one transaction, and read
// back as engine entries that can be turned into a replay.
//
// # Ordering
//
// Nothing is ordered by wall-clock time. Runs carry an insertion seq,
// actions their logical action id, and reactions their position within an
// action. Every query orders by these columns.
//
// # Payloads
//
// Payloads are stored as JSON. On read, integral numbers come back as int64
// and other numbers as float64; objects and arrays come back as
// map[string]any and []any.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
