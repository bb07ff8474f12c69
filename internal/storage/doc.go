// Package storage persists the delivery audit trail.
//
// Drivers:
//   - "file": JSON Lines, one entry per line
//   - "sqlite": a single SQLite database (modernc.org/sqlite, pure Go)
//
// Entries describe where a message went and how it ended; message bodies and
// subjects are never stored.
package storage
