// Package storage mirrors the committed bump schedule to disk.
//
// Drivers:
//   - "file":   a single JSON snapshot, replaced atomically on every write
//   - "sqlite": a SQLite database (modernc.org/sqlite, pure Go)
//   - "none":   keeps nothing; schedules are lost on restart
//
// A backend never owns the schedule. internal/schedule holds the authoritative
// copy and calls Replace* after each committed mutation.
package storage
