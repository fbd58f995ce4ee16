package storage

// Package storage persists reminder records and per-user timezones.
//
// Records are opaque JSON blobs keyed (owner, id); the reminder package owns
// the schema. Two drivers:
//   - "file": dependency-free snapshot + append-only journal
//   - "sqlite": SQLite database file (optional build tag)
