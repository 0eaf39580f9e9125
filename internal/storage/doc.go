// Package storage persists the registry State.
//
// Drivers:
//   - memory: keeps a deep copy in process (tests, driver "none")
//   - file: one JSON snapshot, replaced atomically on every save
//   - sqlite: modernc.org/sqlite, all rows replaced in one transaction
//   - postgres: pgx pool, all rows replaced in one transaction via COPY
//   - redis: go-redis, the file snapshot stored under one key
//
// Every driver saves the full aggregate. Load on a missing snapshot returns an
// empty State; an unreadable one returns an empty State and ErrCorrupt.
package storage
