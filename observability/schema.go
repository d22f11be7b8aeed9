// Package observability keeps a SQLite record of what the daemon did:
// run lifecycle events (as a notify sink) and periodic heartbeats with
// the engine phase and runtime health.
package observability

import (
	"database/sql"
	"fmt"
)

// Schema is the observability DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS scan_events (
	event_id   TEXT PRIMARY KEY,
	event_type TEXT    NOT NULL,
	session_id TEXT    NOT NULL,
	run_id     TEXT    NOT NULL DEFAULT '',
	contacts   INTEGER NOT NULL DEFAULT 0,
	cycles     INTEGER NOT NULL DEFAULT 0,
	status     TEXT    NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scan_events_session_time
	ON scan_events(session_id, created_at DESC);

CREATE TABLE IF NOT EXISTS heartbeats (
	heartbeat_id    INTEGER PRIMARY KEY AUTOINCREMENT,
	worker_name     TEXT    NOT NULL,
	hostname        TEXT    NOT NULL,
	pid             INTEGER NOT NULL,
	phase           TEXT    NOT NULL DEFAULT '',
	contacts        INTEGER NOT NULL DEFAULT 0,
	goroutines      INTEGER NOT NULL DEFAULT 0,
	memory_alloc_mb REAL    NOT NULL DEFAULT 0,
	timestamp       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker_time
	ON heartbeats(worker_name, timestamp DESC);
`

// Init applies Schema to db.
func Init(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("observability: init schema: %w", err)
	}
	return nil
}
