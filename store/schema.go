package store

// Schema is the persistence schema. One state row and one contact list
// per session.
const Schema = `
CREATE TABLE IF NOT EXISTS extraction_state (
	session_id           TEXT PRIMARY KEY,
	is_scanning          INTEGER NOT NULL DEFAULT 0,
	scan_status          TEXT    NOT NULL DEFAULT 'Ready',
	last_scroll_position REAL    NOT NULL DEFAULT 0,
	scan_cycles          INTEGER NOT NULL DEFAULT 0,
	extraction_count     INTEGER NOT NULL DEFAULT 0,
	phase                TEXT    NOT NULL DEFAULT 'idle',
	run_id               TEXT    NOT NULL DEFAULT '',
	revision             INTEGER NOT NULL DEFAULT 1,
	updated_at           INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS contacts (
	session_id   TEXT    NOT NULL,
	id           TEXT    NOT NULL,
	seq          INTEGER NOT NULL,
	name         TEXT    NOT NULL,
	phone        TEXT    NOT NULL DEFAULT '',
	last_message TEXT    NOT NULL DEFAULT '',
	extracted_at INTEGER NOT NULL,
	PRIMARY KEY (session_id, id)
);

CREATE INDEX IF NOT EXISTS idx_contacts_seq ON contacts(session_id, seq);
`
