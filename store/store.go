// Package store persists the extraction state document in SQLite. It
// survives daemon restarts and page reloads; the engine reads it on start
// and auto-resume and rewrites it on every throttled cycle.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hazyhaar/snatch/contact"
	"github.com/hazyhaar/snatch/internal/dbopen"
)

// Store is the database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{DB: db}, nil
}

// OpenMemory returns an in-memory store closed at test cleanup.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	return &Store{DB: dbopen.OpenMemory(t, dbopen.WithSchema(Schema))}
}

// Close closes the database.
func (s *Store) Close() error { return s.DB.Close() }

// Load returns the state of session, or the default state when none was
// saved yet.
func (s *Store) Load(ctx context.Context, session string) (contact.State, error) {
	st := contact.DefaultState()
	var (
		scanning int
		phase    string
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT is_scanning, scan_status, last_scroll_position, scan_cycles,
		       extraction_count, phase, run_id
		FROM extraction_state WHERE session_id = ?`, session).
		Scan(&scanning, &st.ScanStatus, &st.LastScrollPosition, &st.ScanCycles,
			&st.ExtractionCount, &phase, &st.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return contact.State{}, fmt.Errorf("store: load state: %w", err)
	}
	st.IsScanning = scanning != 0
	st.Phase = contact.Phase(phase)

	recs, err := s.Contacts(ctx, session)
	if err != nil {
		return contact.State{}, err
	}
	st.ScrapedData = recs
	st.Normalize()
	return st, nil
}

// Contacts returns the saved records of session in extraction order.
func (s *Store) Contacts(ctx context.Context, session string) ([]contact.Record, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, phone, last_message, extracted_at
		FROM contacts WHERE session_id = ? ORDER BY seq`, session)
	if err != nil {
		return nil, fmt.Errorf("store: query contacts: %w", err)
	}
	defer rows.Close()

	out := []contact.Record{}
	for rows.Next() {
		var (
			r  contact.Record
			at int64
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Phone, &r.LastMessage, &at); err != nil {
			return nil, fmt.Errorf("store: scan contact: %w", err)
		}
		r.ExtractedAt = time.UnixMilli(at).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Save replaces the state of session with st. The contact list is
// rewritten as a whole inside one transaction.
func (s *Store) Save(ctx context.Context, session string, st contact.State) error {
	st.Normalize()
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO extraction_state
				(session_id, is_scanning, scan_status, last_scroll_position, scan_cycles,
				 extraction_count, phase, run_id, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				is_scanning = excluded.is_scanning,
				scan_status = excluded.scan_status,
				last_scroll_position = excluded.last_scroll_position,
				scan_cycles = excluded.scan_cycles,
				extraction_count = excluded.extraction_count,
				phase = excluded.phase,
				run_id = excluded.run_id,
				revision = extraction_state.revision + 1,
				updated_at = excluded.updated_at`,
			session, boolInt(st.IsScanning), st.ScanStatus, st.LastScrollPosition, st.ScanCycles,
			st.ExtractionCount, string(st.Phase), st.RunID, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("upsert state: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM contacts WHERE session_id = ?`, session); err != nil {
			return fmt.Errorf("delete contacts: %w", err)
		}
		if len(st.ScrapedData) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO contacts
				(session_id, id, seq, name, phone, last_message, extracted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()
		for i, r := range st.ScrapedData {
			if _, err := stmt.ExecContext(ctx, session, r.ID, i, r.Name, r.Phone, r.LastMessage, r.ExtractedAt.UnixMilli()); err != nil {
				return fmt.Errorf("insert contact %s: %w", r.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	return nil
}

// Clear empties the data of session and resets its progress, keeping the
// completed extraction counter.
func (s *Store) Clear(ctx context.Context, session string) error {
	st, err := s.Load(ctx, session)
	if err != nil {
		return err
	}
	return s.Save(ctx, session, st.Cleared())
}

// Sessions lists the sessions with saved state.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT session_id FROM extraction_state ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("store: sessions: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: sessions: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Session binds the store to one session id. The result satisfies
// engine.Store.
func (s *Store) Session(id string) *Session { return &Session{s: s, id: id} }

// Session is the state of one page context.
type Session struct {
	s  *Store
	id string
}

func (b *Session) Load(ctx context.Context) (contact.State, error) { return b.s.Load(ctx, b.id) }

func (b *Session) Save(ctx context.Context, st contact.State) error { return b.s.Save(ctx, b.id, st) }

// ID returns the session id.
func (b *Session) ID() string { return b.id }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
