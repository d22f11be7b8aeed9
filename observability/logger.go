package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/snatch/notify"
)

// EventLog records run events in scan_events. It is a notify.Sink.
type EventLog struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ notify.Sink = (*EventLog)(nil)

// NewEventLog creates an event log on a database initialised with Init.
func NewEventLog(db *sql.DB, logger *slog.Logger) *EventLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLog{db: db, logger: logger}
}

// Send stores ev. Failures are logged and returned.
func (l *EventLog) Send(ctx context.Context, ev notify.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO scan_events
			(event_id, event_type, session_id, run_id, contacts, cycles, status, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		ev.ID, ev.Type, ev.Session, ev.RunID, ev.Contacts, ev.Cycles, ev.Status, ev.Time.UnixMilli())
	if err != nil {
		l.logger.Error("observability: event log failed", "type", ev.Type, "error", err)
		return fmt.Errorf("observability: insert event: %w", err)
	}
	return nil
}

func (l *EventLog) Close() error { return nil }

// Recent returns the latest events of session, newest first.
func (l *EventLog) Recent(ctx context.Context, session string, limit int) ([]notify.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, event_type, session_id, run_id, contacts, cycles, status, created_at
		FROM scan_events WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, session, limit)
	if err != nil {
		return nil, fmt.Errorf("observability: query events: %w", err)
	}
	defer rows.Close()

	var out []notify.Event
	for rows.Next() {
		var (
			ev notify.Event
			at int64
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Session, &ev.RunID, &ev.Contacts, &ev.Cycles, &ev.Status, &at); err != nil {
			return nil, fmt.Errorf("observability: scan event: %w", err)
		}
		ev.Time = time.UnixMilli(at).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Cleanup deletes events and heartbeats older than retention. Zero keeps
// everything.
func Cleanup(ctx context.Context, db *sql.DB, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoffMs := time.Now().Add(-retention).UnixMilli()
	res, err := db.ExecContext(ctx, `DELETE FROM scan_events WHERE created_at < ?`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup events: %w", err)
	}
	n, _ := res.RowsAffected()
	res, err = db.ExecContext(ctx, `DELETE FROM heartbeats WHERE timestamp < ?`, cutoffMs/1000)
	if err != nil {
		return n, fmt.Errorf("observability: cleanup heartbeats: %w", err)
	}
	m, _ := res.RowsAffected()
	return n + m, nil
}
