package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/hazyhaar/snatch/contact"
)

// Revision returns the save counter of session, 0 before the first save.
// It advances on every Save from any process sharing the file.
func (s *Store) Revision(ctx context.Context, session string) (int64, error) {
	var rev int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT revision FROM extraction_state WHERE session_id = ?`, session).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return rev, err
}

// Follow polls session every interval and calls fn with the state each
// time it was saved, starting with the current one. It returns when ctx
// ends or fn fails. A failed poll is logged and retried.
func (s *Store) Follow(ctx context.Context, session string, interval time.Duration, logger *slog.Logger, fn func(contact.State) error) error {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	seen := int64(-1)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		rev, err := s.Revision(ctx, session)
		if err != nil {
			logger.Warn("store: follow poll failed", "session", session, "error", err)
		} else if rev != seen {
			st, err := s.Load(ctx, session)
			if err != nil {
				logger.Warn("store: follow load failed", "session", session, "error", err)
			} else {
				seen = rev
				if err := fn(st); err != nil {
					return err
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
