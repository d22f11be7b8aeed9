// Package dbopen opens the SQLite files snatch keeps its state in.
//
// Pragmas travel in the DSN so that every pooled connection gets them,
// not just the one that happened to run the first Exec.
package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type options struct {
	busy     time.Duration
	mkdir    bool
	schema   []string
	maxConns int
}

// Option customises Open.
type Option func(*options)

// WithBusyTimeout sets how long a connection waits on a locked file.
// Default: 10s.
func WithBusyTimeout(d time.Duration) Option { return func(o *options) { o.busy = d } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(o *options) { o.mkdir = true } }

// WithSchema queues DDL executed once the database is open.
func WithSchema(ddl string) Option { return func(o *options) { o.schema = append(o.schema, ddl) } }

// WithMaxConns caps the pool size.
func WithMaxConns(n int) Option { return func(o *options) { o.maxConns = n } }

// DSN builds the driver name for path with snatch's pragmas.
func DSN(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "synchronous(NORMAL)")
	if path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Open opens the database at path, applies the queued schema and checks
// the connection.
func Open(path string, opts ...Option) (*sql.DB, error) {
	o := options{busy: 10 * time.Second}
	for _, fn := range opts {
		fn(&o)
	}
	if o.mkdir && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: %w", err)
		}
	}
	db, err := sql.Open("sqlite", DSN(path, o.busy))
	if err != nil {
		return nil, fmt.Errorf("dbopen: %w", err)
	}
	if o.maxConns > 0 {
		db.SetMaxOpenConns(o.maxConns)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: %s: %w", path, err)
	}
	for _, ddl := range o.schema {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: schema: %w", err)
		}
	}
	return db, nil
}

// OpenMemory returns an in-memory database closed at test cleanup. The
// pool holds one connection since each ":memory:" connection is its own
// database.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", append(opts, WithMaxConns(1))...)
	if err != nil {
		t.Fatalf("dbopen: memory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// IsBusy reports whether err means the file was locked by another writer.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// RunTx runs fn inside a transaction and commits it. A BUSY failure is
// retried with a growing pause until attempts run out or ctx ends.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	const attempts = 4
	pause := 50 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("dbopen: tx: %w", ctx.Err())
			case <-time.After(pause):
			}
			pause *= 2
		}
		err = inTx(ctx, db, fn)
		if !IsBusy(err) {
			return err
		}
	}
	return fmt.Errorf("dbopen: tx still busy: %w", err)
}

func inTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}
