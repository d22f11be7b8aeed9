package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/hazyhaar/snatch/internal/dbopen"
	"github.com/hazyhaar/snatch/notify"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatalf("init: %v", err)
	}
	return db
}

func TestEventLog_SendAndRecent(t *testing.T) {
	db := setupDB(t)
	log := NewEventLog(db, nil)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)
	for i, typ := range []string{notify.EventStarted, notify.EventPaused, notify.EventCompleted} {
		ev := notify.Event{Type: typ, Session: "default", RunID: "r1", Contacts: i * 10, Time: base.Add(time.Duration(i) * time.Second)}
		if err := log.Send(ctx, ev); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	_ = log.Send(ctx, notify.Event{Type: notify.EventStarted, Session: "other"})

	got, err := log.Recent(ctx, "default", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[0].Type != notify.EventCompleted || got[0].Contacts != 20 {
		t.Errorf("got newest %+v", got[0])
	}
	if got[0].ID == "" {
		t.Error("event id not assigned")
	}
}

func TestEventLog_ViaRouter(t *testing.T) {
	db := setupDB(t)
	r := notify.NewRouter(nil, NewEventLog(db, nil))
	if err := r.Send(context.Background(), notify.Event{ID: "e1", Type: notify.EventFailed, Session: "s"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	var n int
	db.QueryRow(`SELECT COUNT(*) FROM scan_events`).Scan(&n)
	if n != 1 {
		t.Errorf("got %d rows, want 1", n)
	}
}

func TestHeartbeat_WriteWithProbe(t *testing.T) {
	db := setupDB(t)
	hb := NewHeartbeat(db, "snatch", time.Hour, func() (string, int) { return "scanning", 7 }, nil)
	if err := hb.Write(context.Background()); err != nil {
		t.Fatalf("write: %v", err)
	}
	at, phase, err := LastBeat(context.Background(), db, "snatch")
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if phase != "scanning" || at.IsZero() {
		t.Errorf("got %v %q", at, phase)
	}
}

func TestHeartbeat_StartStop(t *testing.T) {
	db := setupDB(t)
	hb := NewHeartbeat(db, "snatch", 5*time.Millisecond, nil, nil)
	hb.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	hb.Stop()
	var n int
	db.QueryRow(`SELECT COUNT(*) FROM heartbeats`).Scan(&n)
	if n < 2 {
		t.Errorf("got %d heartbeats, want at least 2", n)
	}
}

func TestCleanup_Retention(t *testing.T) {
	db := setupDB(t)
	log := NewEventLog(db, nil)
	ctx := context.Background()
	_ = log.Send(ctx, notify.Event{Type: "started", Session: "s", Time: time.Now().Add(-48 * time.Hour)})
	_ = log.Send(ctx, notify.Event{Type: "completed", Session: "s", Time: time.Now()})

	n, err := Cleanup(ctx, db, 24*time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d deleted, want 1", n)
	}
	if n, _ := Cleanup(ctx, db, 0); n != 0 {
		t.Errorf("zero retention deleted %d", n)
	}
}
