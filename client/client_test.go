package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/snatch/contact"
	"github.com/hazyhaar/snatch/control"
	"github.com/hazyhaar/snatch/engine"
)

type stubEngine struct{ recs []contact.Record }

func (s stubEngine) Handle(_ context.Context, cmd engine.Command) (engine.Result, error) {
	n := len(s.recs)
	if cmd.Action == engine.ActionStart {
		return engine.Result{Status: engine.StatusStarted}, nil
	}
	f := false
	return engine.Result{IsScanning: &f, ContactCount: &n}, nil
}
func (s stubEngine) Contacts(context.Context) ([]contact.Record, error) { return s.recs, nil }
func (s stubEngine) State(context.Context) (contact.State, error)       { return contact.DefaultState(), nil }
func (s stubEngine) Clear(context.Context) error                        { return nil }

// flakySession stays detached for the first n reattach calls.
type flakySession struct {
	mu        sync.Mutex
	detached  bool
	failFor   int
	reattachs int
}

func (s *flakySession) Detached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

func (s *flakySession) Reattach(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reattachs++
	if s.reattachs > s.failFor {
		s.detached = false
		return nil
	}
	return errors.New("tab did not open")
}

func (s *flakySession) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reattachs
}

func daemon(t *testing.T, sess control.Session, opts ...control.Option) *httptest.Server {
	t.Helper()
	rec, _ := contact.NewRecord("Alice", "", "hello there", time.Now())
	opts = append(opts, control.WithSession(sess))
	srv := httptest.NewServer(control.New(stubEngine{recs: []contact.Record{rec}}, opts...).Handler(nil))
	t.Cleanup(srv.Close)
	return srv
}

func TestSend_Attached(t *testing.T) {
	srv := daemon(t, &flakySession{})
	res, err := New(srv.URL).Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if res.Count() != 1 || res.Scanning() {
		t.Errorf("got %+v", res)
	}
}

func TestSend_ReattachesThenSucceeds(t *testing.T) {
	sess := &flakySession{detached: true, failFor: 1}
	srv := daemon(t, sess)
	c := New(srv.URL, WithRetry(3, time.Millisecond))

	res, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Status != engine.StatusStarted {
		t.Errorf("got %+v", res)
	}
	if n := sess.count(); n != 2 {
		t.Errorf("got %d reattach calls, want 2", n)
	}
}

func TestSend_GivesUpAfterAttempts(t *testing.T) {
	sess := &flakySession{detached: true, failFor: 100}
	srv := daemon(t, sess)
	c := New(srv.URL, WithRetry(3, time.Millisecond))

	_, err := c.Start(context.Background())
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("got %v, want ErrUnreachable", err)
	}
	if n := sess.count(); n != 3 {
		t.Errorf("got %d reattach calls, want 3", n)
	}
}

func TestSend_DaemonDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	_, err := New(addr, WithRetry(2, time.Millisecond)).Status(context.Background())
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("got %v, want ErrUnreachable", err)
	}
}

func TestSend_AuthErrorNotRetried(t *testing.T) {
	hash, err := control.HashToken("right")
	if err != nil {
		t.Fatal(err)
	}
	srv := daemon(t, &flakySession{}, control.WithTokenHash(hash))

	_, err = New(srv.URL, WithToken("wrong")).Status(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusUnauthorized {
		t.Fatalf("got %v, want 401", err)
	}
	if _, err := New(srv.URL, WithToken("right")).Status(context.Background()); err != nil {
		t.Errorf("good token: %v", err)
	}
}

func TestContactsAndExport(t *testing.T) {
	srv := daemon(t, &flakySession{})
	c := New(srv.URL)
	recs, err := c.Contacts(context.Background())
	if err != nil || len(recs) != 1 || recs[0].Name != "Alice" {
		t.Fatalf("got %+v (%v)", recs, err)
	}
	data, name, err := c.Export(context.Background(), "md")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(data) == 0 || len(name) < len("whatsapp-contacts-") || name[len(name)-3:] != ".md" {
		t.Errorf("got %q (%d bytes)", name, len(data))
	}
	if _, _, err := c.Export(context.Background(), "pdf"); err == nil {
		t.Error("bad format accepted")
	}
	if err := c.Clear(context.Background()); err != nil {
		t.Errorf("clear: %v", err)
	}
}

func TestNew_AddsScheme(t *testing.T) {
	if c := New("127.0.0.1:8765/"); c.base != "http://127.0.0.1:8765" {
		t.Errorf("got %q", c.base)
	}
}
