package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/snatch/contact"
)

func TestRevision_AdvancesPerSave(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	if rev, err := s.Revision(ctx, "a"); err != nil || rev != 0 {
		t.Fatalf("got %d (%v), want 0 before the first save", rev, err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Save(ctx, "a", contact.DefaultState()); err != nil {
			t.Fatal(err)
		}
	}
	if rev, _ := s.Revision(ctx, "a"); rev != 3 {
		t.Errorf("got revision %d, want 3", rev)
	}
}

func TestFollow_SeesEachSave(t *testing.T) {
	s := OpenMemory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	seen := make(chan contact.State, 8)
	done := make(chan error, 1)
	go func() {
		done <- s.Follow(ctx, "a", time.Millisecond, nil, func(st contact.State) error {
			seen <- st
			if st.TotalContacts == 2 {
				return errStop
			}
			return nil
		})
	}()

	first := <-seen
	if first.TotalContacts != 0 {
		t.Errorf("got %d contacts initially", first.TotalContacts)
	}
	st := contact.DefaultState()
	st.ScrapedData = []contact.Record{record(t, "Alice", "")}
	if err := s.Save(ctx, "a", st); err != nil {
		t.Fatal(err)
	}
	if got := <-seen; got.TotalContacts != 1 {
		t.Errorf("got %d contacts, want 1", got.TotalContacts)
	}
	st.ScrapedData = append(st.ScrapedData, record(t, "Bob", ""))
	if err := s.Save(ctx, "a", st); err != nil {
		t.Fatal(err)
	}
	if err := <-done; !errors.Is(err, errStop) {
		t.Errorf("got %v, want the callback error", err)
	}
}

var errStop = errors.New("stop")
