package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/snatch/contact"
	"github.com/hazyhaar/snatch/dom"
	"github.com/hazyhaar/snatch/locator"
	"github.com/hazyhaar/snatch/notify"
)

// memStore is an in-memory Store recording every save.
type memStore struct {
	mu       sync.Mutex
	st       contact.State
	saves    []contact.State
	failNext int
	attempts int
	failOn   map[int]bool // 1-based save attempts that fail
}

func newMemStore(st contact.State) *memStore {
	st.Normalize()
	return &memStore{st: st}
}

func (m *memStore) Load(context.Context) (contact.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.st
	st.ScrapedData = append([]contact.Record(nil), m.st.ScrapedData...)
	return st, nil
}

func (m *memStore) Save(_ context.Context, st contact.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.failNext > 0 || m.failOn[m.attempts] {
		if m.failNext > 0 {
			m.failNext--
		}
		return errors.New("disk full")
	}
	st.ScrapedData = append([]contact.Record(nil), st.ScrapedData...)
	m.st = st
	m.saves = append(m.saves, st)
	return nil
}

func (m *memStore) state() contact.State {
	st, _ := m.Load(context.Background())
	return st
}

func (m *memStore) history() []contact.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]contact.State(nil), m.saves...)
}

type pageFunc func(ctx context.Context) (dom.Element, error)

func (f pageFunc) Root(ctx context.Context) (dom.Element, error) { return f(ctx) }

// fixed is a locator strategy returning a preset container.
type fixed struct{ el dom.Element }

func (fixed) Name() string                   { return "fixed" }
func (f fixed) Find(dom.Element) dom.Element { return f.el }

type rowMode int

const (
	rowOK rowMode = iota
	rowThrows
	rowPanics
)

// fakeRow renders "<name>\n10:00\n<message>".
type fakeRow struct {
	name string
	mode rowMode
}

func (r fakeRow) TagName() string                        { return "div" }
func (r fakeRow) Attr(string) (string, bool)             { return "", false }
func (r fakeRow) Parent() (dom.Element, error)           { return nil, nil }
func (r fakeRow) Children() ([]dom.Element, error)       { return nil, nil }
func (r fakeRow) QueryAll(string) ([]dom.Element, error) { return nil, nil }
func (r fakeRow) Geometry() (dom.Geometry, error)        { return dom.Geometry{}, nil }
func (r fakeRow) ScrollTo(float64) error                 { return nil }
func (r fakeRow) InnerText() (string, error) {
	switch r.mode {
	case rowThrows:
		return "", errors.New("stale node")
	case rowPanics:
		panic("detached node")
	}
	return r.name + "\n10:00\nmessage from " + r.name, nil
}

// virtualList renders only the rows inside the viewport, like the
// messaging client does.
type virtualList struct {
	mu        sync.Mutex
	names     []string
	modes     map[int]rowMode
	rowHeight float64
	height    float64
	top       float64
	locked    bool
	scrolls   []float64
}

func newVirtualList(n int) *virtualList {
	v := &virtualList{rowHeight: 60, height: 600, modes: map[int]rowMode{}}
	for i := 0; i < n; i++ {
		v.names = append(v.names, fmt.Sprintf("Contact %03d", i))
	}
	return v
}

func (v *virtualList) visible() []dom.Element {
	v.mu.Lock()
	defer v.mu.Unlock()
	first := int(v.top / v.rowHeight)
	last := int((v.top+v.height)/v.rowHeight) + 1
	var out []dom.Element
	for i := first; i < last && i < len(v.names); i++ {
		out = append(out, fakeRow{name: v.names[i], mode: v.modes[i]})
	}
	return out
}

func (v *virtualList) TagName() string                  { return "div" }
func (v *virtualList) Attr(string) (string, bool)       { return "", false }
func (v *virtualList) InnerText() (string, error)       { return "", nil }
func (v *virtualList) Parent() (dom.Element, error)     { return nil, nil }
func (v *virtualList) Children() ([]dom.Element, error) { return v.visible(), nil }
func (v *virtualList) QueryAll(sel string) ([]dom.Element, error) {
	if sel == `div[role="row"]` {
		return v.visible(), nil
	}
	return nil, nil
}

func (v *virtualList) Geometry() (dom.Geometry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return dom.Geometry{
		ClientHeight: v.height,
		ScrollHeight: float64(len(v.names)) * v.rowHeight,
		ScrollTop:    v.top,
		OverflowY:    "auto",
	}, nil
}

func (v *virtualList) ScrollTo(top float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scrolls = append(v.scrolls, top)
	if v.locked {
		return nil
	}
	limit := max(float64(len(v.names))*v.rowHeight-v.height, 0)
	v.top = min(max(top, 0), limit)
	return nil
}

func (v *virtualList) firstScroll() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.scrolls) == 0 {
		return -1
	}
	return v.scrolls[0]
}

func testConfig() Config {
	return Config{
		Patience:      4,
		MaxCycles:     300,
		ScrollStepMin: 300,
		ScrollStepMax: 400,
		DelayMin:      time.Millisecond,
		DelayMax:      2 * time.Millisecond,
		PollInterval:  2 * time.Millisecond,
		LocateTimeout: 300 * time.Millisecond,
		ResumeTimeout: 300 * time.Millisecond,
	}
}

// newTestEngine wires an engine to a preset container.
func newTestEngine(t *testing.T, cfg Config, container dom.Element, st *memStore) (*Engine, chan notify.Event) {
	t.Helper()
	page := pageFunc(func(context.Context) (dom.Element, error) { return container, nil })
	e := New(cfg, page, st, nil)
	e.SetLocator(locator.New(cfg.Locator, nil).WithStrategies(fixed{el: container}))
	events := make(chan notify.Event, 64)
	e.SetSink(notify.NewCallback(func(_ context.Context, ev notify.Event) error {
		events <- ev
		return nil
	}))
	return e, events
}

func waitPhase(t *testing.T, e *Engine, want contact.Phase) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e.Phase() == want {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.Wait(ctx); err != nil {
				t.Fatalf("wait: %v", err)
			}
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("got phase %q, want %q", e.Phase(), want)
}

func waitEvent(t *testing.T, events <-chan notify.Event, typ string) notify.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %q event", typ)
			return notify.Event{}
		}
	}
}
