// Package engine runs the scan/scroll extraction loop against one page
// context: it locates the chat-list container, extracts the visible rows,
// merges them into a deduplicating accumulator, persists progress,
// scrolls and decides when the list is exhausted.
//
// There is one Engine per page context. At most one loop runs at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/snatch/contact"
	"github.com/hazyhaar/snatch/dom"
	"github.com/hazyhaar/snatch/locator"
	"github.com/hazyhaar/snatch/notify"
	"github.com/hazyhaar/snatch/rowextract"
)

var (
	// ErrUnknownCommand is returned by Handle for an unsupported action.
	ErrUnknownCommand = errors.New("engine: unknown command")
	// ErrScanning is returned by Clear while a run is active.
	ErrScanning = errors.New("engine: scan in progress")
)

// Page gives access to the host document. Root is called again after a
// reload, so implementations may return a different tree each time.
type Page interface {
	Root(ctx context.Context) (dom.Element, error)
}

// Store persists the extraction state document.
type Store interface {
	Load(ctx context.Context) (contact.State, error)
	Save(ctx context.Context, st contact.State) error
}

// Engine is the extraction state machine of one page context.
type Engine struct {
	cfg     Config
	page    Page
	store   Store
	loc     *locator.Locator
	rows    *rowextract.Extractor
	logger  *slog.Logger
	sink    notify.Sink
	random  func() float64
	baseCtx context.Context

	mu    sync.Mutex
	phase contact.Phase
	cur   *run // latest run; nil before the first
	known int  // persisted count seen last while no run exists; -1 unknown
}

// New creates an engine. A nil logger uses slog.Default.
func New(cfg Config, page Page, st Store, logger *slog.Logger) *Engine {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		page:    page,
		store:   st,
		loc:     locator.New(cfg.Locator, logger),
		rows:    rowextract.New(cfg.Rows),
		logger:  logger,
		sink:    notify.Discard{},
		random:  rand.Float64,
		baseCtx: context.Background(),
		phase:   contact.PhaseIdle,
		known:   -1,
	}
}

// SetContext sets the parent context of run loops. Cancelling it suspends
// the active run.
func (e *Engine) SetContext(ctx context.Context) { e.baseCtx = ctx }

// SetSink sets the event sink.
func (e *Engine) SetSink(s notify.Sink) {
	if s == nil {
		s = notify.Discard{}
	}
	e.sink = s
}

// SetRand replaces the source of uniform [0,1) values used for scroll
// steps and delays.
func (e *Engine) SetRand(f func() float64) { e.random = f }

// SetLocator replaces the container locator.
func (e *Engine) SetLocator(l *locator.Locator) { e.loc = l }

// SetExtractor replaces the row extractor.
func (e *Engine) SetExtractor(x *rowextract.Extractor) { e.rows = x }

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Phase returns the current state machine position.
func (e *Engine) Phase() contact.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Start begins a run, or resumes a paused one. A start while a loop is
// active is a no-op reporting StatusAlreadyRunning.
func (e *Engine) Start(ctx context.Context) (Result, error) {
	return e.begin(ctx, false)
}

// AutoResume restarts an interrupted run after a page (re)load. It does
// nothing unless the persisted state says a scan was in progress. The
// container wait is bounded by ResumeTimeout.
func (e *Engine) AutoResume(ctx context.Context) (bool, error) {
	st, err := e.store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("engine: auto-resume: %w", err)
	}
	e.remember(len(st.ScrapedData))
	if !st.IsScanning {
		return false, nil
	}
	res, err := e.begin(ctx, true)
	if err != nil {
		return false, err
	}
	if res.Status == StatusAlreadyRunning {
		return false, nil
	}
	e.logger.Info("engine: auto-resume", "session", e.cfg.Session, "contacts", len(st.ScrapedData))
	return true, nil
}

func (e *Engine) begin(_ context.Context, auto bool) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase.Active() {
		return e.resultLocked(StatusAlreadyRunning), nil
	}
	r := &run{
		e:    e,
		id:   newRunID(),
		auto: auto,
		stop: make(chan struct{}),
		done: make(chan struct{}),
		acc:  contact.NewAccumulator(),
	}
	e.cur = r
	e.phase = contact.PhaseLocating
	go r.loop(e.baseCtx)
	return e.resultLocked(StatusStarted), nil
}

// Stop halts the active loop after its current cycle and returns the
// accumulated count. The persisted snapshot is kept and isScanning is
// cleared. Stop is accepted in any phase.
func (e *Engine) Stop(ctx context.Context) (Result, error) {
	return e.halt(ctx, reasonStop)
}

// Suspend halts the loop like Stop but leaves isScanning set, so the run
// is picked up by AutoResume once the page context is back.
func (e *Engine) Suspend(ctx context.Context) error {
	_, err := e.halt(ctx, reasonSuspend)
	return err
}

func (e *Engine) halt(ctx context.Context, why haltReason) (Result, error) {
	e.mu.Lock()
	r := e.cur
	active := e.phase.Active()
	if active {
		r.requestHalt(why)
	}
	e.mu.Unlock()

	if active {
		select {
		case <-r.done:
		case <-ctx.Done():
			return Result{}, fmt.Errorf("engine: stop: %w", ctx.Err())
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.resultLocked(StatusStopped), nil
	}
	if why == reasonSuspend {
		return Result{}, nil
	}

	// Nothing running here, but a previous process may have left the
	// flag set; clear it so a reload does not auto-resume.
	st, err := e.store.Load(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("engine: stop: %w", err)
	}
	e.remember(len(st.ScrapedData))
	if st.IsScanning {
		st.IsScanning = false
		st.ScanStatus = statusStopped(len(st.ScrapedData))
		if st.Phase.Active() {
			st.Phase = contact.PhasePaused
		}
		if err := e.store.Save(ctx, st); err != nil {
			return Result{}, fmt.Errorf("engine: stop: %w", err)
		}
	}
	return stopped(len(st.ScrapedData)), nil
}

// Wait blocks until the current run loop has exited or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	r := e.cur
	e.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports whether a loop is active and how many contacts are held.
func (e *Engine) Status(ctx context.Context) (Result, error) {
	e.mu.Lock()
	if e.cur != nil {
		defer e.mu.Unlock()
		return e.statusLocked(), nil
	}
	e.mu.Unlock()
	st, err := e.store.Load(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("engine: status: %w", err)
	}
	e.remember(len(st.ScrapedData))
	return status(false, len(st.ScrapedData), contact.PhaseIdle), nil
}

// Contacts returns the accumulated records: the live accumulator while a
// run exists, else the persisted snapshot.
func (e *Engine) Contacts(ctx context.Context) ([]contact.Record, error) {
	e.mu.Lock()
	r := e.cur
	e.mu.Unlock()
	if r != nil && r.acc.Len() > 0 {
		return r.acc.Snapshot(), nil
	}
	st, err := e.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: contacts: %w", err)
	}
	return st.ScrapedData, nil
}

// State returns the persisted state document.
func (e *Engine) State(ctx context.Context) (contact.State, error) {
	st, err := e.store.Load(ctx)
	if err != nil {
		return contact.State{}, fmt.Errorf("engine: state: %w", err)
	}
	return st, nil
}

// Clear wipes the accumulated data while keeping the completed
// extraction counter. It is refused while a run is active.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase.Active() {
		return ErrScanning
	}
	st, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("engine: clear: %w", err)
	}
	if err := e.store.Save(ctx, st.Cleared()); err != nil {
		return fmt.Errorf("engine: clear: %w", err)
	}
	e.cur = nil
	e.phase = contact.PhaseIdle
	e.known = 0
	e.logger.Info("engine: cleared", "session", e.cfg.Session)
	return nil
}

// remember records a persisted count for Ping while no run exists.
func (e *Engine) remember(n int) {
	e.mu.Lock()
	if e.cur == nil {
		e.known = n
	}
	e.mu.Unlock()
}

func (e *Engine) setPhase(p contact.Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

func (e *Engine) statusLocked() Result {
	n := max(e.known, 0)
	if e.cur != nil {
		n = e.cur.acc.Len()
	}
	return status(e.phase.Active(), n, e.phase)
}

func (e *Engine) resultLocked(s string) Result {
	n := 0
	if e.cur != nil {
		n = e.cur.acc.Len()
	}
	switch s {
	case StatusStopped:
		return stopped(n)
	default:
		r := status(e.phase.Active(), n, e.phase)
		r.Status = s
		return r
	}
}

// emit delivers an event without blocking the loop.
func (e *Engine) emit(typ string, r *run, msg string) {
	ev := notify.Event{
		ID:       uuid.NewString(),
		Type:     typ,
		Session:  e.cfg.Session,
		RunID:    r.id,
		Contacts: r.acc.Len(),
		Cycles:   r.cycles,
		Status:   msg,
		Time:     time.Now().UTC(),
	}
	sink := e.sink
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(e.baseCtx), 30*time.Second)
		defer cancel()
		if err := sink.Send(ctx, ev); err != nil {
			e.logger.Debug("engine: event not delivered", "type", typ, "error", err)
		}
	}()
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
