package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/snatch/contact"
	"github.com/hazyhaar/snatch/dom"
	"github.com/hazyhaar/snatch/notify"
)

type haltReason int32

const (
	reasonNone haltReason = iota
	reasonStop
	reasonSuspend
)

const persistTimeout = 10 * time.Second

// run is one pass of the loop. Fields below the separator are owned by
// the loop goroutine.
type run struct {
	e    *Engine
	id   string
	auto bool
	acc  *contact.Accumulator

	stop     chan struct{}
	done     chan struct{}
	haltOnce sync.Once
	why      atomic.Int32

	base      contact.State
	container dom.Element
	cycles    int
	stalls    int
	scrollPos float64
	dirty     bool
	lastSave  time.Time
}

func (r *run) requestHalt(why haltReason) {
	r.haltOnce.Do(func() {
		r.why.Store(int32(why))
		close(r.stop)
	})
}

func (r *run) halted() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

func (r *run) loop(parent context.Context) {
	defer close(r.done)
	e := r.e

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-r.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	// Persistence outlives cancellation so a stop or shutdown is recorded.
	pctx := context.WithoutCancel(parent)

	st, err := r.load(pctx)
	if err != nil {
		e.logger.Warn("engine: load state failed, starting empty", "session", e.cfg.Session, "error", err)
		st = contact.DefaultState()
	}
	resume := r.auto || st.IsScanning || st.Phase == contact.PhasePaused
	r.base = st
	r.acc.Merge(st.ScrapedData)
	if resume {
		r.cycles = st.ScanCycles
		r.scrollPos = st.LastScrollPosition
		if st.RunID != "" {
			r.id = st.RunID
		}
	}
	r.save(pctx, contact.PhaseLocating, true, "Looking for the chat list")

	timeout := e.cfg.LocateTimeout
	if r.auto {
		timeout = e.cfg.ResumeTimeout
	}
	container, err := e.loc.Wait(ctx, e.page.Root, e.cfg.PollInterval, timeout)
	if err != nil {
		if r.halted() || parent.Err() != nil {
			r.finishHalt(pctx, parent)
			return
		}
		r.fail(pctx, err)
		return
	}
	r.container = container
	if err := container.ScrollTo(r.scrollPos); err != nil {
		e.logger.Debug("engine: restore scroll failed", "error", err)
	}

	e.setPhase(contact.PhaseScanning)
	typ := notify.EventStarted
	if resume {
		typ = notify.EventResumed
	}
	e.logger.Info("engine: "+typ, "session", e.cfg.Session, "run", r.id,
		"seeded", r.acc.Len(), "scroll", r.scrollPos, "cycle", r.cycles)
	r.save(pctx, contact.PhaseScanning, true, r.scanningStatus())
	e.emit(typ, r, "")

	for {
		if r.halted() || ctx.Err() != nil {
			r.finishHalt(pctx, parent)
			return
		}
		if r.cycles >= e.cfg.MaxCycles {
			e.logger.Warn("engine: cycle limit reached", "session", e.cfg.Session, "cycles", r.cycles)
			r.complete(pctx)
			return
		}
		if r.cycle(ctx, pctx) {
			r.complete(pctx)
			return
		}
	}
}

// cycle runs extract, merge, persist, scroll, wait, evaluate. It reports
// whether the list is exhausted.
func (r *run) cycle(ctx, pctx context.Context) bool {
	e := r.e
	r.cycles++
	added := r.sweep()

	g, err := r.geometry(ctx)
	if err == nil {
		r.scrollPos = g.ScrollTop
	}
	r.maybeSave(pctx, added)
	e.logger.Debug("engine: cycle", "cycle", r.cycles, "added", added,
		"contacts", r.acc.Len(), "scroll", r.scrollPos, "stalls", r.stalls)

	if err != nil {
		r.stalls++
		r.sleep(ctx, r.delay())
		return r.stalls >= e.cfg.Patience
	}

	prev := g.ScrollTop
	step := e.cfg.ScrollStepMin + r.e.random()*(e.cfg.ScrollStepMax-e.cfg.ScrollStepMin)
	if err := r.container.ScrollTo(prev + step); err != nil {
		e.logger.Debug("engine: scroll failed", "error", err)
	}
	if !r.sleep(ctx, r.delay()) {
		return false
	}

	after, err := r.geometry(ctx)
	if err != nil {
		r.stalls++
		return r.stalls >= e.cfg.Patience
	}
	r.scrollPos = after.ScrollTop
	if math.Abs(after.ScrollTop-prev) < e.cfg.MinScrollDelta || added == 0 {
		r.stalls++
	} else {
		r.stalls = 0
	}
	if after.AtBottom(e.cfg.BottomTolerance) {
		if n := r.sweep(); n > 0 {
			r.dirty = true
		}
		e.logger.Debug("engine: reached bottom", "cycle", r.cycles, "contacts", r.acc.Len())
		return true
	}
	return r.stalls >= e.cfg.Patience
}

// sweep extracts every visible row and merges the results.
func (r *run) sweep() int {
	rows := r.visibleRows()
	batch := make([]contact.Record, 0, len(rows))
	for _, row := range rows {
		if rec, ok := r.extract(row); ok {
			batch = append(batch, rec)
		}
	}
	return r.acc.Merge(batch)
}

func (r *run) visibleRows() []dom.Element {
	for _, sel := range r.e.cfg.RowSelectors {
		rows, err := r.container.QueryAll(sel)
		if err == nil && len(rows) > 0 {
			return rows
		}
	}
	kids, err := r.container.Children()
	if err != nil {
		r.e.logger.Debug("engine: no rows", "error", err)
		return nil
	}
	return kids
}

// extract isolates one row: errors and panics skip the row only.
func (r *run) extract(row dom.Element) (rec contact.Record, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.e.logger.Debug("engine: row panic", "panic", p)
			ok = false
		}
	}()
	rec, ok, err := r.e.rows.Extract(row)
	if err != nil {
		r.e.logger.Debug("engine: row skipped", "error", err)
		return contact.Record{}, false
	}
	return rec, ok
}

// geometry reads the container metrics, relocating it once if the node
// went away (client re-rendered the pane).
func (r *run) geometry(ctx context.Context) (dom.Geometry, error) {
	g, err := r.container.Geometry()
	if err == nil {
		return g, nil
	}
	r.e.logger.Debug("engine: container lost, relocating", "error", err)
	root, rerr := r.e.page.Root(ctx)
	if rerr != nil {
		return g, err
	}
	el, _, lerr := r.e.loc.Locate(root)
	if lerr != nil {
		return g, err
	}
	r.container = el
	return el.Geometry()
}

func (r *run) delay() time.Duration {
	c := r.e.cfg
	return c.DelayMin + time.Duration(r.e.random()*float64(c.DelayMax-c.DelayMin))
}

// sleep waits d and reports false if the run was halted meanwhile.
func (r *run) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (r *run) maybeSave(pctx context.Context, added int) {
	if added == 0 && !r.dirty && time.Since(r.lastSave) < r.e.cfg.PersistInterval {
		return
	}
	r.save(pctx, contact.PhaseScanning, true, r.scanningStatus())
}

// save writes the snapshot. A failure is logged and retried next cycle.
func (r *run) save(pctx context.Context, p contact.Phase, scanning bool, msg string) error {
	st := r.base
	st.ScrapedData = r.acc.Snapshot()
	st.IsScanning = scanning
	st.ScanStatus = msg
	st.LastScrollPosition = r.scrollPos
	st.ScanCycles = r.cycles
	st.Phase = p
	st.RunID = r.id
	st.Normalize()

	ctx, cancel := context.WithTimeout(pctx, persistTimeout)
	defer cancel()
	if err := r.e.store.Save(ctx, st); err != nil {
		r.dirty = true
		r.e.logger.Warn("engine: persist failed", "session", r.e.cfg.Session, "cycle", r.cycles, "error", err)
		return err
	}
	r.dirty = false
	r.lastSave = time.Now()
	return nil
}

func (r *run) load(pctx context.Context) (contact.State, error) {
	ctx, cancel := context.WithTimeout(pctx, persistTimeout)
	defer cancel()
	return r.e.store.Load(ctx)
}

func (r *run) complete(pctx context.Context) {
	r.base.ExtractionCount++
	n := r.acc.Len()
	msg := fmt.Sprintf("Completed: %d contacts", n)
	r.save(pctx, contact.PhaseCompleted, false, msg)
	r.e.setPhase(contact.PhaseCompleted)
	r.e.logger.Info("engine: completed", "session", r.e.cfg.Session, "run", r.id, "contacts", n, "cycles", r.cycles)
	r.e.emit(notify.EventCompleted, r, msg)
}

func (r *run) fail(pctx context.Context, cause error) {
	if r.auto {
		// Keep the progress resumable by a manual start.
		msg := "Could not resume: chat list did not load"
		r.save(pctx, contact.PhasePaused, false, msg)
		r.e.setPhase(contact.PhasePaused)
		r.e.logger.Warn("engine: auto-resume gave up", "session", r.e.cfg.Session, "error", cause)
		r.e.emit(notify.EventFailed, r, msg)
		return
	}
	msg := "Chat list not found: reload the page and try again"
	r.save(pctx, contact.PhaseFailed, false, msg)
	r.e.setPhase(contact.PhaseFailed)
	r.e.logger.Error("engine: failed", "session", r.e.cfg.Session, "error", cause)
	r.e.emit(notify.EventFailed, r, msg)
}

// finishHalt records a stop or a suspend. A cancelled parent context
// without an explicit request counts as a suspend.
func (r *run) finishHalt(pctx, parent context.Context) {
	why := haltReason(r.why.Load())
	if why == reasonNone && parent.Err() != nil {
		why = reasonSuspend
	}
	n := r.acc.Len()
	if why == reasonSuspend {
		p := contact.PhaseScanning
		if r.container == nil {
			p = contact.PhaseLocating
		}
		r.save(pctx, p, true, "Interrupted: resumes when the page is back")
		r.e.setPhase(contact.PhasePaused)
		r.e.logger.Info("engine: suspended", "session", r.e.cfg.Session, "contacts", n, "cycle", r.cycles)
		r.e.emit(notify.EventPaused, r, "suspended")
		return
	}
	msg := statusStopped(n)
	r.save(pctx, contact.PhasePaused, false, msg)
	r.e.setPhase(contact.PhasePaused)
	r.e.logger.Info("engine: stopped", "session", r.e.cfg.Session, "contacts", n, "cycle", r.cycles)
	r.e.emit(notify.EventPaused, r, msg)
}

func (r *run) scanningStatus() string {
	return fmt.Sprintf("Scanning: %d contacts (cycle %d)", r.acc.Len(), r.cycles)
}

func statusStopped(n int) string {
	return fmt.Sprintf("Stopped: %d contacts", n)
}
