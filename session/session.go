// Package session hosts the engine in a browser tab. It is the page the
// engine reads from, and it keeps a run alive across the tab's life:
// reloads and Chrome recycles suspend the run, and the run is resumed
// once the messaging client has rendered again.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/snatch/dom"
	"github.com/hazyhaar/snatch/internal/browser"
)

// ErrDetached is returned while no tab is attached.
var ErrDetached = errors.New("session: page detached")

// Tab is an open page of the messaging client.
type Tab interface {
	Root(ctx context.Context) (dom.Element, error)
	// Mark tags the current document; Marked reports false once the
	// document was replaced by a reload or navigation.
	Mark(ctx context.Context) error
	Marked(ctx context.Context) (bool, error)
	Close() error
}

// Driver opens tabs.
type Driver interface {
	Open(ctx context.Context) (Tab, error)
}

// Engine is the part of the extraction engine the session drives.
type Engine interface {
	AutoResume(ctx context.Context) (bool, error)
	Suspend(ctx context.Context) error
}

// Config tunes the session watcher.
type Config struct {
	WatchPoll      time.Duration // default 2s
	SuspendTimeout time.Duration // default 15s
	// ResumeTimeout bounds the wait for the client to render before a
	// pending resume is handed to the engine anyway. Default 30s.
	ResumeTimeout time.Duration
}

// Session owns the tab for one page context.
type Session struct {
	drv    Driver
	cfg    Config
	logger *slog.Logger

	attaching sync.Mutex

	mu      sync.Mutex
	eng     Engine
	tab     Tab
	pending bool // auto-resume once the client is loaded
	since   time.Time
	lastErr error
}

// New creates a session. Bind the engine before Start.
func New(drv Driver, cfg Config, logger *slog.Logger) *Session {
	if cfg.WatchPoll <= 0 {
		cfg.WatchPoll = 2 * time.Second
	}
	if cfg.SuspendTimeout <= 0 {
		cfg.SuspendTimeout = 15 * time.Second
	}
	if cfg.ResumeTimeout <= 0 {
		cfg.ResumeTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{drv: drv, cfg: cfg, logger: logger}
}

// Bind sets the engine driven by reload and recycle events.
func (s *Session) Bind(eng Engine) {
	s.mu.Lock()
	s.eng = eng
	s.mu.Unlock()
}

// Root implements engine.Page.
func (s *Session) Root(ctx context.Context) (dom.Element, error) {
	s.mu.Lock()
	tab := s.tab
	s.mu.Unlock()
	if tab == nil {
		return nil, ErrDetached
	}
	return tab.Root(ctx)
}

// Detached reports whether no tab is attached.
func (s *Session) Detached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tab == nil
}

// Start opens the tab and runs the watcher until ctx ends. A failed open
// leaves the session detached; Reattach retries it.
func (s *Session) Start(ctx context.Context) error {
	err := s.Reattach(ctx)
	go s.watch(ctx)
	return err
}

// Reattach replaces the tab with a fresh one. An active run is
// suspended first and resumed once the new tab has loaded.
func (s *Session) Reattach(ctx context.Context) error {
	s.attaching.Lock()
	defer s.attaching.Unlock()
	s.suspend(ctx)

	s.mu.Lock()
	old := s.tab
	s.tab = nil
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	tab, err := s.drv.Open(ctx)
	if err == nil {
		if err = tab.Mark(ctx); err != nil {
			_ = tab.Close()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err
		return fmt.Errorf("session: attach: %w", err)
	}
	s.tab = tab
	s.pending, s.since = true, time.Now()
	s.lastErr = nil
	s.logger.Info("session: attached")
	return nil
}

// Close closes the tab after suspending the engine.
func (s *Session) Close() error {
	s.suspend(context.Background())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tab == nil {
		return nil
	}
	err := s.tab.Close()
	s.tab = nil
	return err
}

// Hooks returns recycle hooks for the browser manager: the run is
// suspended before Chrome goes away and the tab reopened after.
func (s *Session) Hooks(ctx context.Context) browser.Hooks {
	return browser.Hooks{
		Before: func() {
			s.suspend(ctx)
			s.mu.Lock()
			s.tab = nil // dies with the browser
			s.mu.Unlock()
		},
		After: func(*rod.Browser) {
			if err := s.Reattach(ctx); err != nil {
				s.logger.Warn("session: reopen after recycle failed", "error", err)
			}
		},
	}
}

func (s *Session) watch(ctx context.Context) {
	t := time.NewTicker(s.cfg.WatchPoll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Session) tick(ctx context.Context) {
	s.mu.Lock()
	tab := s.tab
	s.mu.Unlock()
	if tab == nil {
		return
	}

	marked, err := tab.Marked(ctx)
	if err != nil {
		s.logger.Warn("session: tab lost", "error", err)
		s.suspend(ctx)
		s.mu.Lock()
		if s.tab == tab {
			_ = tab.Close()
			s.tab = nil
			s.lastErr = err
		}
		s.mu.Unlock()
		return
	}
	if !marked {
		s.logger.Info("session: page reloaded")
		s.suspend(ctx)
		if err := tab.Mark(ctx); err != nil {
			s.logger.Debug("session: mark failed", "error", err)
			return
		}
		s.mu.Lock()
		s.pending, s.since = true, time.Now()
		s.mu.Unlock()
	}

	s.mu.Lock()
	pending, eng, since := s.pending, s.eng, s.since
	s.mu.Unlock()
	if !pending || eng == nil {
		return
	}
	root, err := tab.Root(ctx)
	if err != nil || !browser.Loaded(root) {
		if time.Since(since) < s.cfg.ResumeTimeout {
			return
		}
		// The engine's bounded wait settles the run: paused with
		// isScanning cleared if the list never shows up.
		s.logger.Warn("session: client not loaded, resuming anyway", "waited", time.Since(since))
	}
	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()
	resumed, err := eng.AutoResume(ctx)
	if err != nil {
		s.logger.Warn("session: auto-resume failed", "error", err)
		return
	}
	s.logger.Debug("session: client loaded", "resumed", resumed)
}

func (s *Session) suspend(ctx context.Context) {
	s.mu.Lock()
	eng := s.eng
	s.mu.Unlock()
	if eng == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SuspendTimeout)
	defer cancel()
	if err := eng.Suspend(ctx); err != nil {
		s.logger.Warn("session: suspend failed", "error", err)
	}
}

// LastError returns the most recent attach or liveness failure.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
