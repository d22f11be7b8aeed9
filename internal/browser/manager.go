// Package browser manages the Chrome instance that hosts the messaging
// client: launch or remote connect, a persistent profile so the login
// survives restarts, memory and lifetime recycling, and a stealth tab.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// ErrClosed is returned once the manager has been closed.
var ErrClosed = errors.New("browser: manager is closed")

// Mode selects how Chrome renders.
type Mode int

const (
	Headless Mode = iota // new headless + stealth
	Headful              // real window on an Xvfb display
)

// ParseMode maps "headless" and "headful".
func ParseMode(s string) Mode {
	if s == "headless" {
		return Headless
	}
	return Headful
}

func (m Mode) String() string {
	if m == Headless {
		return "headless"
	}
	return "headful"
}

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome.
	// Empty launches a local one.
	RemoteURL string

	// UserDataDir holds the Chrome profile. The messaging client keeps
	// its pairing there, so it must be stable across runs.
	UserDataDir string

	MemoryLimit      int64         // JS heap bytes before a recycle. Default: 1GB.
	RecycleInterval  time.Duration // Default: 4h.
	ResourceBlocking []string      // images | fonts | media | stylesheets
	Mode             Mode
	XvfbDisplay      string // Default: ":99".

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Hooks run around a recycle. Before runs while the old browser is
// still alive; After runs once the new one is connected.
type Hooks struct {
	Before func()
	After  func(b *rod.Browser)
}

// Manager owns the Chrome process.
type Manager struct {
	cfg Config

	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	startAt time.Time
	closed  bool
	hooks   []Hooks

	recycling sync.Mutex
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// OnRecycle registers hooks. They run in registration order.
func (m *Manager) OnRecycle(h Hooks) {
	m.mu.Lock()
	m.hooks = append(m.hooks, h)
	m.mu.Unlock()
}

// Start launches or connects to Chrome and starts the recycle monitor,
// which stops with ctx.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	b, err := m.launch()
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.startAt = time.Now()
	go m.monitor(ctx)
	return b, nil
}

// Browser returns the current handle, nil when not running.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Uptime reports how long the current Chrome has been running.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.browser == nil {
		return 0
	}
	return time.Since(m.startAt)
}

// Recycle restarts Chrome. Hooks run outside the manager lock, so they
// may call back into the manager.
func (m *Manager) Recycle(ctx context.Context) error {
	m.recycling.Lock()
	defer m.recycling.Unlock()

	m.mu.RLock()
	closed, hooks, up := m.closed, append([]Hooks(nil), m.hooks...), time.Since(m.startAt)
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	log := m.cfg.Logger
	log.Info("browser: recycling", "uptime", up)

	for _, h := range hooks {
		if h.Before != nil {
			h.Before()
		}
	}

	m.mu.Lock()
	m.cleanup()
	b, err := m.launch()
	if err == nil {
		m.browser = b
		m.startAt = time.Now()
	}
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("browser: relaunch: %w", err)
	}

	for _, h := range hooks {
		if h.After != nil {
			h.After(b)
		}
	}
	log.Info("browser: recycled")
	return nil
}

// Close shuts down Chrome and Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger
	if m.cfg.Mode == Headful && m.cfg.RemoteURL == "" {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(m.cfg.Mode == Headless).
			Set("disable-blink-features", "AutomationControlled")
		if m.cfg.UserDataDir != "" {
			if err := os.MkdirAll(m.cfg.UserDataDir, 0o700); err != nil {
				return nil, fmt.Errorf("browser: profile dir: %w", err)
			}
			l = l.UserDataDir(m.cfg.UserDataDir)
		}
		if m.cfg.Mode == Headful {
			l = l.Env(append(os.Environ(), "DISPLAY="+m.cfg.XvfbDisplay)...)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched chrome", "url", wsURL, "mode", m.cfg.Mode, "profile", m.cfg.UserDataDir)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		if m.cfg.RemoteURL == "" {
			_ = m.browser.Close()
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Kill()
		m.lnch = nil
	}
	m.stopXvfb()
}

// monitor recycles Chrome when it outlives RecycleInterval or its heap
// outgrows MemoryLimit.
func (m *Manager) monitor(ctx context.Context) {
	log := m.cfg.Logger
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.mu.RLock()
		b, closed, startAt := m.browser, m.closed, m.startAt
		m.mu.RUnlock()
		if closed {
			return
		}
		if b == nil {
			continue
		}

		reason := ""
		if time.Since(startAt) > m.cfg.RecycleInterval {
			reason = "interval"
		} else if used, err := heapUsage(b); err != nil {
			log.Debug("browser: heap check failed", "error", err)
		} else if used > m.cfg.MemoryLimit {
			reason = "memory"
			log.Info("browser: memory limit exceeded", "used", used, "limit", m.cfg.MemoryLimit)
		}
		if reason == "" {
			continue
		}
		if err := m.Recycle(ctx); err != nil {
			log.Error("browser: recycle failed", "reason", reason, "error", err)
		}
	}
}

// heapUsage sums the JS heap of every open page.
func heapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil {
		return 0, err
	}
	if len(pages) == 0 {
		return 0, fmt.Errorf("no pages")
	}
	var total int64
	for _, p := range pages {
		res, err := p.Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
		if err != nil {
			continue
		}
		total += int64(res.Value.Int())
	}
	return total, nil
}
