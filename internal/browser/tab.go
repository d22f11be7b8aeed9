package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"
)

// Tab is the stealth page the messaging client runs in.
type Tab struct {
	Page   *rod.Page
	URL    string
	router *rod.HijackRouter
}

// OpenTab creates a stealth tab and navigates to url. The load wait is
// bounded by timeout; a slow load is logged, not fatal, because the
// engine waits for the chat list itself.
func OpenTab(ctx context.Context, mgr *Manager, url string, timeout time.Duration) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	t := &Tab{Page: page, URL: url}
	if len(mgr.cfg.ResourceBlocking) > 0 {
		t.router = blockResources(page, mgr.cfg.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(url); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load", "url", url, "error", err)
	}
	return t, nil
}

// Adopt wraps an existing page of b whose URL starts with url, so a
// remote Chrome where the user already opened the client is reused.
func Adopt(b *rod.Browser, url string) (*Tab, error) {
	pages, err := b.Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list pages: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if len(info.URL) >= len(url) && info.URL[:len(url)] == url {
			return &Tab{Page: p, URL: url}, nil
		}
	}
	return nil, fmt.Errorf("browser: no page at %s", url)
}

// Reload reloads the tab.
func (t *Tab) Reload(ctx context.Context) error {
	if err := t.Page.Context(ctx).Reload(); err != nil {
		return fmt.Errorf("browser: reload: %w", err)
	}
	return nil
}

// HTML returns the serialised document.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	res, err := t.Page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// Alive reports whether the tab still answers.
func (t *Tab) Alive(ctx context.Context) bool {
	_, err := t.Page.Context(ctx).Eval(`() => 1`)
	return err == nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.router != nil {
		_ = t.router.Stop()
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
