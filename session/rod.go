package session

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/snatch/dom"
	"github.com/hazyhaar/snatch/dom/roddom"
	"github.com/hazyhaar/snatch/internal/browser"
)

// RodDriver opens the messaging client in the managed Chrome.
type RodDriver struct {
	Manager     *browser.Manager
	URL         string
	LoadTimeout time.Duration
	CallTimeout time.Duration
	// Adopt reuses an already open tab at URL before opening a new one.
	Adopt bool
}

// Open implements Driver.
func (d *RodDriver) Open(ctx context.Context) (Tab, error) {
	if d.Adopt {
		if b := d.Manager.Browser(); b != nil {
			if t, err := browser.Adopt(b, d.URL); err == nil {
				return &rodTab{tab: t, timeout: d.CallTimeout, adopted: true}, nil
			}
		}
	}
	t, err := browser.OpenTab(ctx, d.Manager, d.URL, d.LoadTimeout)
	if err != nil {
		return nil, err
	}
	return &rodTab{tab: t, timeout: d.CallTimeout}, nil
}

type rodTab struct {
	tab     *browser.Tab
	timeout time.Duration
	adopted bool
}

const markJS = `() => { window.__snatchMark = true }`

func (t *rodTab) Root(ctx context.Context) (dom.Element, error) {
	return roddom.Root(ctx, t.tab.Page, t.timeout)
}

func (t *rodTab) Mark(ctx context.Context) error {
	return t.eval(ctx, markJS, nil)
}

func (t *rodTab) Marked(ctx context.Context) (bool, error) {
	var marked bool
	err := t.eval(ctx, `() => window.__snatchMark === true`, &marked)
	return marked, err
}

func (t *rodTab) eval(ctx context.Context, js string, out *bool) error {
	if t.timeout <= 0 {
		t.timeout = roddom.DefaultTimeout
	}
	p := t.tab.Page.Context(ctx).Timeout(t.timeout)
	defer p.CancelTimeout()
	res, err := p.Eval(js)
	if err != nil {
		return fmt.Errorf("session: eval: %w", err)
	}
	if out != nil {
		*out = res.Value.Bool()
	}
	return nil
}

func (t *rodTab) Close() error {
	if t.adopted {
		return nil
	}
	return t.tab.Close()
}
