// Package roddom implements dom.Element over a live go-rod element.
//
// Every call runs under its own timeout so a hung renderer degrades one
// accessor instead of the loop.
package roddom

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/snatch/dom"
)

// DefaultTimeout bounds a single DOM call.
const DefaultTimeout = 5 * time.Second

// Element wraps a remote element.
type Element struct {
	el      *rod.Element
	ctx     context.Context
	timeout time.Duration
	tag     string
}

var _ dom.Element = (*Element)(nil)

// Wrap binds el to ctx. Elements derived from it share ctx and timeout.
func Wrap(ctx context.Context, el *rod.Element, timeout time.Duration) *Element {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Element{el: el.Context(ctx), ctx: ctx, timeout: timeout}
}

// Root returns the document element of page.
func Root(ctx context.Context, page *rod.Page, timeout time.Duration) (*Element, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	el, err := page.Context(ctx).Timeout(timeout).Element("html")
	if err != nil {
		return nil, fmt.Errorf("roddom: root: %w", err)
	}
	return Wrap(ctx, el, timeout), nil
}

// Rod returns the underlying element.
func (e *Element) Rod() *rod.Element { return e.el }

func (e *Element) call() (*rod.Element, func()) {
	el := e.el.Timeout(e.timeout)
	return el, func() { el.CancelTimeout() }
}

func (e *Element) wrap(els rod.Elements) []dom.Element {
	out := make([]dom.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &Element{el: el.Context(e.ctx), ctx: e.ctx, timeout: e.timeout})
	}
	return out
}

func (e *Element) TagName() string {
	if e.tag != "" {
		return e.tag
	}
	el, done := e.call()
	defer done()
	res, err := el.Eval(`() => this.tagName`)
	if err != nil {
		return ""
	}
	e.tag = strings.ToLower(res.Value.Str())
	return e.tag
}

func (e *Element) Attr(name string) (string, bool) {
	el, done := e.call()
	defer done()
	v, err := el.Attribute(name)
	if err != nil || v == nil {
		return "", false
	}
	return *v, true
}

func (e *Element) InnerText() (string, error) {
	el, done := e.call()
	defer done()
	res, err := el.Eval(`() => this.innerText || ""`)
	if err != nil {
		return "", fmt.Errorf("roddom: inner text: %w", err)
	}
	return res.Value.Str(), nil
}

func (e *Element) Parent() (dom.Element, error) {
	el, done := e.call()
	defer done()
	res, err := el.Eval(`() => this.parentElement === null`)
	if err != nil {
		return nil, fmt.Errorf("roddom: parent: %w", err)
	}
	if res.Value.Bool() {
		return nil, nil
	}
	p, err := el.Parent()
	if err != nil {
		return nil, fmt.Errorf("roddom: parent: %w", err)
	}
	return &Element{el: p.Context(e.ctx), ctx: e.ctx, timeout: e.timeout}, nil
}

func (e *Element) Children() ([]dom.Element, error) {
	return e.QueryAll(":scope > *")
}

func (e *Element) QueryAll(selector string) ([]dom.Element, error) {
	el, done := e.call()
	defer done()
	els, err := el.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("roddom: query %q: %w", selector, err)
	}
	return e.wrap(els), nil
}

const geometryJS = `() => ({
	clientHeight: this.clientHeight,
	scrollHeight: this.scrollHeight,
	scrollTop: this.scrollTop,
	overflowY: getComputedStyle(this).overflowY
})`

func (e *Element) Geometry() (dom.Geometry, error) {
	el, done := e.call()
	defer done()
	res, err := el.Eval(geometryJS)
	if err != nil {
		return dom.Geometry{}, fmt.Errorf("roddom: geometry: %w", err)
	}
	var g dom.Geometry
	if err := res.Value.Unmarshal(&g); err != nil {
		return dom.Geometry{}, fmt.Errorf("roddom: geometry: %w", err)
	}
	return g, nil
}

// ScrollTo sets scrollTop; the browser clamps and fires the scroll event
// the client's virtualised list renders on.
func (e *Element) ScrollTo(top float64) error {
	el, done := e.call()
	defer done()
	if _, err := el.Eval(`(top) => { this.scrollTop = top }`, top); err != nil {
		return fmt.Errorf("roddom: scroll: %w", err)
	}
	return nil
}
