// Package htmldom implements dom.Element over a parsed HTML tree.
//
// There is no layout engine behind it, so scroll geometry is read from
// fixture attributes on the element:
//
//	data-client-height   visible height in px
//	data-scroll-height   full content height in px
//	data-scroll-top      current offset in px (rewritten by ScrollTo)
//	data-scroll-locked   ScrollTo becomes a no-op
//	style="overflow-y: auto"
//
// This makes saved page snapshots and synthetic trees usable by the
// locator, the row extractor and the engine without a browser.
package htmldom

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/hazyhaar/snatch/dom"
)

// Document is a parsed HTML page.
type Document struct {
	doc *goquery.Document
	mu  sync.Mutex // guards attribute writes made by ScrollTo
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse: %w", err)
	}
	return &Document{doc: doc}, nil
}

// ParseString parses an HTML document held in a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Root returns the <html> element.
func (d *Document) Root(_ context.Context) (dom.Element, error) {
	html := d.doc.Find("html").First()
	if html.Length() == 0 {
		return nil, fmt.Errorf("htmldom: document has no root element")
	}
	return &Element{sel: html, doc: d}, nil
}

// Element wraps a single-node goquery selection.
type Element struct {
	sel *goquery.Selection
	doc *Document
}

var _ dom.Element = (*Element)(nil)

var selectorCache sync.Map // string -> cascadia.SelectorGroup

func compile(selector string) (cascadia.SelectorGroup, error) {
	if v, ok := selectorCache.Load(selector); ok {
		return v.(cascadia.SelectorGroup), nil
	}
	g, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("htmldom: selector %q: %w", selector, err)
	}
	selectorCache.Store(selector, g)
	return g, nil
}

func (e *Element) wrap(s *goquery.Selection) *Element {
	return &Element{sel: s, doc: e.doc}
}

func (e *Element) TagName() string {
	return strings.ToLower(goquery.NodeName(e.sel))
}

func (e *Element) Attr(name string) (string, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.sel.Attr(name)
}

func (e *Element) InnerText() (string, error) {
	if e.sel.Length() == 0 {
		return "", fmt.Errorf("htmldom: empty selection")
	}
	return innerText(e.sel.Get(0)), nil
}

func (e *Element) Parent() (dom.Element, error) {
	p := e.sel.Parent()
	if p.Length() == 0 {
		return nil, nil
	}
	return e.wrap(p), nil
}

func (e *Element) Children() ([]dom.Element, error) {
	kids := e.sel.Children()
	out := make([]dom.Element, 0, kids.Length())
	kids.Each(func(_ int, s *goquery.Selection) {
		out = append(out, e.wrap(s))
	})
	return out, nil
}

func (e *Element) QueryAll(selector string) ([]dom.Element, error) {
	g, err := compile(selector)
	if err != nil {
		return nil, err
	}
	nodes := cascadia.QueryAll(e.sel.Get(0), g)
	out := make([]dom.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, e.wrap(e.sel.FindNodes(n)))
	}
	return out, nil
}

func (e *Element) Geometry() (dom.Geometry, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	g := dom.Geometry{
		ClientHeight: e.num("data-client-height"),
		ScrollHeight: e.num("data-scroll-height"),
		ScrollTop:    e.num("data-scroll-top"),
		OverflowY:    overflowY(e.sel.AttrOr("style", "")),
	}
	if g.ScrollHeight < g.ClientHeight {
		g.ScrollHeight = g.ClientHeight
	}
	return g, nil
}

func (e *Element) ScrollTo(top float64) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if _, locked := e.sel.Attr("data-scroll-locked"); locked {
		return nil
	}
	limit := e.num("data-scroll-height") - e.num("data-client-height")
	if top > limit {
		top = limit
	}
	if top < 0 {
		top = 0
	}
	e.sel.SetAttr("data-scroll-top", strconv.FormatFloat(top, 'f', -1, 64))
	return nil
}

// num reads a numeric fixture attribute; absent or malformed is 0.
// Caller holds doc.mu.
func (e *Element) num(attr string) float64 {
	v, ok := e.sel.Attr(attr)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "px"), 64)
	if err != nil {
		return 0
	}
	return f
}

// overflowY extracts overflow-y (or the overflow shorthand) from an inline style.
func overflowY(style string) string {
	var shorthand string
	for _, decl := range strings.Split(style, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.ToLower(strings.TrimSpace(v))
		switch k {
		case "overflow-y":
			return v
		case "overflow":
			// "overflow: hidden auto" sets x then y.
			parts := strings.Fields(v)
			if len(parts) > 0 {
				shorthand = parts[len(parts)-1]
			}
		}
	}
	if shorthand != "" {
		return shorthand
	}
	return "visible"
}
