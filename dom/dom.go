// Package dom is the narrow view of a rendered page that the extraction
// core works against. The host page is not ours: every accessor may fail,
// and callers are expected to degrade rather than abort.
//
// Two implementations exist: dom/roddom wraps a live Chrome element, and
// dom/htmldom wraps a parsed HTML tree (fixtures, saved snapshots).
package dom

import "strings"

// Element is one element of the host page.
type Element interface {
	// TagName returns the lowercase tag name ("div", "span").
	TagName() string
	// Attr returns the attribute value and whether it is present.
	Attr(name string) (string, bool)
	// InnerText returns the rendered text, one visual line per "\n".
	InnerText() (string, error)
	// Parent returns the parent element, or nil at the root.
	Parent() (Element, error)
	// Children returns the direct element children in document order.
	Children() ([]Element, error)
	// QueryAll returns the descendants matching a CSS selector group.
	QueryAll(selector string) ([]Element, error)
	// Geometry reports the vertical scroll metrics of the element.
	Geometry() (Geometry, error)
	// ScrollTo sets the vertical scroll offset. Implementations clamp.
	ScrollTo(top float64) error
}

// Geometry holds the vertical box and scroll metrics of an element.
type Geometry struct {
	ClientHeight float64 `json:"clientHeight"`
	ScrollHeight float64 `json:"scrollHeight"`
	ScrollTop    float64 `json:"scrollTop"`
	OverflowY    string  `json:"overflowY"`
}

// MaxScrollTop is the largest reachable scroll offset.
func (g Geometry) MaxScrollTop() float64 {
	if m := g.ScrollHeight - g.ClientHeight; m > 0 {
		return m
	}
	return 0
}

// Overflow returns how far the content extends past the visible box.
func (g Geometry) Overflow() float64 {
	return g.ScrollHeight - g.ClientHeight
}

// AtBottom reports whether the offset is within tolerance of the maximum.
func (g Geometry) AtBottom(tolerance float64) bool {
	return g.ScrollTop+tolerance >= g.MaxScrollTop()
}

// ScrollableOverflow reports whether the computed overflow-y style allows
// user scrolling.
func (g Geometry) ScrollableOverflow() bool {
	switch strings.ToLower(strings.TrimSpace(g.OverflowY)) {
	case "auto", "scroll", "overlay":
		return true
	}
	return false
}

// First returns the first descendant of el matching selector, or nil.
func First(el Element, selector string) (Element, error) {
	all, err := el.QueryAll(selector)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

// Has reports whether el has at least one descendant matching selector.
// Query failures count as absent.
func Has(el Element, selector string) bool {
	found, err := First(el, selector)
	return err == nil && found != nil
}

// Lines splits rendered text into trimmed, non-empty lines.
func Lines(text string) []string {
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
