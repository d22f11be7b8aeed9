package htmldom

import (
	"context"
	"testing"

	"github.com/hazyhaar/snatch/dom"
)

func root(t *testing.T, src string) dom.Element {
	t.Helper()
	doc, err := ParseString(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r, err := doc.Root(context.Background())
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	return r
}

func TestInnerText_BlocksAndBreaks(t *testing.T) {
	r := root(t, `<html><body><div id="row">
		<div><span title="Alice Smith">Alice</span></div>
		<div>10:32</div>
		<div>see   you<br>tomorrow</div>
		<script>var x = 1;</script>
		<div style="display: none">secret</div>
	</div></body></html>`)

	row, err := dom.First(r, "#row")
	if err != nil || row == nil {
		t.Fatalf("row not found: %v", err)
	}
	text, err := row.InnerText()
	if err != nil {
		t.Fatalf("inner text: %v", err)
	}
	want := "Alice\n10:32\nsee you\ntomorrow"
	if text != want {
		t.Errorf("got %q, want %q", text, want)
	}
}

func TestQueryAll_Group(t *testing.T) {
	r := root(t, `<html><body>
		<div role="row">a</div><div role="listitem">b</div><div role="row">c</div>
	</body></html>`)
	got, err := r.QueryAll(`[role="row"], [role="listitem"]`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d matches, want 3", len(got))
	}
	first, _ := got[0].InnerText()
	if first != "a" {
		t.Errorf("got %q, want document order", first)
	}
}

func TestQueryAll_BadSelector(t *testing.T) {
	r := root(t, `<html><body></body></html>`)
	if _, err := r.QueryAll("div[[["); err == nil {
		t.Fatal("expected selector error")
	}
}

func TestGeometry_FixtureAttributes(t *testing.T) {
	r := root(t, `<html><body>
		<div id="pane" data-client-height="600" data-scroll-height="3000" data-scroll-top="100" style="overflow-y: auto"></div>
	</body></html>`)
	pane, _ := dom.First(r, "#pane")
	g, err := pane.Geometry()
	if err != nil {
		t.Fatalf("geometry: %v", err)
	}
	if g.ClientHeight != 600 || g.ScrollHeight != 3000 || g.ScrollTop != 100 {
		t.Errorf("got %+v", g)
	}
	if !g.ScrollableOverflow() {
		t.Errorf("got overflow %q, want scrollable", g.OverflowY)
	}
	if g.MaxScrollTop() != 2400 {
		t.Errorf("got max %v, want 2400", g.MaxScrollTop())
	}
}

func TestScrollTo_Clamps(t *testing.T) {
	r := root(t, `<html><body>
		<div id="pane" data-client-height="600" data-scroll-height="1000"></div>
	</body></html>`)
	pane, _ := dom.First(r, "#pane")
	if err := pane.ScrollTo(5000); err != nil {
		t.Fatalf("scroll: %v", err)
	}
	g, _ := pane.Geometry()
	if g.ScrollTop != 400 {
		t.Errorf("got %v, want 400", g.ScrollTop)
	}
	_ = pane.ScrollTo(-10)
	g, _ = pane.Geometry()
	if g.ScrollTop != 0 {
		t.Errorf("got %v, want 0", g.ScrollTop)
	}
}

func TestScrollTo_Locked(t *testing.T) {
	r := root(t, `<html><body>
		<div id="pane" data-client-height="600" data-scroll-height="3000" data-scroll-top="50" data-scroll-locked></div>
	</body></html>`)
	pane, _ := dom.First(r, "#pane")
	_ = pane.ScrollTo(900)
	g, _ := pane.Geometry()
	if g.ScrollTop != 50 {
		t.Errorf("got %v, want locked at 50", g.ScrollTop)
	}
}

func TestParentAndChildren(t *testing.T) {
	r := root(t, `<html><body><section id="s"><p>a</p><p>b</p></section></body></html>`)
	s, _ := dom.First(r, "#s")
	kids, err := s.Children()
	if err != nil || len(kids) != 2 {
		t.Fatalf("got %d children (%v), want 2", len(kids), err)
	}
	p, err := kids[0].Parent()
	if err != nil || p == nil {
		t.Fatalf("parent: %v", err)
	}
	if id, _ := p.Attr("id"); id != "s" {
		t.Errorf("got parent id %q, want s", id)
	}
	top, _ := r.Parent()
	if top != nil {
		t.Errorf("root parent should be nil")
	}
}

func TestOverflowShorthand(t *testing.T) {
	cases := map[string]string{
		"":                               "visible",
		"overflow: hidden scroll":        "scroll",
		"overflow: auto":                 "auto",
		"overflow-y: overlay; color:red": "overlay",
	}
	for style, want := range cases {
		if got := overflowY(style); got != want {
			t.Errorf("overflowY(%q) = %q, want %q", style, got, want)
		}
	}
}
