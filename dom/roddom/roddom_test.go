package roddom

import (
	"context"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/snatch/dom"
)

// page starts a headless Chrome when one is installed.
func page(t *testing.T, html string) *rod.Page {
	t.Helper()
	if testing.Short() {
		t.Skip("short mode")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no chrome installed")
	}
	u, err := launcher.New().Bin(bin).Headless(true).Launch()
	if err != nil {
		t.Skipf("launch chrome: %v", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		t.Skipf("connect: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	p, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if err := p.SetDocumentContent(html); err != nil {
		t.Fatalf("content: %v", err)
	}
	return p
}

const fixture = `<html><body>
<div id="pane" style="height:200px; overflow-y:auto">
	<div role="row" style="height:60px"><span title="Alice">Alice</span><br>10:00</div>
	<div role="row" style="height:60px">Bob</div>
	<div role="row" style="height:60px">Carol</div>
	<div role="row" style="height:60px">Dan</div>
	<div role="row" style="height:60px">Eve</div>
</div></body></html>`

func TestLiveElement(t *testing.T) {
	p := page(t, fixture)
	ctx := context.Background()
	root, err := Root(ctx, p, 2*time.Second)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if root.TagName() != "html" {
		t.Errorf("got tag %q", root.TagName())
	}
	if top, _ := root.Parent(); top != nil {
		t.Error("html has a parent")
	}

	pane, err := dom.First(root, "#pane")
	if err != nil || pane == nil {
		t.Fatalf("pane: %v", err)
	}
	rows, err := pane.Children()
	if err != nil || len(rows) != 5 {
		t.Fatalf("got %d rows (%v)", len(rows), err)
	}
	text, _ := rows[0].InnerText()
	if text != "Alice\n10:00" {
		t.Errorf("got %q", text)
	}
	if v, ok := rows[0].Attr("role"); !ok || v != "row" {
		t.Errorf("got role %q", v)
	}

	g, err := pane.Geometry()
	if err != nil {
		t.Fatalf("geometry: %v", err)
	}
	if g.ClientHeight != 200 || g.ScrollHeight != 300 || !g.ScrollableOverflow() {
		t.Errorf("got %+v", g)
	}
	_ = pane.ScrollTo(1000)
	g, _ = pane.Geometry()
	if g.ScrollTop != 100 || !g.AtBottom(2) {
		t.Errorf("got top %v, want clamped 100", g.ScrollTop)
	}
}
