package rowextract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/snatch/dom"
	"github.com/hazyhaar/snatch/dom/htmldom"
)

const chatRows = `<html><body><div id="pane-side">
<div role="row" id="r1"><div><span title="Alice Smith">Alice</span></div><div>10:32</div><div>see you tomorrow</div></div>
<div role="row" id="r2"><div><span>+14155550100</span></div></div>
<div role="row" id="r3"><div><span>Bob</span></div><div>Yesterday</div><div>ok</div></div>
<div role="row" id="r4"><div><span>Archived</span></div><div>3</div></div>
<div role="row" id="r5"><div>Martes</div><div>Carla Núñez</div><div>nos vemos</div></div>
<div role="row" id="r6" aria-label="Dan, +44 20 7946 0958"><div>Dan</div><div>12:01</div><div>ping me later</div></div>
<div role="row" id="r7"><div>Eve</div><div>+33 6 12 34 56 78</div><div>salut</div></div>
<div role="row" id="r8"></div>
<div role="row" id="r9"><div>X</div></div>
<div role="row" id="r10"><div>Archivados (4)</div></div>
</div></body></html>`

func rows(t *testing.T) map[string]dom.Element {
	t.Helper()
	doc, err := htmldom.ParseString(chatRows)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	root, _ := doc.Root(context.Background())
	all, err := root.QueryAll(`div[role="row"]`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	out := make(map[string]dom.Element)
	for _, r := range all {
		id, _ := r.Attr("id")
		out[id] = r
	}
	return out
}

func newExtractor() *Extractor {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return New(Config{}).WithClock(func() time.Time { return at })
}

func TestExtract_FreshRunScenario(t *testing.T) {
	x := newExtractor()
	r := rows(t)

	alice, ok, err := x.Extract(r["r1"])
	if err != nil || !ok {
		t.Fatalf("alice: ok=%v err=%v", ok, err)
	}
	if alice.Name != "Alice Smith" {
		t.Errorf("got name %q, want Alice Smith", alice.Name)
	}
	if alice.LastMessage != "see you tomorrow" {
		t.Errorf("got lastMessage %q", alice.LastMessage)
	}
	if alice.Phone != "" {
		t.Errorf("got phone %q, want none", alice.Phone)
	}

	num, ok, _ := x.Extract(r["r2"])
	if !ok {
		t.Fatal("phone row rejected")
	}
	if num.Phone != "+14155550100" || num.Name != "+14155550100" {
		t.Errorf("got %+v", num)
	}
	if num.ID != "tel:+14155550100" {
		t.Errorf("got id %q", num.ID)
	}

	bob, ok, _ := x.Extract(r["r3"])
	if !ok {
		t.Fatal("bob rejected")
	}
	if bob.Name != "Bob" || bob.Phone != "" || bob.LastMessage != "" {
		t.Errorf("got %+v", bob)
	}
}

func TestExtract_Denylist(t *testing.T) {
	x := newExtractor()
	r := rows(t)
	for _, id := range []string{"r4", "r10"} {
		if rec, ok, _ := x.Extract(r[id]); ok {
			t.Errorf("%s: got %+v, want rejected", id, rec)
		}
	}
}

func TestExtract_TimeFirstLine(t *testing.T) {
	rec, ok, _ := newExtractor().Extract(rows(t)["r5"])
	if !ok {
		t.Fatal("rejected")
	}
	if rec.Name != "Carla Núñez" {
		t.Errorf("got name %q", rec.Name)
	}
	if rec.LastMessage != "nos vemos" {
		t.Errorf("got lastMessage %q", rec.LastMessage)
	}
}

func TestExtract_PhoneFromLabel(t *testing.T) {
	rec, ok, _ := newExtractor().Extract(rows(t)["r6"])
	if !ok {
		t.Fatal("rejected")
	}
	if rec.Phone != "+442079460958" {
		t.Errorf("got phone %q", rec.Phone)
	}
	if rec.ID != "tel:+442079460958" {
		t.Errorf("got id %q", rec.ID)
	}
}

func TestExtract_PhoneFromSecondLine(t *testing.T) {
	rec, ok, _ := newExtractor().Extract(rows(t)["r7"])
	if !ok {
		t.Fatal("rejected")
	}
	if rec.Phone != "+33612345678" {
		t.Errorf("got phone %q", rec.Phone)
	}
	if rec.LastMessage != "salut" {
		t.Errorf("got lastMessage %q, want phone line removed", rec.LastMessage)
	}
}

func TestExtract_EmptyAndShort(t *testing.T) {
	x := newExtractor()
	r := rows(t)
	if _, ok, err := x.Extract(r["r8"]); ok || err != nil {
		t.Errorf("empty row: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := x.Extract(r["r9"]); ok {
		t.Error("single-rune name accepted")
	}
}

type brokenRow struct{ dom.Element }

func (brokenRow) InnerText() (string, error) { return "", errors.New("node detached") }

func TestExtract_UnreadableRow(t *testing.T) {
	_, ok, err := newExtractor().Extract(brokenRow{})
	if ok || err == nil {
		t.Errorf("got ok=%v err=%v, want error", ok, err)
	}
}

func TestIsTime(t *testing.T) {
	for _, s := range []string{"10:32", "9.05 p. m.", "Yesterday", "MIÉRCOLES", "12/03/2025", "sábado", "aujourd'hui"} {
		if !IsTime(s) {
			t.Errorf("IsTime(%q) = false", s)
		}
	}
	for _, s := range []string{"Alice", "10:32 meeting", "+14155550100"} {
		if IsTime(s) {
			t.Errorf("IsTime(%q) = true", s)
		}
	}
}

func TestDenied_LabelWithCounterOnly(t *testing.T) {
	x := newExtractor()
	for _, s := range []string{"Settings", "Archivados (4)", "archived 12", "Canales"} {
		if !x.Denied(s) {
			t.Errorf("Denied(%q) = false, want true", s)
		}
	}
	for _, s := range []string{
		"Juan Canales", "Ana Estados", "Pedro Cerca", "Status Quo Band",
		"Archived photos 2", "The very long family group about settings and more",
	} {
		if x.Denied(s) {
			t.Errorf("Denied(%q) = true, want a contact", s)
		}
	}
}

func TestExtract_SurnameMatchingLabelKept(t *testing.T) {
	row := htmlRow(t, `<div role="row"><div>Juan Canales</div><div>10:00</div><div>hola</div></div>`)
	rec, ok, _ := newExtractor().Extract(row)
	if !ok || rec.Name != "Juan Canales" {
		t.Errorf("got %+v ok=%v, want Juan Canales kept", rec, ok)
	}
}

func TestExtract_ItalianSaturday(t *testing.T) {
	row := htmlRow(t, `<div role="row"><div>Giulia</div><div>sabato</div><div>ciao a tutti</div></div>`)
	rec, ok, _ := newExtractor().Extract(row)
	if !ok {
		t.Fatal("rejected")
	}
	if rec.LastMessage != "ciao a tutti" {
		t.Errorf("got lastMessage %q, want the weekday dropped", rec.LastMessage)
	}
}

func TestExtract_ShortFragments(t *testing.T) {
	row := htmlRow(t, `<div role="row"><div>Marta</div><div>10:00</div><div>👍</div><div>2</div></div>`)
	rec, ok, _ := newExtractor().Extract(row)
	if !ok {
		t.Fatal("rejected")
	}
	if rec.LastMessage != "👍" {
		t.Errorf("got lastMessage %q, want the emoji kept and the counter dropped", rec.LastMessage)
	}
}

func htmlRow(t *testing.T, src string) dom.Element {
	t.Helper()
	doc, err := htmldom.ParseString(`<html><body>` + src + `</body></html>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	root, _ := doc.Root(context.Background())
	row, err := dom.First(root, `div[role="row"]`)
	if err != nil || row == nil {
		t.Fatalf("row: %v", err)
	}
	return row
}
