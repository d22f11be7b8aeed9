package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/snatch/contact"
)

func sample(t *testing.T) []contact.Record {
	t.Helper()
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	a, _ := contact.NewRecord(`Alice "Al" Smith`, "", "see you, tomorrow", at)
	b, _ := contact.NewRecord("+14155550100", "+14155550100", "", at)
	c, _ := contact.NewRecord("<b>Bob</b>", "", "x < y & z", at)
	return []contact.Record{a, b, c}
}

func TestCSV_BOMHeaderAndQuoting(t *testing.T) {
	f, err := Encode(sample(t), CSV)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.HasPrefix(f.Content, []byte("\ufeff")) {
		t.Error("missing BOM")
	}
	lines := strings.Split(strings.TrimPrefix(string(f.Content), "\ufeff"), "\n")
	if lines[0] != "Name,Phone,Last Message" {
		t.Errorf("got header %q", lines[0])
	}
	if want := `"Alice ""Al"" Smith","","see you, tomorrow"`; lines[1] != want {
		t.Errorf("got %q, want %q", lines[1], want)
	}
	if f.Extension != "csv" || !strings.HasPrefix(f.MimeType, "text/csv") {
		t.Errorf("got %+v", f)
	}
}

func TestXLS_SanitisesCells(t *testing.T) {
	f, _ := Encode(sample(t), XLSX)
	s := string(f.Content)
	if strings.Contains(s, "<b>") {
		t.Error("markup leaked into a cell")
	}
	if !strings.Contains(s, "x &lt; y &amp; z") {
		t.Errorf("text not escaped: %s", s)
	}
	if !strings.Contains(s, `xmlns:x="urn:schemas-microsoft-com:office:excel"`) || f.Extension != "xls" {
		t.Errorf("not an excel html document")
	}
}

func TestJSON_Pretty(t *testing.T) {
	f, _ := Encode(sample(t), JSON)
	if !bytes.Contains(f.Content, []byte("\n  {")) {
		t.Errorf("not indented: %s", f.Content)
	}
	var back []contact.Record
	if err := json.Unmarshal(f.Content, &back); err != nil || len(back) != 3 {
		t.Fatalf("got %d records (%v)", len(back), err)
	}
	empty, _ := Encode(nil, JSON)
	if string(empty.Content) != "[]" {
		t.Errorf("got %q for no records", empty.Content)
	}
}

func TestVCard_TelFallsBackToName(t *testing.T) {
	f, _ := Encode(sample(t), VCard)
	s := string(f.Content)
	if strings.Count(s, "BEGIN:VCARD") != 3 {
		t.Errorf("got %d cards", strings.Count(s, "BEGIN:VCARD"))
	}
	if !strings.Contains(s, "TEL;TYPE=CELL:+14155550100") {
		t.Error("phone missing")
	}
	if !strings.Contains(s, `TEL;TYPE=CELL:Alice "Al" Smith`) {
		t.Errorf("name fallback missing: %s", s)
	}
	if f.Extension != "vcf" {
		t.Errorf("got ext %q", f.Extension)
	}
}

func TestMarkdown_Table(t *testing.T) {
	f, err := Encode(sample(t), Markdown)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	s := string(f.Content)
	if !strings.Contains(s, "| Name") || !strings.Contains(s, "+14155550100") {
		t.Errorf("got %s", s)
	}
	if f.Extension != "md" {
		t.Errorf("got ext %q", f.Extension)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": CSV, "XLS": XLSX, "vcf": VCard, "md": Markdown, "json": JSON} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Error("pdf accepted")
	}
}

func TestFilename(t *testing.T) {
	got := Filename(File{Extension: "csv"}, time.Date(2026, 10, 14, 9, 30, 5, 123e6, time.UTC))
	if got != "whatsapp-contacts-2026-10-14T09-30-05-123Z.csv" {
		t.Errorf("got %q", got)
	}
}
