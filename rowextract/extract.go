// Package rowextract turns one rendered chat-list row into a contact
// record using a cascade of text-layout heuristics. Any single signal may
// be missing; the extractor degrades instead of failing.
package rowextract

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/hazyhaar/snatch/contact"
	"github.com/hazyhaar/snatch/dom"
	"github.com/hazyhaar/snatch/internal/fold"
)

// Config tunes the extractor. Zero values take defaults.
type Config struct {
	MinNameLen    int      `yaml:"min_name_len"`
	MaxMessageLen int      `yaml:"max_message_len"`
	Denylist      []string `yaml:"denylist"` // appended to DefaultDenylist
}

func (c *Config) defaults() {
	if c.MinNameLen <= 0 {
		c.MinNameLen = 2
	}
	if c.MaxMessageLen <= 0 {
		c.MaxMessageLen = contact.MaxMessageLen
	}
}

// TitleSelector finds the inner element carrying the contact's full title.
const TitleSelector = "span[title], div[title]"

// minFragment drops message fragments shorter than this: unread counters,
// tick glyphs and one-off letters rendered beside the snippet. Genuine
// one- or two-letter messages ("ok", "Hi") are lost with them; fragments
// carrying a symbol such as an emoji are kept.
const minFragment = 3

// Extractor extracts records from rows. Safe for concurrent use.
type Extractor struct {
	cfg  Config
	deny map[string]struct{}
	now  func() time.Time
}

// New builds an extractor.
func New(cfg Config) *Extractor {
	cfg.defaults()
	x := &Extractor{cfg: cfg, deny: make(map[string]struct{}), now: time.Now}
	for _, d := range append(append([]string{}, DefaultDenylist...), cfg.Denylist...) {
		if f := fold.String(d); f != "" {
			x.deny[f] = struct{}{}
		}
	}
	return x
}

// WithClock overrides the extraction timestamp source.
func (x *Extractor) WithClock(now func() time.Time) *Extractor {
	x.now = now
	return x
}

// Extract reads row and returns a record. ok is false when the row does
// not describe a contact. err is set only when the row could not be read.
func (x *Extractor) Extract(row dom.Element) (rec contact.Record, ok bool, err error) {
	text, err := row.InnerText()
	if err != nil {
		return contact.Record{}, false, fmt.Errorf("rowextract: inner text: %w", err)
	}
	lines := dom.Lines(text)
	if len(lines) == 0 {
		return contact.Record{}, false, nil
	}

	name, src := x.resolveName(row, lines)
	name = strings.TrimSpace(name)
	if name == "" || x.Denied(name) || utf8.RuneCountInString(name) < x.cfg.MinNameLen {
		return contact.Record{}, false, nil
	}

	phone := phoneOf(name)
	if phone == "" {
		phone = x.scanPhone(row, lines, src)
	}

	msg := x.lastMessage(lines, src, name, phone)
	rec, ok = contact.NewRecord(name, phone, msg, x.now())
	return rec, ok, nil
}

// resolveName returns the name and the index of the line it came from
// (-1 when no line carries it).
func (x *Extractor) resolveName(row dom.Element, lines []string) (string, int) {
	if titled, err := row.QueryAll(TitleSelector); err == nil {
		for _, el := range titled {
			title, _ := el.Attr("title")
			if title = strings.TrimSpace(title); title == "" {
				continue
			}
			src := indexOf(lines, title)
			if src < 0 {
				if t, err := el.InnerText(); err == nil {
					if tl := dom.Lines(t); len(tl) > 0 {
						src = indexOf(lines, tl[0])
					}
				}
			}
			return title, src
		}
	}
	if !IsTime(lines[0]) {
		return lines[0], 0
	}
	if len(lines) > 1 {
		return lines[1], 1
	}
	return "", -1
}

// Denied reports whether name is UI chrome rather than a contact: a
// denylist label on its own, optionally followed by a counter as in
// "Archived (4)".
func (x *Extractor) Denied(name string) bool {
	f := fold.String(name)
	if _, ok := x.deny[f]; ok {
		return true
	}
	words := strings.Fields(wordsOnly(f))
	for len(words) > 0 && isCounter(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	_, ok := x.deny[strings.Join(words, " ")]
	return ok && len(words) > 0
}

func isCounter(w string) bool {
	return strings.Trim(w, "0123456789") == ""
}

// scanPhone looks at the lines after the name and at the accessible label.
func (x *Extractor) scanPhone(row dom.Element, lines []string, src int) string {
	start := src + 1
	if src < 0 {
		start = 0
	}
	for i := start; i < len(lines) && i < start+3; i++ {
		if IsTime(lines[i]) {
			continue
		}
		if p := phoneOf(lines[i]); p != "" {
			return p
		}
	}
	if label, ok := row.Attr("aria-label"); ok {
		return findPhone(label)
	}
	return ""
}

func (x *Extractor) lastMessage(lines []string, src int, name, phone string) string {
	fname := fold.String(name)
	var parts []string
	for i, l := range lines {
		if i == src || IsTime(l) || fold.String(l) == fname {
			continue
		}
		if phone != "" && phoneOf(l) == phone {
			continue
		}
		l = strings.TrimSpace(leadingTime.ReplaceAllString(l, ""))
		if utf8.RuneCountInString(l) < minFragment && !hasSymbol(l) {
			continue
		}
		parts = append(parts, l)
	}
	msg := strings.Join(parts, " ")
	if src < 0 {
		msg = strings.TrimSpace(strings.Replace(msg, name, "", 1))
	}
	return contact.Truncate(msg, x.cfg.MaxMessageLen)
}

func hasSymbol(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.So, r) {
			return true
		}
	}
	return false
}

func indexOf(lines []string, s string) int {
	for i, l := range lines {
		if l == s {
			return i
		}
	}
	return -1
}

// wordsOnly replaces punctuation with spaces so "archived (3)" reads as
// the words "archived 3".
func wordsOnly(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return !(r == '\'' || r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r > 0x7f)
	}), " ")
}
