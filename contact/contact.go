// Package contact holds the extracted record type, the deduplicating
// accumulator and the persisted extraction state document.
package contact

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Bounds applied to extracted text.
const (
	MaxNameLen    = 100
	MaxMessageLen = 160
)

// Record is one contact row scraped from the chat list.
type Record struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone,omitempty"`
	LastMessage string    `json:"lastMessage,omitempty"`
	ExtractedAt time.Time `json:"extractedAt"`
}

// NewRecord builds a record, normalising and bounding its fields and
// deriving its id. It returns false when the name is empty after trimming.
func NewRecord(name, phone, lastMessage string, at time.Time) (Record, bool) {
	name = Truncate(strings.TrimSpace(name), MaxNameLen)
	if name == "" {
		return Record{}, false
	}
	phone = NormalizePhone(phone)
	r := Record{
		Name:        name,
		Phone:       phone,
		LastMessage: Truncate(strings.TrimSpace(lastMessage), MaxMessageLen),
		ExtractedAt: at.UTC(),
	}
	r.ID = ID(name, phone)
	return r, true
}

// ID derives the dedup key: the phone when known, else the normalised
// name. Two contacts sharing a display name and no phone collapse.
func ID(name, phone string) string {
	if p := NormalizePhone(phone); p != "" {
		return "tel:" + p
	}
	return "name:" + Slug(name)
}

// NormalizePhone keeps a leading '+' and the digits.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "+" {
		return ""
	}
	return out
}

// Slug lowercases s and collapses every run of non-alphanumerics to '-'.
func Slug(s string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if sep && b.Len() > 0 {
				b.WriteByte('-')
			}
			sep = false
			b.WriteRune(r)
			continue
		}
		sep = true
	}
	return b.String()
}

// Truncate caps s at n code points.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}
