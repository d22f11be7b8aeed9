// Package fold normalises UI text for case- and accent-insensitive
// matching ("LISTA DE CONVERSACIÓN" ~ "lista de conversacion").
package fold

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// String lowercases s, strips combining marks and collapses whitespace.
func String(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// ContainsAny reports whether the folded haystack contains any of the
// (already folded) needles.
func ContainsAny(haystack string, needles []string) bool {
	h := String(haystack)
	for _, n := range needles {
		if n != "" && strings.Contains(h, n) {
			return true
		}
	}
	return false
}

// All folds every entry of list.
func All(list []string) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = String(s)
	}
	return out
}
