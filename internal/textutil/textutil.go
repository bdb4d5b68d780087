// Package textutil provides the text normalization and tokenization
// primitives shared by extraction, ranking, and the fact store.
package textutil

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var wsRE = regexp.MustCompile(`\s+`)

// Norm trims s and collapses every whitespace run to a single space.
func Norm(s string) string {
	return strings.TrimSpace(wsRE.ReplaceAllString(s, " "))
}

// Fold normalizes s for case-insensitive identity comparisons.
func Fold(s string) string {
	return strings.ToLower(Norm(s))
}

// trailingPunct holds sentence-final punctuation stripped by Clip.
const trailingPunct = "。！？!?.，,;；"

// Clip prepares a captured payload span for use as a fact value: it
// normalizes whitespace, strips one trailing sentence punctuation mark,
// rejects payloads shorter than minLen runes, and truncates payloads
// longer than maxLen runes, appending an ellipsis marker.
func Clip(s string, minLen, maxLen int) (string, bool) {
	out := Norm(s)
	if r, size := utf8.DecodeLastRuneInString(out); size > 0 && strings.ContainsRune(trailingPunct, r) {
		out = strings.TrimSpace(out[:len(out)-size])
	}

	runes := []rune(out)
	if len(runes) < minLen || len(runes) == 0 {
		return "", false
	}
	if maxLen > 0 && len(runes) > maxLen {
		out = string(runes[:maxLen]) + "…"
	}
	return out, true
}

// isWordRune reports whether r belongs to a "word" token: ASCII
// alphanumerics or CJK ideographs. Everything else separates words.
func isWordRune(r rune) bool {
	if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
		return true
	}
	return unicode.Is(unicode.Han, r)
}

// Tokenize lowercases s and returns the union of two token sets: every
// individual non-whitespace rune (so logographic scripts match per
// character) and every maximal run of alphanumeric or ideographic runes.
func Tokenize(s string) map[string]struct{} {
	t := strings.ToLower(Norm(s))
	tokens := make(map[string]struct{})

	var word []rune
	flush := func() {
		if len(word) > 0 {
			tokens[string(word)] = struct{}{}
			word = word[:0]
		}
	}

	for _, r := range t {
		if !unicode.IsSpace(r) {
			tokens[string(r)] = struct{}{}
		}
		if isWordRune(r) {
			word = append(word, r)
		} else {
			flush()
		}
	}
	flush()

	return tokens
}

// Overlap counts tokens present in both sets.
func Overlap(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			n++
		}
	}
	return n
}
