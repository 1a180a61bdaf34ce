// Package search implements the accent-insensitive matching used by the menu
// and tab pickers.
package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases s and strips combining marks, so "Açaí" matches "acai".
func Normalize(s string) string {
	decomposed := norm.NFD.String(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

func Words(q string) []string {
	return strings.Fields(Normalize(q))
}

// Rank orders items by how well key(item) matches query. Items whose name
// starts with any query word come first, then names containing every word
// (multi word queries only), then names containing any word. Non matching
// items are dropped and no item appears twice. An empty query returns items.
func Rank[T any](query string, items []T, key func(T) string) []T {
	words := Words(query)
	if len(words) == 0 {
		return items
	}

	var starts, allWords, anyWord []T
	for _, it := range items {
		name := Normalize(key(it))
		switch {
		case someWord(words, func(w string) bool { return strings.HasPrefix(name, w) }):
			starts = append(starts, it)
		case len(words) > 1 && everyWord(words, func(w string) bool { return strings.Contains(name, w) }):
			allWords = append(allWords, it)
		case someWord(words, func(w string) bool { return strings.Contains(name, w) }):
			anyWord = append(anyWord, it)
		}
	}

	out := make([]T, 0, len(starts)+len(allWords)+len(anyWord))
	out = append(out, starts...)
	out = append(out, allWords...)
	return append(out, anyWord...)
}

// Prefix keeps items whose key starts with the normalized query.
func Prefix[T any](query string, items []T, key func(T) string) []T {
	q := Normalize(query)
	if q == "" {
		return items
	}
	out := make([]T, 0, len(items))
	for _, it := range items {
		if strings.HasPrefix(Normalize(key(it)), q) {
			out = append(out, it)
		}
	}
	return out
}

// Contains reports whether haystack contains needle after normalization.
// An empty needle matches everything.
func Contains(haystack, needle string) bool {
	n := Normalize(needle)
	return n == "" || strings.Contains(Normalize(haystack), n)
}

func someWord(words []string, f func(string) bool) bool {
	for _, w := range words {
		if f(w) {
			return true
		}
	}
	return false
}

func everyWord(words []string, f func(string) bool) bool {
	for _, w := range words {
		if !f(w) {
			return false
		}
	}
	return true
}
