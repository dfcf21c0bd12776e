// Package naming normalizes actor names and resolves them against keyed tables.
package naming

import (
	"strings"
	"unicode"
)

// Normalize lowercases s and strips every non-alphanumeric rune.
// "APT-29", "apt 29" and "Apt29" all normalize to "apt29".
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ResolveKey finds the key in keys that name refers to.
//
// An exact normalized match wins. Otherwise the first key contained in the
// normalized name, or containing it, is returned; among several containment
// matches the longest key wins so "apt29" prefers "apt29" over "apt2".
//
// Containment is loose: short names can match unrelated longer ones. All fuzzy
// lookups go through here so a stricter matcher only has to change this function.
func ResolveKey(name string, keys []string) (string, bool) {
	n := Normalize(name)
	if n == "" {
		return "", false
	}

	best := ""
	for _, k := range keys {
		if k == "" {
			continue
		}
		if k == n {
			return k, true
		}
		if strings.Contains(n, k) || strings.Contains(k, n) {
			if len(k) > len(best) || (len(k) == len(best) && k < best) {
				best = k
			}
		}
	}
	return best, best != ""
}

// EqualFold reports whether a and b are the same name after normalization.
func EqualFold(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
