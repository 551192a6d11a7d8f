// Package normalize turns raw UTF-8 text into the deterministic token
// sequence every other component builds on. Index-time and query-time
// callers both go through Tokens; there is no second code path.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripSet is the set of zero-width / bidi-control code points removed
// in step 1. Soft hyphen (U+00AD) is handled separately since it also
// participates in hyphen-break joining (step 2).
var stripSet = map[rune]bool{
	'​': true, '‌': true, '‍': true, '‎': true, '‏': true,
	'‪': true, '‫': true, '‬': true, '‭': true, '‮': true,
	'⁠': true, '﻿': true,
}

const (
	softHyphen = '­'
	nbsp       = ' '
)

// isMn reports whether r belongs to Unicode category Mn, or falls in
// the legacy combining-diacritical-marks block U+0300..U+036F (a
// belt-and-suspenders backstop in case a runtime's Unicode tables
// predate a given code point's Mn classification).
func isMn(r rune) bool {
	return unicode.Is(unicode.Mn, r) || (r >= 0x0300 && r <= 0x036F)
}

// isWord reports whether r is a "word" code point per step 8: '_',
// ASCII digit, ASCII letter, Latin Extended-A/B (U+00C0..U+02AF), or
// Cyrillic (U+0400..U+04FF).
func isWord(r rune) bool {
	switch {
	case r == '_':
		return true
	case r >= '0' && r <= '9':
		return true
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		return true
	case r >= 0x00C0 && r <= 0x02AF:
		return true
	case r >= 0x0400 && r <= 0x04FF:
		return true
	default:
		return false
	}
}

// Tokens runs the 9-step normalization algorithm and returns the final
// token list. Never fails: empty input yields an empty slice.
func Tokens(s string) []string {
	if s == "" {
		return []string{}
	}

	// Step 2 needs to see line breaks still in place, so hyphen-joining
	// runs before the zero-width/soft-hyphen strip below.
	s = joinHyphenatedBreaks(s)

	// Step 1: strip zero-width/bidi-control runes, drop any remaining
	// soft hyphen, fold NBSP to a regular space.
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case stripSet[r]:
			continue
		case r == softHyphen:
			continue
		case r == nbsp:
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	s = b.String()

	// Step 3: collapse all newlines to spaces.
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, s)

	// Step 4: Unicode NFKC.
	s = norm.NFKC.String(s)

	// Step 5: casefold. Go's stdlib has no dedicated Unicode casefold
	// routine and no casefold library appears anywhere in the retrieved
	// pack, so strings.ToLower stands in (documented as a justified
	// stdlib use in DESIGN.md).
	s = strings.ToLower(s)

	// Step 6: drop combining marks.
	s, _, _ = transform.String(runes.Remove(runes.Predicate(isMn)), s)

	// Step 7: yo -> ye fold (Cyrillic "ё" -> "е").
	s = strings.ReplaceAll(s, "ё", "е")

	// Step 8: replace non-word code points with a single space.
	s = strings.Map(func(r rune) rune {
		if isWord(r) {
			return r
		}
		return ' '
	}, s)

	// Step 9: collapse whitespace runs, trim, split into tokens.
	return strings.Fields(s)
}

// joinHyphenatedBreaks implements step 2: "<letter>-<newline><letter>"
// becomes "<letter><letter>". Both the ASCII hyphen and the soft hyphen
// count, since a soft hyphen is exactly the codepoint real documents
// use to mark a break-opportunity at a line wrap.
func joinHyphenatedBreaks(s string) string {
	in := []rune(s)
	out := make([]rune, 0, len(in))
	for i := 0; i < len(in); i++ {
		r := in[i]
		isHyphen := r == '-' || r == softHyphen
		if isHyphen && len(out) > 0 && unicode.IsLetter(out[len(out)-1]) {
			j := i + 1
			if j < len(in) && (in[j] == '\n' || in[j] == '\r') {
				k := j
				for k < len(in) && (in[k] == '\n' || in[k] == '\r') {
					k++
				}
				if k < len(in) && unicode.IsLetter(in[k]) {
					i = k - 1 // drop hyphen and the newline run
					continue
				}
			}
		}
		out = append(out, r)
	}
	return string(out)
}
