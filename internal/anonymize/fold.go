// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anonymize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// FOLDING
// =============================================================================

// marks matches nonspacing combining marks, i.e. the accents NFD splits off.
var marks = runes.In(unicode.Mn)

// foldRune returns the case- and accent-insensitive form of r. It may be
// empty (a bare combining mark) or several runes long.
func foldRune(r rune) string {
	if r < 0x80 {
		return string(unicode.ToLower(r))
	}
	switch r {
	case '’', '‘', 'ʼ':
		return "'"
	case '‐', '‑', '‒', '–':
		return "-"
	}

	var b strings.Builder
	for _, d := range norm.NFD.String(string(r)) {
		if marks.Contains(d) {
			continue
		}
		b.WriteRune(unicode.ToLower(d))
	}
	return b.String()
}

// foldString folds every rune of s.
func foldString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		b.WriteString(foldRune(r))
	}
	return b.String()
}

// isWordRune reports whether r continues a word. Combining marks count so
// decomposed accents never split a word.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// words splits s into maximal runs of word runes.
func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return !isWordRune(r) })
}

// =============================================================================
// CASE PATTERNS
// =============================================================================

type casePattern int

const (
	caseTitle casePattern = iota
	caseUpper
	caseLower
)

// patternOf classifies the letters of surface. Anything that is neither
// all upper nor all lower counts as title case.
func patternOf(surface string) casePattern {
	var hasUpper, hasLower bool
	for _, r := range surface {
		if !unicode.IsLetter(r) {
			continue
		}
		if unicode.IsUpper(r) {
			hasUpper = true
		} else if unicode.IsLower(r) {
			hasLower = true
		}
	}
	switch {
	case hasUpper && !hasLower:
		return caseUpper
	case hasLower && !hasUpper:
		return caseLower
	default:
		return caseTitle
	}
}

// applyCase renders canonical in pattern p. For title case a canonical form
// that already mixes case (McDonald) is kept as written.
func applyCase(p casePattern, canonical string) string {
	switch p {
	case caseUpper:
		return cases.Upper(language.Und).String(canonical)
	case caseLower:
		return cases.Lower(language.Und).String(canonical)
	default:
		if patternOf(canonical) == caseTitle {
			return canonical
		}
		return cases.Title(language.Und).String(canonical)
	}
}

// near reports whether two folded words could be confused by the
// inflection-tolerant restore pass: equal, or one a prefix of the other
// by at most three runes.
func near(a, b string) bool {
	if a == b {
		return true
	}
	la, lb := len([]rune(a)), len([]rune(b))
	if la > lb {
		a, b = b, a
		la, lb = lb, la
	}
	return la >= 3 && lb-la <= maxSuffix && strings.HasPrefix(b, a)
}
