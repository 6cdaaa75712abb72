// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anonymize

import (
	"strings"
	"unicode"
)

// =============================================================================
// PATTERNS
// =============================================================================

type partKind int

const (
	partLiteral partKind = iota
	partGiven
	partFamily
	partInitial
)

// part is one segment of a pattern key, ending (exclusive) at keyEnd.
type part struct {
	kind   partKind
	keyEnd int
}

// pattern is a sequence of parts, e.g. given + " " + family.
type pattern struct {
	parts []part
	// whole asks for the complete match to be recorded as one substitution,
	// used when a part is too short to restore on its own.
	whole bool
}

// space is the key symbol for any run of whitespace.
const space = ' '

// keyBuilder assembles a folded key and its part boundaries.
type keyBuilder struct {
	key   []rune
	parts []part
}

// add appends s as one part. Names are trimmed; literals keep their edge
// spaces. Any whitespace run becomes a single space symbol.
func (b *keyBuilder) add(kind partKind, s string) *keyBuilder {
	if kind != partLiteral {
		s = collapseSpace(s)
	}
	for _, r := range foldString(s) {
		if unicode.IsSpace(r) {
			if n := len(b.key); n > 0 && b.key[n-1] == space {
				continue
			}
			r = space
		}
		b.key = append(b.key, r)
	}
	b.parts = append(b.parts, part{kind: kind, keyEnd: len(b.key)})
	return b
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// =============================================================================
// TRIE
// =============================================================================

type node struct {
	children map[rune]*node
	pattern  *pattern
}

// trie matches folded keys against text, preferring the longest key at
// each word start.
type trie struct {
	root *node
}

func newTrie() *trie {
	return &trie{root: &node{children: map[rune]*node{}}}
}

// insert adds a key. The first pattern inserted for a key wins.
func (t *trie) insert(b *keyBuilder, whole bool) {
	if len(b.key) == 0 {
		return
	}
	n := t.root
	for _, r := range b.key {
		child, ok := n.children[r]
		if !ok {
			child = &node{children: map[rune]*node{}}
			n.children[r] = child
		}
		n = child
	}
	if n.pattern == nil {
		n.pattern = &pattern{parts: b.parts, whole: whole}
	}
}

// match is a pattern occurrence over text runes [start, end). pos[k] is
// the rune index just after key symbol k was consumed.
type match struct {
	start, end int
	pattern    *pattern
	pos        []int
}

// span returns the rune range of pattern part i.
func (m match) span(i int) (int, int) {
	from := m.start
	if i > 0 {
		from = m.pos[m.pattern.parts[i-1].keyEnd-1]
	}
	return from, m.pos[m.pattern.parts[i].keyEnd-1]
}

// scan returns non-overlapping longest matches, left to right.
func (t *trie) scan(text []rune) []match {
	var out []match
	for i := 0; i < len(text); {
		if i > 0 && isWordRune(text[i-1]) {
			i++
			continue
		}
		if m, ok := t.longestAt(text, i); ok {
			out = append(out, m)
			i = m.end
			continue
		}
		i++
	}
	return out
}

func (t *trie) longestAt(text []rune, i int) (match, bool) {
	var (
		best  match
		found bool
		pos   []int
		n     = t.root
		j     = i
	)

	for j < len(text) {
		r := text[j]
		if unicode.IsSpace(r) {
			child := n.children[space]
			if child == nil {
				break
			}
			k := j
			for k < len(text) && unicode.IsSpace(text[k]) {
				k++
			}
			n = child
			pos = append(pos, k)
			j = k
			continue
		}

		f := foldRune(r)
		if f == "" {
			// Bare combining mark: belongs to the previous symbol.
			if len(pos) == 0 {
				break
			}
			pos[len(pos)-1] = j + 1
			j++
		} else {
			ok := true
			for _, fr := range f {
				child := n.children[fr]
				if child == nil {
					ok = false
					break
				}
				n = child
				pos = append(pos, j+1)
			}
			if !ok {
				break
			}
			j++
		}

		if n.pattern != nil && (j == len(text) || !isWordRune(text[j])) {
			best = match{start: i, end: j, pattern: n.pattern, pos: append([]int(nil), pos...)}
			found = true
		}
	}
	return best, found
}
