// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anonymize

import (
	"context"
	"io"
	"sort"
	"strings"
	"unicode"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/noteguard/internal/provider"
)

// LocalResolver returns the provider used for PII extraction. It must
// resolve to an on-device backend; anything else is refused.
type LocalResolver func(ctx context.Context) (provider.Provider, error)

// Options configures an Engine.
type Options struct {
	// Resolver supplies the local backend for ExtractPII. Nil disables
	// extraction (results are reported as degraded).
	Resolver LocalResolver
	// Rand is the randomness source for pseudonym selection. Defaults to
	// crypto/rand.
	Rand   io.Reader
	Logger *log.Logger
}

// Engine substitutes reversible pseudonyms for patient identities.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	resolver LocalResolver
	rand     io.Reader
	logger   *log.Logger
}

// NewEngine creates an engine.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Engine{
		resolver: opts.Resolver,
		rand:     opts.Rand,
		logger:   logger.With("component", "anonymize"),
	}
}

// =============================================================================
// ANONYMIZE
// =============================================================================

// Anonymize replaces every case and accent variant of the identity in text
// with a gender-consistent pseudonym. It never fails: an empty identity,
// empty text or no occurrence all yield the text unchanged and a no-op
// Context.
func (e *Engine) Anonymize(text string, id Identity) (string, *Context) {
	return e.anonymize(text, id, nil)
}

// anonymize is Anonymize with extra texts whose words the pseudonym must
// not collide with.
func (e *Engine) anonymize(text string, id Identity, companions []string) (string, *Context) {
	ctx := newContext(id.Gender)
	if text == "" || id.IsEmpty() {
		return text, ctx
	}

	gen := newGenerator(e.rand, append([]string{text, id.GivenName, id.FamilyName}, companions...)...)
	ctx.Pseudonym = gen.pseudonym(id)

	out := substitute(text, id, ctx)
	if ctx.NoOp() {
		e.logger.Debug("identity not found in text", "session", ctx.SessionID, "chars", len(text))
		return text, ctx
	}

	ctx.addFragments(id)
	e.logger.Debug("anonymized", "session", ctx.SessionID, "substitutions", len(ctx.Mapping))
	return out, ctx
}

// Apply substitutes the identity in one more text of the same round trip,
// reusing the pseudonym already chosen in c and recording into c, so one
// Deanonymize reverses every text. A nil Context, an empty identity or
// empty text yield the text unchanged.
func (e *Engine) Apply(text string, id Identity, c *Context) string {
	if c == nil || text == "" || id.IsEmpty() {
		return text
	}
	if c.Pseudonym == (Pseudonym{}) {
		c.Pseudonym = newGenerator(e.rand, text, id.GivenName, id.FamilyName).pseudonym(id)
	}

	before := len(c.Mapping)
	out := substitute(text, id, c)
	if len(c.Mapping) > before || out != text {
		c.addFragments(id)
	}
	return out
}

// identityTrie builds the name patterns for id, most specific first.
func identityTrie(id Identity) *trie {
	t := newTrie()
	given := collapseSpace(id.GivenName)
	family := collapseSpace(id.FamilyName)
	if foldString(given) == "" || len(words(given)) == 0 {
		given = ""
	}
	if foldString(family) == "" || len(words(family)) == 0 {
		family = ""
	}
	initial := ""
	if w := words(given); len(w) > 0 && foldRune([]rune(w[0])[0]) != "" {
		initial = string([]rune(w[0])[0])
	}

	if given != "" && family != "" {
		t.insert(new(keyBuilder).add(partGiven, given).add(partLiteral, " ").add(partFamily, family), false)
		t.insert(new(keyBuilder).add(partFamily, family).add(partLiteral, " ").add(partGiven, given), false)
		t.insert(new(keyBuilder).add(partFamily, family).add(partLiteral, ", ").add(partGiven, given), false)
	}
	if initial != "" && family != "" {
		t.insert(new(keyBuilder).add(partInitial, initial).add(partLiteral, ". ").add(partFamily, family), true)
		t.insert(new(keyBuilder).add(partInitial, initial).add(partLiteral, ".").add(partFamily, family), true)
	}
	// A single letter alone would match every stray initial in the text.
	if len([]rune(foldString(given))) >= 2 {
		t.insert(new(keyBuilder).add(partGiven, given), false)
	}
	if len([]rune(foldString(family))) >= 2 {
		t.insert(new(keyBuilder).add(partFamily, family), false)
	}
	return t
}

// substitute rewrites text and records each substitution in ctx.
func substitute(text string, id Identity, ctx *Context) string {
	src := []rune(text)
	matches := identityTrie(id).scan(src)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		b.WriteString(string(src[last:m.start]))

		var whole strings.Builder
		for i, p := range m.pattern.parts {
			from, to := m.span(i)
			surface := string(src[from:to])
			repl := surface
			switch p.kind {
			case partGiven:
				repl = applyCase(patternOf(surface), ctx.Pseudonym.GivenName)
			case partFamily:
				repl = applyCase(patternOf(surface), ctx.Pseudonym.FamilyName)
			case partInitial:
				repl = applyCase(patternOf(surface), string([]rune(ctx.Pseudonym.GivenName)[:1]))
			}
			if !m.pattern.whole && p.kind != partLiteral {
				ctx.record(surface, repl)
			}
			whole.WriteString(repl)
		}
		if m.pattern.whole {
			ctx.record(string(src[m.start:m.end]), whole.String())
		}
		b.WriteString(whole.String())
		last = m.end
	}
	b.WriteString(string(src[last:]))
	return b.String()
}

// =============================================================================
// DEANONYMIZE
// =============================================================================

// Deanonymize restores the identity in text produced from an anonymized
// prompt. Pass one reverses recorded surfaces exactly, longest first; pass
// two folds case and accents and tolerates a short inflection suffix on
// the base pseudonym fragments of capitalized words. It never fails and is
// idempotent; a nil or no-op Context returns text unchanged.
func (e *Engine) Deanonymize(text string, c *Context) string {
	if c.NoOp() || text == "" {
		return text
	}
	return restoreFragments(restoreExact(text, c.Mapping), c.Fragments)
}

// restoreExact is pass one: case-sensitive, word-bounded replacement of
// recorded pseudonym surfaces.
func restoreExact(text string, mapping []Substitution) string {
	subs := make([]Substitution, 0, len(mapping))
	for _, s := range mapping {
		if s.Pseudonym != "" {
			subs = append(subs, s)
		}
	}
	sort.SliceStable(subs, func(i, j int) bool {
		return len([]rune(subs[i].Pseudonym)) > len([]rune(subs[j].Pseudonym))
	})
	if len(subs) == 0 {
		return text
	}

	type cand struct {
		pseudo []rune
		plain  string
	}
	cands := make([]cand, len(subs))
	for i, s := range subs {
		cands[i] = cand{pseudo: []rune(s.Pseudonym), plain: s.Plain}
	}

	src := []rune(text)
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(src); {
		replaced := false
		for _, c := range cands {
			if !hasRunePrefix(src[i:], c.pseudo) || !bounded(src, i, i+len(c.pseudo), c.pseudo) {
				continue
			}
			b.WriteString(c.plain)
			i += len(c.pseudo)
			replaced = true
			break
		}
		if !replaced {
			b.WriteRune(src[i])
			i++
		}
	}
	return b.String()
}

// bounded reports whether src[from:to] stands as a whole word. The check
// only applies on sides where the candidate itself starts or ends with a
// word rune, so bracketed placeholders restore anywhere.
func bounded(src []rune, from, to int, cand []rune) bool {
	if isWordRune(cand[0]) && from > 0 && isWordRune(src[from-1]) {
		return false
	}
	if isWordRune(cand[len(cand)-1]) && to < len(src) && isWordRune(src[to]) {
		return false
	}
	return true
}

func hasRunePrefix(s, prefix []rune) bool {
	if len(prefix) == 0 || len(s) < len(prefix) {
		return false
	}
	for i, r := range prefix {
		if s[i] != r {
			return false
		}
	}
	return true
}

// fragment is a folded pseudonym fragment and the plain text it restores to.
type fragment struct {
	folded []rune
	plain  string
}

// restoreFragments is pass two: every Title or upper case word whose
// folded form equals a base pseudonym fragment, optionally followed by up
// to three letters when the fragment has at least four, is replaced by the
// plain fragment in the word's case. The suffix is kept. Lower-case words
// are left alone so ordinary vocabulary is never rewritten.
func restoreFragments(text string, fragments []Substitution) string {
	var frags []fragment
	for _, f := range fragments {
		if f.Pseudonym == "" || f.Plain == "" {
			continue
		}
		frags = append(frags, fragment{folded: []rune(foldString(f.Pseudonym)), plain: f.Plain})
	}
	if len(frags) == 0 {
		return text
	}
	sort.SliceStable(frags, func(i, j int) bool { return len(frags[i].folded) > len(frags[j].folded) })

	src := []rune(text)
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(src); {
		if !isWordRune(src[i]) || (i > 0 && isWordRune(src[i-1])) {
			b.WriteRune(src[i])
			i++
			continue
		}
		end := i
		for end < len(src) && isWordRune(src[end]) {
			end++
		}
		if capitalized(src[i:end]) {
			b.WriteString(restoreWord(src[i:end], frags))
		} else {
			b.WriteString(string(src[i:end]))
		}
		i = end
	}
	return b.String()
}

// restoreWord applies the first matching fragment to one word.
func restoreWord(word []rune, frags []fragment) string {
	for _, f := range frags {
		cut, ok := foldedPrefix(word, f.folded)
		if !ok {
			continue
		}
		suffix := word[cut:]
		if len(suffix) > 0 {
			if len(f.folded) < minInflectable || len(suffix) > maxSuffix || !allLetters(suffix) {
				continue
			}
		}
		return applyCase(patternOf(string(word[:cut])), f.plain) + string(suffix)
	}
	return string(word)
}

// foldedPrefix reports whether the folded form of word starts with folded,
// and returns the rune index in word where that prefix ends.
func foldedPrefix(word, folded []rune) (int, bool) {
	k := 0
	for i, r := range word {
		if k == len(folded) {
			if foldRune(r) == "" {
				continue
			}
			return i, true
		}
		for _, fr := range foldRune(r) {
			if k >= len(folded) || folded[k] != fr {
				return 0, false
			}
			k++
		}
	}
	if k == len(folded) {
		return len(word), true
	}
	return 0, false
}

// capitalized reports whether the first letter of word is upper case.
func capitalized(word []rune) bool {
	for _, r := range word {
		if unicode.IsLetter(r) {
			return unicode.IsUpper(r)
		}
	}
	return false
}

func allLetters(rs []rune) bool {
	for _, r := range rs {
		if !unicode.IsLetter(r) && !unicode.Is(unicode.Mn, r) {
			return false
		}
	}
	return true
}
