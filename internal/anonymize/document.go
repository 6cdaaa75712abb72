// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anonymize

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Metadata describes a document to anonymize.
type Metadata struct {
	Text string
	// Gender overrides the identity's gender when set.
	Gender Gender
	// BirthDate, when set, is replaced by [BIRTHDATE-n] placeholders, one
	// per rendering found.
	BirthDate *time.Time
	// Untrusted marks text of unknown layout (OCR, scans) that gets a PII
	// extraction pass before substitution.
	Untrusted bool
	// Companions are other texts sent with this one, such as a system
	// prompt. The pseudonym avoids their words; pass them to Apply
	// afterwards.
	Companions []string
}

// Outcome is the result delivered by AnonymizeAsync.
type Outcome struct {
	Text    string
	Context *Context
	Err     error
}

// AnonymizeAsync runs AnonymizeDocument in the background. The channel
// receives exactly one Outcome and is then closed.
func (e *Engine) AnonymizeAsync(ctx context.Context, id Identity, meta Metadata) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		text, actx, err := e.AnonymizeDocument(ctx, id, meta)
		out <- Outcome{Text: text, Context: actx, Err: err}
	}()
	return out
}

// AnonymizeDocument is Anonymize for documents: it also hides the birth
// date and, for untrusted text, every name, date, place and organization
// the local extractor finds. The only error is ctx cancellation.
func (e *Engine) AnonymizeDocument(ctx context.Context, id Identity, meta Metadata) (string, *Context, error) {
	if meta.Gender != "" {
		id.Gender = meta.Gender
	}

	var pii PIIResult
	if meta.Untrusted && meta.Text != "" {
		pii = e.ExtractPII(ctx, meta.Text)
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	text, actx := e.anonymize(meta.Text, id, meta.Companions)
	actx.PIIDegraded = pii.Degraded

	counters := map[string]int{}
	if meta.BirthDate != nil {
		text = replaceBirthDate(text, *meta.BirthDate, actx, counters)
	}
	if meta.Untrusted {
		text = replacePII(text, pii, actx, counters)
	}
	return text, actx, nil
}

// birthDateForms lists the renderings looked for, most specific first.
func birthDateForms(d time.Time) []string {
	forms := []string{
		d.Format("02/01/2006"),
		d.Format("02.01.2006"),
		d.Format("02-01-2006"),
		d.Format("2006-01-02"),
		d.Format("2/1/2006"),
		d.Format("2.1.2006"),
	}
	seen := map[string]bool{}
	out := forms[:0]
	for _, f := range forms {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func replaceBirthDate(text string, d time.Time, actx *Context, counters map[string]int) string {
	for _, form := range birthDateForms(d) {
		placeholder := nextPlaceholder(text, "BIRTHDATE", counters)
		var replaced bool
		text, replaced = replaceBounded(text, form, placeholder, isDigitOrLetter)
		if replaced {
			actx.record(form, placeholder)
		} else {
			counters["BIRTHDATE"]--
		}
	}
	return text
}

// replacePII swaps every extracted value still present in text for an
// indexed placeholder, longest value first.
func replacePII(text string, pii PIIResult, actx *Context, counters map[string]int) string {
	type item struct {
		value, label string
	}
	var items []item
	add := func(label string, values []string) {
		for _, v := range values {
			items = append(items, item{value: v, label: label})
		}
	}
	add("NAME", pii.Names)
	add("DATE", pii.Dates)
	add("PLACE", pii.Places)
	add("ORG", pii.Organizations)
	sort.SliceStable(items, func(i, j int) bool { return len(items[i].value) > len(items[j].value) })

	for _, it := range items {
		placeholder := nextPlaceholder(text, it.label, counters)
		var replaced bool
		text, replaced = replaceFolded(text, it.value, placeholder)
		if replaced {
			actx.record(it.value, placeholder)
		} else {
			counters[it.label]--
		}
	}
	return text
}

// nextPlaceholder returns the next [LABEL-n] not already present in text.
func nextPlaceholder(text, label string, counters map[string]int) string {
	for {
		counters[label]++
		p := fmt.Sprintf("[%s-%d]", label, counters[label])
		if !strings.Contains(text, p) {
			return p
		}
	}
}

func isDigitOrLetter(r rune) bool {
	return unicode.IsDigit(r) || unicode.IsLetter(r)
}

// replaceBounded replaces exact occurrences of old not adjacent to a rune
// for which inWord is true.
func replaceBounded(text, old, repl string, inWord func(rune) bool) (string, bool) {
	src := []rune(text)
	pat := []rune(old)
	var b strings.Builder
	replaced := false
	for i := 0; i < len(src); {
		if hasRunePrefix(src[i:], pat) &&
			(i == 0 || !inWord(src[i-1])) &&
			(i+len(pat) == len(src) || !inWord(src[i+len(pat)])) {
			b.WriteString(repl)
			i += len(pat)
			replaced = true
			continue
		}
		b.WriteRune(src[i])
		i++
	}
	return b.String(), replaced
}

// replaceFolded replaces case- and accent-insensitive, word-bounded
// occurrences of value.
func replaceFolded(text, value, repl string) (string, bool) {
	t := newTrie()
	t.insert(new(keyBuilder).add(partLiteral, value), false)
	src := []rune(text)
	matches := t.scan(src)
	if len(matches) == 0 {
		return text, false
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(string(src[last:m.start]))
		b.WriteString(repl)
		last = m.end
	}
	b.WriteString(string(src[last:]))
	return b.String(), true
}
