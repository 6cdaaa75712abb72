// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anonymize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/jeranaias/noteguard/internal/faults"
	"github.com/jeranaias/noteguard/internal/provider"
)

// PIIResult lists identifying values found in a text. Every value occurs
// in the text it was extracted from.
type PIIResult struct {
	Names         []string `json:"names"`
	Dates         []string `json:"dates"`
	Places        []string `json:"places"`
	Organizations []string `json:"organizations"`
	// Degraded is set when the extractor was unavailable or answered with
	// something unusable; the lists are then empty.
	Degraded bool `json:"degraded,omitempty"`
}

// Empty reports whether nothing was found.
func (r PIIResult) Empty() bool {
	return len(r.Names)+len(r.Dates)+len(r.Places)+len(r.Organizations) == 0
}

const piiSystemPrompt = `You extract personally identifying information from clinical text.
Reply with a single JSON object and nothing else, using exactly these keys:
{"names": [], "dates": [], "places": [], "organizations": []}
Copy every value exactly as it is written in the text. Use empty lists when nothing is found.`

// piiMaxTokens bounds the extractor's reply.
const piiMaxTokens = 1024

// ExtractPII asks the local backend for the names, dates, places and
// organizations in text. The call never leaves the machine: a resolver
// that yields a non-local provider is refused without calling it. Any
// failure degrades to an empty result with Degraded set.
func (e *Engine) ExtractPII(ctx context.Context, text string) PIIResult {
	if strings.TrimSpace(text) == "" {
		return PIIResult{}
	}
	if e.resolver == nil {
		e.logger.Warn("pii extraction unavailable: no local resolver")
		return PIIResult{Degraded: true}
	}

	p, err := e.resolver(ctx)
	if err != nil {
		e.logger.Warn("pii extraction unavailable", "err", err)
		return PIIResult{Degraded: true}
	}
	if d := p.Descriptor(); d.Kind != provider.KindLocal {
		err := faults.Policy("anonymize.extract_pii", "refusing %s provider for PII extraction", d.Kind)
		e.logger.Error("pii extraction refused", "err", err)
		return PIIResult{Degraded: true}
	}

	resp, err := p.Complete(ctx, provider.Request{
		System:    piiSystemPrompt,
		User:      text,
		MaxTokens: piiMaxTokens,
		JSON:      true,
	})
	if err != nil {
		e.logger.Warn("pii extraction failed", "kind", faults.KindOf(err), "err", err)
		return PIIResult{Degraded: true}
	}

	result, err := parsePII(resp.Text)
	if err != nil {
		e.logger.Warn("pii extraction returned malformed output", "err", err, "chars", len(resp.Text))
		return PIIResult{Degraded: true}
	}
	return filterPresent(result, text)
}

// parsePII decodes the first JSON object embedded in a model reply.
func parsePII(reply string) (PIIResult, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start == -1 || end <= start {
		return PIIResult{}, errors.New("no JSON object in reply")
	}

	var raw struct {
		Names         []string `json:"names"`
		Dates         []string `json:"dates"`
		Places        []string `json:"places"`
		Organizations []string `json:"organizations"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return PIIResult{}, fmt.Errorf("decode: %w", err)
	}
	return PIIResult{
		Names:         raw.Names,
		Dates:         raw.Dates,
		Places:        raw.Places,
		Organizations: raw.Organizations,
	}, nil
}

// filterPresent trims and de-duplicates values and keeps only those that
// occur in text, ignoring case and accents.
func filterPresent(r PIIResult, text string) PIIResult {
	folded := foldString(text)
	clean := func(values []string) []string {
		values = lo.Map(values, func(v string, _ int) string { return collapseSpace(v) })
		values = lo.Filter(values, func(v string, _ int) bool {
			return v != "" && strings.Contains(folded, foldString(v))
		})
		return lo.UniqBy(values, foldString)
	}
	return PIIResult{
		Names:         clean(r.Names),
		Dates:         clean(r.Dates),
		Places:        clean(r.Places),
		Organizations: clean(r.Organizations),
	}
}
