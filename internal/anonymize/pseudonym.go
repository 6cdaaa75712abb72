// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anonymize

import (
	"crypto/rand"
	"io"
	"math/big"
	"strings"

	"github.com/samber/lo"
)

const (
	// maxSuffix is the longest inflection suffix the restore pass tolerates.
	maxSuffix = 3
	// minInflectable is the shortest fragment that accepts a suffix.
	minInflectable = 4
	// pickAttempts bounds synthetic name draws.
	pickAttempts = 24
)

// generator draws pseudonyms that cannot be confused with any word the
// caller wants to avoid.
type generator struct {
	rand  io.Reader
	avoid []string // folded
}

func newGenerator(r io.Reader, avoidText ...string) *generator {
	if r == nil {
		r = rand.Reader
	}
	g := &generator{rand: r}
	for _, s := range avoidText {
		g.addAvoid(s)
	}
	return g
}

func (g *generator) addAvoid(s string) {
	for _, w := range words(s) {
		g.avoid = append(g.avoid, foldString(w))
	}
}

func (g *generator) collides(candidate string) bool {
	fc := foldString(candidate)
	for _, w := range g.avoid {
		if near(fc, w) {
			return true
		}
	}
	return false
}

// pick returns a random non-colliding pool entry, or a synthetic name
// when the whole pool collides.
func (g *generator) pick(pool []string) string {
	candidates := lo.Reject(pool, func(c string, _ int) bool { return g.collides(c) })
	if len(candidates) > 0 {
		if n, err := g.intn(len(candidates)); err == nil {
			return candidates[n]
		}
	}
	for i := 0; i < pickAttempts; i++ {
		if c := g.synthetic(); c != "" && !g.collides(c) {
			return c
		}
	}
	// Unreachable in practice: every random six-letter draw collided.
	return "Anonyme"
}

// pseudonym builds a gender-consistent pseudonym for id. Fragments the
// identity lacks stay empty.
func (g *generator) pseudonym(id Identity) Pseudonym {
	var p Pseudonym
	if len(words(id.GivenName)) > 0 {
		p.GivenName = g.pick(givenPool(id.Gender))
		g.addAvoid(p.GivenName)
	}
	if len(words(id.FamilyName)) > 0 {
		p.FamilyName = g.pick(familyNames)
		g.addAvoid(p.FamilyName)
	}
	return p
}

func (g *generator) intn(n int) (int, error) {
	v, err := rand.Int(g.rand, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

const (
	consonants = "bcdfglmnprstvz"
	vowels     = "aeiou"
)

// synthetic returns a pronounceable six-letter Title-case name.
func (g *generator) synthetic() string {
	var b strings.Builder
	for i := 0; i < 6; i++ {
		set := consonants
		if i%2 == 1 {
			set = vowels
		}
		n, err := g.intn(len(set))
		if err != nil {
			return ""
		}
		c := set[n]
		if i == 0 {
			c -= 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}
