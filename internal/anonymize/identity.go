// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anonymize

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/noteguard/internal/faults"
)

// =============================================================================
// IDENTITY
// =============================================================================

// Gender selects the pseudonym pool.
type Gender string

const (
	GenderFemale  Gender = "F"
	GenderMale    Gender = "M"
	GenderUnknown Gender = "X"
)

// ParseGender accepts F/M/X and the usual long forms. Anything else is
// GenderUnknown.
func ParseGender(s string) Gender {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f", "female", "woman", "femme":
		return GenderFemale
	case "m", "male", "man", "homme":
		return GenderMale
	default:
		return GenderUnknown
	}
}

// Identity is the patient identity to hide. It is supplied per call and
// never stored by this package.
type Identity struct {
	GivenName  string
	FamilyName string
	Gender     Gender
}

// IsEmpty reports whether neither name carries any letter.
func (id Identity) IsEmpty() bool {
	return len(words(id.GivenName)) == 0 && len(words(id.FamilyName)) == 0
}

// IdentitySource supplies identities from the host application's patient
// records.
type IdentitySource interface {
	Lookup(ctx context.Context, patientKey string) (Identity, error)
}

// =============================================================================
// CONTEXT
// =============================================================================

// Pseudonym is the replacement identity for one round trip.
type Pseudonym struct {
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

// Substitution pairs an original surface with the text that replaced it.
type Substitution struct {
	Plain     string `json:"plain"`
	Pseudonym string `json:"pseudonym"`
}

// Context is everything needed to reverse one Anonymize call. It is scoped
// to a single request/response round trip.
type Context struct {
	SessionID uuid.UUID
	Pseudonym Pseudonym
	Gender    Gender
	CreatedAt time.Time

	// Mapping holds surface-level substitutions in the order they were
	// first seen. For a given pseudonym surface the first entry wins.
	Mapping []Substitution

	// Fragments holds the base name pairs used by the tolerant restore pass.
	Fragments []Substitution

	// PIIDegraded is set when an untrusted document could not be screened
	// by the local extractor.
	PIIDegraded bool
}

// NoOp reports whether nothing was substituted.
func (c *Context) NoOp() bool {
	return c == nil || len(c.Mapping) == 0
}

// Err returns an AnonymizationNoOp error for a no-op context, nil otherwise.
func (c *Context) Err() error {
	if c.NoOp() {
		return &faults.Error{Kind: faults.KindAnonymizationNoOp, Op: "anonymize", Message: "identity not present in text"}
	}
	return nil
}

// record adds a substitution unless the pseudonym surface is already mapped.
func (c *Context) record(plain, pseudo string) {
	if plain == "" || pseudo == "" || plain == pseudo {
		return
	}
	for _, s := range c.Mapping {
		if s.Pseudonym == pseudo {
			return
		}
	}
	c.Mapping = append(c.Mapping, Substitution{Plain: plain, Pseudonym: pseudo})
}

// addFragments records the base name pairs of id once.
func (c *Context) addFragments(id Identity) {
	add := func(plain, pseudo string) {
		if plain == "" || pseudo == "" {
			return
		}
		for _, f := range c.Fragments {
			if f.Pseudonym == pseudo {
				return
			}
		}
		c.Fragments = append(c.Fragments, Substitution{Plain: plain, Pseudonym: pseudo})
	}
	add(collapseSpace(id.GivenName), c.Pseudonym.GivenName)
	add(collapseSpace(id.FamilyName), c.Pseudonym.FamilyName)
}

func newContext(g Gender) *Context {
	return &Context{
		SessionID: uuid.New(),
		Gender:    g,
		CreatedAt: time.Now().UTC(),
	}
}
