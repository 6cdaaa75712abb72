// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package anonymize replaces a patient identity with a reversible
// pseudonym before text leaves the machine, and restores it in replies.
//
// # Matching
//
// Identity fragments are matched rune by rune through a trie keyed on the
// case-folded, accent-stripped form (NFD with nonspacing marks removed).
// Matches respect Unicode word boundaries and the longest pattern wins at
// each position, so "Léa Martin" is one match rather than two. Recognised
// shapes are given+family in both orders, "family, given", initial plus
// family ("L. Martin") and each fragment alone.
//
// Each replaced word takes the case of the word it replaces: ALL CAPS,
// all lower, or Title case for everything else.
//
// # Pseudonyms
//
// Pseudonyms come from gender-specific pools drawn with crypto/rand. A
// candidate is rejected when it could be confused with an identity
// fragment or any word of the input text, which keeps the restore pass
// from touching content the model merely repeated.
//
// # Restoring
//
// Deanonymize first reverses the exact surfaces recorded in the Context,
// longest first. A second pass folds case and accents and accepts up to
// three trailing letters on fragments of four letters or more, which
// covers replies that inflect the name ("Duboiss", "CLAIRES").
//
// Known limits: irregular mixed case ("mArTiN") and accent-stripped
// spellings share the pseudonym surface of the first variant seen, and
// therefore restore to that first variant's spelling.
package anonymize
