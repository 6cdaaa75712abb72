// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"
	"strings"

	"github.com/jeranaias/noteguard/internal/faults"
	"github.com/jeranaias/noteguard/internal/provider"
)

// ============================================================================
// OPERATION CLASS
// ============================================================================

// Class is the sensitivity class of an operation.
// Ordered by restriction: General < Sensitive.
type Class int

const (
	// ClassGeneral may use the active user-selected provider.
	ClassGeneral Class = iota
	// ClassSensitive must stay on the local backend.
	ClassSensitive
)

// String returns the lower-case name of the class.
func (c Class) String() string {
	switch c {
	case ClassGeneral:
		return "general"
	case ClassSensitive:
		return "sensitive"
	default:
		return fmt.Sprintf("Class(%d)", c)
	}
}

// BlocksCloud reports whether the class forbids cloud providers.
func (c Class) BlocksCloud() bool {
	return c >= ClassSensitive
}

// ============================================================================
// OPERATIONS
// ============================================================================

// Operation names a caller-facing task.
type Operation string

const (
	OpNoteStructuring  Operation = "note_structuring"
	OpPIIExtraction    Operation = "pii_extraction"
	OpDocumentAnalysis Operation = "document_analysis"
	OpChat             Operation = "chat"
	OpDraftGeneration  Operation = "draft_generation"
	OpLetter           Operation = "letter"
	OpForm             Operation = "form"
)

// Operations lists every known operation.
var Operations = []Operation{
	OpNoteStructuring, OpPIIExtraction, OpDocumentAnalysis,
	OpChat, OpDraftGeneration, OpLetter, OpForm,
}

// ClassOf returns the sensitivity class of op. Unknown operations are
// treated as sensitive.
func ClassOf(op Operation) Class {
	switch op {
	case OpChat, OpDraftGeneration, OpLetter, OpForm:
		return ClassGeneral
	default:
		return ClassSensitive
	}
}

// ParseOperation accepts an operation name, with dashes or underscores.
func ParseOperation(s string) (Operation, error) {
	norm := Operation(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, op := range Operations {
		if op == norm {
			return op, nil
		}
	}
	return "", faults.Configuration("router.parse_operation", "unknown operation %q", s)
}

// ============================================================================
// OVERRIDE
// ============================================================================

// Override is a per-request provider request from the caller.
type Override int

const (
	// OverrideNone keeps the policy's choice.
	OverrideNone Override = iota
	// OverrideLocal asks for the local provider.
	OverrideLocal
	// OverrideCloud asks for the cloud provider.
	OverrideCloud
)

// String returns the name of the override.
func (o Override) String() string {
	switch o {
	case OverrideNone:
		return "none"
	case OverrideLocal:
		return "local"
	case OverrideCloud:
		return "cloud"
	default:
		return fmt.Sprintf("Override(%d)", o)
	}
}

// ParseOverride maps "", "local" and "cloud" to an Override.
func ParseOverride(s string) (Override, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "auto":
		return OverrideNone, nil
	case "local", "ollama":
		return OverrideLocal, nil
	case "cloud", "openrouter":
		return OverrideCloud, nil
	default:
		return OverrideNone, faults.Configuration("router.parse_override", "unknown provider override %q", s)
	}
}

// ============================================================================
// SELECTION AND DECISION
// ============================================================================

// Selection is a snapshot of the providers a request may be routed to.
type Selection struct {
	// Active is the user-selected provider for general operations.
	Active provider.Provider
	// Local is the preferred local provider, used for sensitive operations.
	Local provider.Provider
	// Cloud is the configured cloud provider, if any.
	Cloud provider.Provider
	// Offline blocks every cloud provider.
	Offline bool
	// AllowRemoteLocal permits a local provider whose endpoint is not a
	// loopback address.
	AllowRemoteLocal bool
}

// Decision is the outcome of Resolve.
type Decision struct {
	// Provider is the provider to call. Nil when Resolve fails.
	Provider provider.Provider `json:"-"`
	// Target describes Provider, or the refused provider on failure.
	Target provider.Descriptor `json:"target"`
	Class  Class               `json:"class"`
	// Reason explains the decision.
	Reason string `json:"reason"`
}

// String returns a human-readable summary of the decision.
func (d Decision) String() string {
	return fmt.Sprintf("%s -> %s (%s): %s", d.Class, d.Target.Kind, d.Target.Model, d.Reason)
}
