// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package warmup

import (
	"fmt"
	"time"
)

// State is the readiness of the supervised backend.
type State int

const (
	// StateUninitialized: no cycle has run for the current target.
	StateUninitialized State = iota
	// StateChecking: handshake and model lookup in progress.
	StateChecking
	// StateWarming: model is being loaded into memory.
	StateWarming
	// StateReady: the backend answered the warming call.
	StateReady
	// StateDegraded: re-checks are exhausted; calls are still attempted lazily.
	StateDegraded
	// StateError: the last check or live call failed.
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateChecking:
		return "checking"
	case StateWarming:
		return "warming"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Terminal reports whether a cycle stops in this state.
func (s State) Terminal() bool {
	return s == StateReady || s == StateError || s == StateDegraded
}

// Event is a published state transition.
type Event struct {
	State   State
	Message string
	At      time.Time
	// Generation increments on every Reset; events of an older generation
	// are never published after the reset.
	Generation uint64

	// unreachable marks an Error produced by a failed check or warm.
	unreachable bool
}

// String formats the event for status output.
func (e Event) String() string {
	if e.Message == "" {
		return e.State.String()
	}
	return e.State.String() + ": " + e.Message
}
