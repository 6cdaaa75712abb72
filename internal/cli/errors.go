// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/noteguard/internal/faults"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitConfigError  = 3
	ExitNetworkError = 5
	// ExitPolicyError indicates a refused routing decision.
	ExitPolicyError  = 6
	ExitTimeoutError = 8
)

// ValidationError represents invalid command input.
type ValidationError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// exitCode maps an error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return ExitUsageError
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	case faults.IsPolicyViolation(err):
		return ExitPolicyError
	case faults.IsConfiguration(err):
		return ExitConfigError
	case faults.IsConnectivity(err):
		return ExitNetworkError
	default:
		return ExitGeneralError
	}
}

// RenderError formats err for the terminal with a hint for the common
// failure kinds.
func RenderError(err error) string {
	msg := RenderConditional(ErrorStyle, "Error: ") + err.Error()
	if hint := errorHint(err); hint != "" {
		msg += "\n" + RenderConditional(DimStyle, "Hint: "+hint)
	}
	return msg
}

func errorHint(err error) string {
	switch {
	case faults.IsPolicyViolation(err):
		return "sensitive operations only run on the local backend"
	case faults.IsConnectivity(err):
		return "is Ollama running? try `ollama serve`, then `noteguard status`"
	case faults.IsConfiguration(err):
		return "check ~/.noteguard/config.toml or `noteguard config keys`"
	default:
		return ""
	}
}
