// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package faults defines the error taxonomy shared by the gateway, the
// providers and the anonymization engine.
package faults

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind categorizes gateway errors for handling and audit labelling.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration covers a missing credential, model or endpoint.
	KindConfiguration
	// KindConnectivity covers unreachable backends and timeouts.
	KindConnectivity
	// KindPolicyViolation is an attempt to route a sensitive operation off-device.
	KindPolicyViolation
	// KindProvider covers malformed or non-success backend responses.
	KindProvider
	// KindAnonymizationNoOp is benign: the identity was absent from the text.
	KindAnonymizationNoOp
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindConnectivity:
		return "ConnectivityError"
	case KindPolicyViolation:
		return "PolicyViolation"
	case KindProvider:
		return "ProviderError"
	case KindAnonymizationNoOp:
		return "AnonymizationNoOp"
	default:
		return "UnknownError"
	}
}

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is a classified gateway error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of message or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinel errors for errors.Is checks.
var (
	ErrConfiguration     = &Error{Kind: KindConfiguration, Message: "configuration error"}
	ErrConnectivity      = &Error{Kind: KindConnectivity, Message: "connectivity error"}
	ErrPolicyViolation   = &Error{Kind: KindPolicyViolation, Message: "policy violation"}
	ErrProvider          = &Error{Kind: KindProvider, Message: "provider error"}
	ErrAnonymizationNoOp = &Error{Kind: KindAnonymizationNoOp, Message: "identity not present in text"}
)

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// Configuration returns a KindConfiguration error.
func Configuration(op, format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Connectivity returns a KindConnectivity error wrapping cause.
func Connectivity(op string, cause error, format string, args ...any) *Error {
	return &Error{Kind: KindConnectivity, Op: op, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Policy returns a KindPolicyViolation error.
func Policy(op, format string, args ...any) *Error {
	return &Error{Kind: KindPolicyViolation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Provider returns a KindProvider error wrapping cause.
func Provider(op string, cause error, format string, args ...any) *Error {
	return &Error{Kind: KindProvider, Op: op, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf reports the taxonomy kind of err. Context cancellation and deadline
// errors that were not classified upstream count as connectivity failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindConnectivity
	}
	return KindUnknown
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return KindOf(err) == KindConfiguration }

// IsConnectivity reports whether err is a connectivity error.
func IsConnectivity(err error) bool { return KindOf(err) == KindConnectivity }

// IsPolicyViolation reports whether err is a policy violation.
func IsPolicyViolation(err error) bool { return KindOf(err) == KindPolicyViolation }
