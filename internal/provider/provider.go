// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider defines the inference backend abstraction and its two
// implementations: a local Ollama runtime and an OpenAI-compatible cloud API.
package provider

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/jeranaias/noteguard/internal/faults"
)

// =============================================================================
// KIND
// =============================================================================

// Kind distinguishes on-device from third-party backends.
type Kind int

const (
	KindLocal Kind = iota
	KindCloud
)

// String returns "local" or "cloud".
func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindCloud:
		return "cloud"
	default:
		return "unknown"
	}
}

// ParseKind parses "local" or "cloud", case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "ollama":
		return KindLocal, nil
	case "cloud", "openrouter":
		return KindCloud, nil
	default:
		return KindLocal, faults.Configuration("provider.parse", "unknown provider kind %q", s)
	}
}

// =============================================================================
// CONTRACT
// =============================================================================

// Descriptor identifies a configured backend.
type Descriptor struct {
	Kind       Kind
	Model      string
	Endpoint   string
	Configured bool
}

// Request is a single-turn completion request.
type Request struct {
	System    string
	User      string
	MaxTokens int
	// JSON asks the backend for a JSON object reply where supported.
	JSON bool
}

// Response is the backend's answer.
type Response struct {
	Text       string
	TokensUsed int
	Model      string
}

// Provider is an inference backend. Implementations classify every error
// with the faults taxonomy and bound every call with their own timeout.
type Provider interface {
	Descriptor() Descriptor
	Complete(ctx context.Context, req Request) (Response, error)
	// Ping validates that the backend can serve requests: reachability and
	// model presence for local, credential presence for cloud.
	Ping(ctx context.Context) error
}

// Warmer is implemented by backends that benefit from preloading.
type Warmer interface {
	Warm(ctx context.Context) error
}

// isNetworkError reports transport-level failures that never reached the
// remote service.
func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
