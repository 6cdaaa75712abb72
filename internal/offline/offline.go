// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrCloudBlocked is returned when cloud inference is attempted in offline mode.
	ErrCloudBlocked = errors.New("cloud inference disabled in offline mode")

	// ErrNonLocalhost is returned when an endpoint that must stay on this
	// machine resolves to a non-loopback host.
	ErrNonLocalhost = errors.New("endpoint is not a loopback address")

	// ErrInvalidURLScheme is returned when URL scheme is not http or https.
	ErrInvalidURLScheme = errors.New("only http and https schemes are allowed")

	// ErrInvalidURL is returned for endpoints that do not parse.
	ErrInvalidURL = errors.New("invalid endpoint URL")
)

// =============================================================================
// GUARD
// =============================================================================

// Guard holds the offline switch. The zero value is online.
type Guard struct {
	offline atomic.Bool
}

// NewGuard returns a guard in the given mode.
func NewGuard(offline bool) *Guard {
	g := &Guard{}
	g.offline.Store(offline)
	return g
}

// SetOffline toggles offline mode. Safe for concurrent use.
func (g *Guard) SetOffline(enabled bool) {
	g.offline.Store(enabled)
}

// IsOffline reports whether offline mode is on.
func (g *Guard) IsOffline() bool {
	if g == nil {
		return false
	}
	return g.offline.Load()
}

// CheckCloudAllowed returns ErrCloudBlocked while offline.
func (g *Guard) CheckCloudAllowed() error {
	if g.IsOffline() {
		return ErrCloudBlocked
	}
	return nil
}

// StatusBadge returns "[OFFLINE]" when offline, empty string otherwise.
func (g *Guard) StatusBadge() string {
	if g.IsOffline() {
		return "[OFFLINE]"
	}
	return ""
}

// =============================================================================
// URL VALIDATION
// =============================================================================

// IsLocalhost checks if a host string refers to this machine.
// Accepts "localhost", the whole 127.0.0.0/8 range and every IPv6 loopback
// spelling, with or without port or brackets.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))

	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// ValidateLocalEndpoint checks that rawURL is an http(s) URL on a loopback
// host. The scheme check always applies; the loopback check is skipped when
// allowRemote is set.
func ValidateLocalEndpoint(rawURL string, allowRemote bool) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return ErrInvalidURL
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidURLScheme
	}

	if !allowRemote && !IsLocalhost(parsed.Hostname()) {
		return ErrNonLocalhost
	}
	return nil
}
