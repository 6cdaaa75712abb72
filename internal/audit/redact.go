// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import "regexp"

// =============================================================================
// REDACTOR INTERFACE
// =============================================================================

// Redactor replaces secrets in free text before it is persisted.
type Redactor interface {
	// Redact replaces sensitive data in the input string.
	Redact(input string) string
	// Name returns the name of this redactor.
	Name() string
}

// PatternRedactor redacts text matching a regex pattern.
type PatternRedactor struct {
	name    string
	pattern *regexp.Regexp
	replace string
}

// NewPatternRedactor creates a new pattern-based redactor.
func NewPatternRedactor(name string, pattern *regexp.Regexp, replace string) *PatternRedactor {
	return &PatternRedactor{name: name, pattern: pattern, replace: replace}
}

// Redact replaces matches with the replacement string.
func (r *PatternRedactor) Redact(input string) string {
	return r.pattern.ReplaceAllString(input, r.replace)
}

// Name returns the redactor name.
func (r *PatternRedactor) Name() string { return r.name }

// =============================================================================
// BUILT-IN SECRET PATTERNS
// =============================================================================

// Order matters: the more specific key prefixes run before the generic sk- one.
var secretPatterns = []struct {
	name    string
	pattern *regexp.Regexp
	replace string
}{
	{"OpenRouter", regexp.MustCompile(`sk-or-v1-[a-zA-Z0-9]{32,}`), "[OPENROUTER_KEY_REDACTED]"},
	{"Anthropic", regexp.MustCompile(`sk-ant-[a-zA-Z0-9\-]{20,}`), "[ANTHROPIC_KEY_REDACTED]"},
	{"OpenAI", regexp.MustCompile(`sk-(?:proj-)?[a-zA-Z0-9]{20,}`), "[OPENAI_KEY_REDACTED]"},
	{"GitHub", regexp.MustCompile(`gh[pousr]_[a-zA-Z0-9]{36,}`), "[GITHUB_TOKEN_REDACTED]"},
	{"AWS", regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "[AWS_KEY_REDACTED]"},
	{"Bearer", regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-_.=]+`), "Bearer [TOKEN_REDACTED]"},
	{"Password", regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[=:]\s*\S+`), "[PASSWORD_REDACTED]"},
	{"JWT", regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`), "[JWT_REDACTED]"},
}

// DefaultRedactors returns the built-in secret redactors.
func DefaultRedactors() []Redactor {
	redactors := make([]Redactor, 0, len(secretPatterns))
	for _, sp := range secretPatterns {
		redactors = append(redactors, NewPatternRedactor(sp.name, sp.pattern, sp.replace))
	}
	return redactors
}

// Redact applies the built-in redactors to s.
func Redact(s string) string {
	return redactAll(defaultSet, s)
}

var defaultSet = DefaultRedactors()

func redactAll(redactors []Redactor, s string) string {
	if s == "" {
		return s
	}
	for _, r := range redactors {
		s = r.Redact(s)
	}
	return s
}
