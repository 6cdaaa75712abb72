// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anonymize

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/noteguard/internal/faults"
	"github.com/jeranaias/noteguard/internal/provider"
)

// stubProvider is a canned provider.Provider.
type stubProvider struct {
	kind  provider.Kind
	reply string
	err   error

	mu    sync.Mutex
	calls int
	last  provider.Request
}

func (s *stubProvider) Descriptor() provider.Descriptor {
	return provider.Descriptor{Kind: s.kind, Model: "stub", Endpoint: "http://127.0.0.1:11434", Configured: true}
}

func (s *stubProvider) Complete(_ context.Context, req provider.Request) (provider.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = req
	if s.err != nil {
		return provider.Response{}, s.err
	}
	return provider.Response{Text: s.reply, Model: "stub"}, nil
}

func (s *stubProvider) Ping(context.Context) error { return nil }

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func resolverFor(p provider.Provider) LocalResolver {
	return func(context.Context) (provider.Provider, error) { return p, nil }
}

// =============================================================================
// EXTRACT PII
// =============================================================================

func TestExtractPII_LocalProvider(t *testing.T) {
	stub := &stubProvider{
		kind:  provider.KindLocal,
		reply: `Sure! {"names":["Léa Martin","Léa Martin"],"dates":["12 mars 2024"],"places":["lyon","Paris"],"organizations":[]} Done.`,
	}
	e := NewEngine(Options{Resolver: resolverFor(stub)})

	got := e.ExtractPII(context.Background(), "Léa Martin, vue à Lyon le 12 mars 2024.")

	assert.False(t, got.Degraded)
	assert.Equal(t, []string{"Léa Martin"}, got.Names)
	assert.Equal(t, []string{"12 mars 2024"}, got.Dates)
	assert.Equal(t, []string{"lyon"}, got.Places, "absent values are dropped")
	assert.Empty(t, got.Organizations)

	require.Equal(t, 1, stub.callCount())
	assert.True(t, stub.last.JSON)
	assert.Equal(t, piiSystemPrompt, stub.last.System)
}

func TestExtractPII_EmptyTextMakesNoCall(t *testing.T) {
	stub := &stubProvider{kind: provider.KindLocal, reply: "{}"}
	e := NewEngine(Options{Resolver: resolverFor(stub)})

	got := e.ExtractPII(context.Background(), "   ")
	assert.True(t, got.Empty())
	assert.False(t, got.Degraded)
	assert.Zero(t, stub.callCount())
}

func TestExtractPII_NeverUsesCloud(t *testing.T) {
	stub := &stubProvider{kind: provider.KindCloud, reply: `{"names":["Léa"]}`}
	e := NewEngine(Options{Resolver: resolverFor(stub)})

	got := e.ExtractPII(context.Background(), "Léa")
	assert.True(t, got.Degraded)
	assert.True(t, got.Empty())
	assert.Zero(t, stub.callCount())
}

func TestExtractPII_Degrades(t *testing.T) {
	tests := []struct {
		name     string
		resolver LocalResolver
	}{
		{"no resolver", nil},
		{"resolver error", func(context.Context) (provider.Provider, error) {
			return nil, faults.Connectivity("resolve", errors.New("refused"), "local backend unreachable")
		}},
		{"provider error", resolverFor(&stubProvider{kind: provider.KindLocal, err: errors.New("boom")})},
		{"malformed reply", resolverFor(&stubProvider{kind: provider.KindLocal, reply: "{not json"})},
		{"no object", resolverFor(&stubProvider{kind: provider.KindLocal, reply: "I cannot help"})},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEngine(Options{Resolver: tc.resolver})
			got := e.ExtractPII(context.Background(), "Léa Martin")
			assert.True(t, got.Degraded)
			assert.True(t, got.Empty())
		})
	}
}

func TestParsePII(t *testing.T) {
	r, err := parsePII("```json\n{\"names\":[\"A\"],\"places\":[\"B\"]}\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, r.Names)
	assert.Equal(t, []string{"B"}, r.Places)

	_, err = parsePII("}{")
	assert.Error(t, err)
	_, err = parsePII(`{"names": "not a list"}`)
	assert.Error(t, err)
}

func TestFilterPresent(t *testing.T) {
	in := PIIResult{
		Places:        []string{"Lyon", " LYON ", "lyon", "Nantes", ""},
		Organizations: []string{"Hopital  Nord"},
	}

	got := filterPresent(in, "Transfert Hôpital Nord, Lyon.")
	assert.Equal(t, []string{"Lyon"}, got.Places)
	assert.Equal(t, []string{"Hopital Nord"}, got.Organizations)
	assert.Empty(t, got.Names)
}
