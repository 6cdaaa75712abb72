// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/noteguard/internal/cloud"
	"github.com/jeranaias/noteguard/internal/faults"
	"github.com/jeranaias/noteguard/internal/ollama"
)

// fakeOllama serves the subset of the Ollama API the local provider uses.
type fakeOllama struct {
	models    map[string]bool
	lastChat  atomic.Pointer[ollama.ChatRequest]
	chatReply string
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/":
		_, _ = w.Write([]byte("Ollama is running"))
	case "/api/show":
		var req ollama.ShowModelRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !f.models[req.Name] {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	case "/api/chat":
		var req ollama.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.lastChat.Store(&req)
		if !f.models[req.Model] {
			http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(ollama.ChatResponse{
			Model:           req.Model,
			Message:         ollama.Message{Role: "assistant", Content: f.chatReply},
			Done:            true,
			PromptEvalCount: 4,
			EvalCount:       2,
		})
	default:
		http.NotFound(w, r)
	}
}

func newLocal(t *testing.T, f *fakeOllama, model string) *Local {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL, KeepAlive: "10m"})
	return NewLocal(client, model, 2*time.Second)
}

// =============================================================================
// LOCAL
// =============================================================================

func TestLocal_Complete(t *testing.T) {
	f := &fakeOllama{models: map[string]bool{"llama3": true}, chatReply: "structured note"}
	p := newLocal(t, f, "llama3")

	resp, err := p.Complete(context.Background(), Request{System: "sys", User: "note", MaxTokens: 32})
	require.NoError(t, err)

	assert.Equal(t, "structured note", resp.Text)
	assert.Equal(t, 6, resp.TokensUsed)
	assert.Equal(t, "llama3", resp.Model)

	sent := f.lastChat.Load()
	require.NotNil(t, sent)
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, "system", sent.Messages[0].Role)
	assert.Equal(t, 32, sent.Options.NumPredict)
	assert.Equal(t, "10m", sent.KeepAlive)
	assert.Empty(t, sent.Format)
}

func TestLocal_CompleteJSONMode(t *testing.T) {
	f := &fakeOllama{models: map[string]bool{"llama3": true}, chatReply: "{}"}
	p := newLocal(t, f, "llama3")

	_, err := p.Complete(context.Background(), Request{User: "extract", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, "json", f.lastChat.Load().Format)
}

func TestLocal_Descriptor(t *testing.T) {
	p := newLocal(t, &fakeOllama{}, "mistral")
	d := p.Descriptor()

	assert.Equal(t, KindLocal, d.Kind)
	assert.Equal(t, "mistral", d.Model)
	assert.True(t, strings.HasPrefix(d.Endpoint, "http://127.0.0.1:"))
	assert.True(t, d.Configured)

	other := p.WithModel("llama3")
	assert.Equal(t, "llama3", other.Descriptor().Model)
	assert.Equal(t, "mistral", p.Descriptor().Model)
	assert.Same(t, p, p.WithModel(""))
}

func TestLocal_PingMissingModelIsConfiguration(t *testing.T) {
	p := newLocal(t, &fakeOllama{models: map[string]bool{}}, "absent")

	err := p.Ping(context.Background())
	assert.ErrorIs(t, err, faults.ErrConfiguration)
	assert.Contains(t, err.Error(), "ollama pull absent")
}

func TestLocal_UnreachableIsConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewLocal(ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url}), "m", time.Second)

	assert.ErrorIs(t, p.Ping(context.Background()), faults.ErrConnectivity)
	assert.ErrorIs(t, p.Warm(context.Background()), faults.ErrConnectivity)
	_, err := p.Complete(context.Background(), Request{User: "x"})
	assert.ErrorIs(t, err, faults.ErrConnectivity)
}

func TestLocal_TimeoutIsConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p := NewLocal(ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL}), "m", 30*time.Millisecond)
	_, err := p.Complete(context.Background(), Request{User: "x"})
	assert.ErrorIs(t, err, faults.ErrConnectivity)
}

func TestLocal_WarmSendsSingleToken(t *testing.T) {
	f := &fakeOllama{models: map[string]bool{"llama3": true}, chatReply: "k"}
	p := newLocal(t, f, "llama3")

	require.NoError(t, p.Warm(context.Background()))
	assert.Equal(t, 1, f.lastChat.Load().Options.NumPredict)
}

// =============================================================================
// CLOUD
// =============================================================================

func newCloud(t *testing.T, key string, handler http.HandlerFunc) *Cloud {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := cloud.NewClient(cloud.Config{
		APIKey:            key,
		BaseURL:           srv.URL,
		Model:             "openrouter/auto",
		RequestsPerSecond: 100,
	}, nil)
	return NewCloud(client, "", time.Second)
}

func TestCloud_NoCredentialNeverCallsAPI(t *testing.T) {
	var calls atomic.Int32
	p := newCloud(t, "", func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	assert.False(t, p.Descriptor().Configured)
	assert.ErrorIs(t, p.Ping(context.Background()), faults.ErrConfiguration)

	_, err := p.Complete(context.Background(), Request{User: "hi"})
	assert.ErrorIs(t, err, faults.ErrConfiguration)
	assert.Zero(t, calls.Load())
}

func TestCloud_Complete(t *testing.T) {
	p := newCloud(t, "sk-test", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","model":"openrouter/auto",
			"choices":[{"index":0,"message":{"role":"assistant","content":"draft"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`))
	})

	d := p.Descriptor()
	assert.Equal(t, KindCloud, d.Kind)
	assert.Equal(t, "openrouter/auto", d.Model)
	assert.True(t, d.Configured)

	resp, err := p.Complete(context.Background(), Request{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "draft", resp.Text)
	assert.Equal(t, 7, resp.TokensUsed)
}

func TestCloud_ErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, faults.ErrConfiguration},
		{http.StatusNotFound, faults.ErrConfiguration},
		{http.StatusTooManyRequests, faults.ErrProvider},
		{http.StatusBadRequest, faults.ErrProvider},
		{http.StatusServiceUnavailable, faults.ErrConnectivity},
		{http.StatusInternalServerError, faults.ErrConnectivity},
	}

	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			p := newCloud(t, "sk-test", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":{"message":"x"}}`))
			})

			_, err := p.Complete(context.Background(), Request{User: "hi"})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Cloud")
	require.NoError(t, err)
	assert.Equal(t, KindCloud, k)

	k, err = ParseKind("ollama")
	require.NoError(t, err)
	assert.Equal(t, KindLocal, k)

	_, err = ParseKind("mainframe")
	assert.ErrorIs(t, err, faults.ErrConfiguration)
	assert.Equal(t, "cloud", KindCloud.String())
}
