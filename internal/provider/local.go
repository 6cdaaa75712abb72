// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"time"

	"github.com/jeranaias/noteguard/internal/faults"
	"github.com/jeranaias/noteguard/internal/ollama"
)

// DefaultLocalTimeout bounds a local completion.
const DefaultLocalTimeout = 120 * time.Second

// Local serves completions from an Ollama runtime on this machine.
type Local struct {
	client  *ollama.Client
	model   string
	timeout time.Duration
}

// NewLocal wraps client. An empty model uses the client's default.
func NewLocal(client *ollama.Client, model string, timeout time.Duration) *Local {
	if model == "" {
		model = client.DefaultModel()
	}
	if timeout <= 0 {
		timeout = DefaultLocalTimeout
	}
	return &Local{client: client, model: model, timeout: timeout}
}

// WithModel returns a provider on the same runtime serving a different model.
func (l *Local) WithModel(model string) *Local {
	if model == "" {
		return l
	}
	return &Local{client: l.client, model: model, timeout: l.timeout}
}

// Descriptor implements Provider.
func (l *Local) Descriptor() Descriptor {
	return Descriptor{
		Kind:       KindLocal,
		Model:      l.model,
		Endpoint:   l.client.BaseURL(),
		Configured: l.model != "",
	}
}

// Complete implements Provider.
func (l *Local) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	messages := make([]ollama.Message, 0, 2)
	if req.System != "" {
		messages = append(messages, ollama.NewSystemMessage(req.System))
	}
	messages = append(messages, ollama.NewUserMessage(req.User))

	var opts *ollama.Options
	if req.MaxTokens > 0 {
		opts = &ollama.Options{NumPredict: req.MaxTokens}
	}

	var (
		resp *ollama.ChatResponse
		err  error
	)
	if req.JSON {
		resp, err = l.client.ChatJSON(ctx, l.model, messages, opts)
	} else {
		resp, err = l.client.ChatWithOptions(ctx, l.model, messages, opts)
	}
	if err != nil {
		return Response{}, l.classify("local.complete", err)
	}

	return Response{
		Text:       resp.Message.Content,
		TokensUsed: resp.TotalTokens(),
		Model:      l.model,
	}, nil
}

// Ping checks the Ollama handshake and that the model is installed.
func (l *Local) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.client.CheckRunning(ctx); err != nil {
		return l.classify("local.ping", err)
	}
	ok, err := l.client.ModelExists(ctx, l.model)
	if err != nil {
		return l.classify("local.ping", err)
	}
	if !ok {
		return faults.Configuration("local.ping", "model %q is not installed (try: ollama pull %s)", l.model, l.model)
	}
	return nil
}

// Warm loads the model into memory with a one-token completion.
func (l *Local) Warm(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if _, err := l.client.Preload(ctx, l.model); err != nil {
		return l.classify("local.warm", err)
	}
	return nil
}

func (l *Local) classify(op string, err error) error {
	switch {
	case ollama.IsModelNotFound(err):
		return faults.Configuration(op, "model %q is not installed", l.model)
	case ollama.IsNotRunning(err), ollama.IsTimeout(err), isNetworkError(err):
		return faults.Connectivity(op, err, "local backend unreachable at %s", l.client.BaseURL())
	default:
		var ce *ollama.ClientError
		if errors.As(err, &ce) && ce.Type == ollama.ErrTypeConnection {
			return faults.Connectivity(op, err, "local backend unreachable at %s", l.client.BaseURL())
		}
		return faults.Provider(op, err, "local backend error")
	}
}
