// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"time"

	"github.com/jeranaias/noteguard/internal/cloud"
	"github.com/jeranaias/noteguard/internal/faults"
)

// DefaultCloudTimeout bounds a cloud completion.
const DefaultCloudTimeout = 90 * time.Second

// Cloud serves completions from a third-party OpenAI-compatible API.
type Cloud struct {
	client  *cloud.Client
	model   string
	timeout time.Duration
}

// NewCloud wraps client. An empty model uses the client's default.
func NewCloud(client *cloud.Client, model string, timeout time.Duration) *Cloud {
	if model == "" {
		model = client.Model()
	}
	if timeout <= 0 {
		timeout = DefaultCloudTimeout
	}
	return &Cloud{client: client, model: model, timeout: timeout}
}

// WithModel returns a provider on the same client serving a different model.
func (c *Cloud) WithModel(model string) *Cloud {
	if model == "" {
		return c
	}
	return &Cloud{client: c.client, model: model, timeout: c.timeout}
}

// Descriptor implements Provider.
func (c *Cloud) Descriptor() Descriptor {
	return Descriptor{
		Kind:       KindCloud,
		Model:      c.model,
		Endpoint:   c.client.BaseURL(),
		Configured: c.client.IsConfigured() && c.model != "",
	}
}

// Complete implements Provider.
func (c *Cloud) Complete(ctx context.Context, req Request) (Response, error) {
	if err := c.Ping(ctx); err != nil {
		return Response{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.client.Chat(ctx, c.model, req.System, req.User, req.MaxTokens)
	if err != nil {
		return Response{}, c.classify(err)
	}
	return Response{Text: out.Content, TokensUsed: out.TotalTokens, Model: out.Model}, nil
}

// Ping checks credential and model presence. It does not contact the API.
func (c *Cloud) Ping(context.Context) error {
	if !c.client.IsConfigured() {
		return faults.Configuration("cloud.ping", "no cloud API key configured")
	}
	if c.model == "" {
		return faults.Configuration("cloud.ping", "no cloud model configured")
	}
	return nil
}

func (c *Cloud) classify(err error) error {
	const op = "cloud.complete"
	switch {
	case errors.Is(err, cloud.ErrNotConfigured):
		return faults.Configuration(op, "no cloud API key configured")
	case errors.Is(err, cloud.ErrAuthFailed):
		return faults.Configuration(op, "cloud API key rejected")
	case errors.Is(err, cloud.ErrModelNotFound):
		return faults.Configuration(op, "cloud model %q not available", c.model)
	case errors.Is(err, cloud.ErrRateLimited), errors.Is(err, cloud.ErrInsufficientCredits), errors.Is(err, cloud.ErrEmptyResponse):
		return faults.Provider(op, err, "cloud backend refused the request")
	case isNetworkError(err):
		return faults.Connectivity(op, err, "cloud backend unreachable")
	case cloud.IsRetryable(err):
		// 5xx: the backend is up but cannot serve right now.
		return faults.Connectivity(op, err, "cloud backend temporarily unavailable")
	default:
		return faults.Provider(op, err, "cloud backend error")
	}
}
