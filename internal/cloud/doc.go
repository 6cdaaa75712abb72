// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the OpenAI-compatible chat client used for cloud
// inference. OpenRouter is the default endpoint.
//
// Requests go through github.com/openai/openai-go and are paced by a
// token-bucket limiter. API errors are mapped onto package sentinels
// (ErrAuthFailed, ErrRateLimited, ...) so callers never depend on SDK types.
//
// # Usage
//
//	client := cloud.NewClient(cloud.Config{
//	    APIKey: os.Getenv("OPENROUTER_API_KEY"),
//	    Model:  "anthropic/claude-3.5-haiku",
//	}, logger)
//	out, err := client.Chat(ctx, "", system, user, 512)
//
// # Security
//
// API keys are never logged; KeyFingerprint gives a stable short identifier
// instead. Only prompt lengths are logged, never prompt text.
package cloud
