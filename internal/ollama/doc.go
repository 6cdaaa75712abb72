// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with the Ollama API.
//
// Only the non-streaming surface the gateway needs is implemented: the
// liveness handshake, model presence, chat completion (plain and JSON mode)
// and a one-token Preload that keeps the model resident via keep_alive.
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
//	    BaseURL:      "http://127.0.0.1:11434",
//	    DefaultModel: "llama3.1:8b",
//	    KeepAlive:    "30m",
//	})
//	if err := client.CheckRunning(ctx); err != nil {
//	    return err
//	}
//	resp, err := client.ChatWithOptions(ctx, "", []ollama.Message{
//	    ollama.NewSystemMessage(system),
//	    ollama.NewUserMessage(prompt),
//	}, &ollama.Options{NumPredict: 512})
//
// Errors are *ClientError values; use IsNotRunning, IsTimeout and
// IsModelNotFound to classify them.
package ollama
