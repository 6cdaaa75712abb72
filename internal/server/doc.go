// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the gateway over a small JSON HTTP API so a host
// application on the same machine can call it without linking Go code.
//
// Endpoints:
//   - POST /v1/invoke    - one gateway call (operation, prompts, identity)
//   - POST /v1/pii       - local-only PII extraction
//   - GET  /v1/status    - warmup state and provider selection
//   - POST /v1/provider  - switch the provider for general operations
//   - GET  /health       - liveness
//   - GET  /metrics      - Prometheus metrics, when a handler is given
//
// Every route sits behind recovery, security headers, request logging and
// a per-client rate limit. A bearer token is required whenever one is
// configured, and the server refuses a non-loopback address without one.
package server
