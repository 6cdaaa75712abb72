// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the noteguard command line.
//
// # Commands
//
//   - ask: one gateway call (--op, --given, --family, --provider, ...)
//   - chat: interactive session with input history
//   - extract-pii: local-only PII extraction, printed as JSON
//   - anonymize: show the pseudonymized text and its mapping
//   - status: run a warmup cycle and print each transition
//   - switch: select the provider for general operations
//   - audit tail: recent audit entries from the SQLite sink
//   - config show|get|set|keys|path
//   - serve: the gateway as a local JSON HTTP API
//
// Global flags: --config, --log-level, --metrics-addr, --json.
//
// Every command that calls a model builds the same stack through openApp:
// config, Ollama and cloud providers, audit sinks, Prometheus metrics and
// the gateway. Errors map to exit codes by fault kind.
package cli
