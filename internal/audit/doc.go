// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit records every model invocation without slowing it down.
//
// Entries are queued by Logger.LogEntry and written by a background
// goroutine to one or more sinks: an append-only JSON lines file with
// size-based rotation and a SQLite table that the CLI reads back. Secrets
// (API keys, bearer tokens, JWTs) are redacted before anything is written.
//
// The persisted prompt is always the anonymized text that left the process.
package audit
