// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small file and string helpers shared by the
// configuration layer, the audit log and the CLI.
//
//   - AtomicWriteFile: crash-safe file replacement (temp file + fsync + rename)
//   - ExpandHome: "~" expansion for configured paths
//   - TruncateRunes / RuneLen: rune-aware string helpers
//   - EstimateTokens: rough token count for audit records
package util
