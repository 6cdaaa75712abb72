// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway is the single entry point for model calls.
//
// Every call goes through Invoke, which:
//
//  1. classifies the operation (sensitive or general),
//  2. resolves the provider with router.Resolve,
//  3. replaces the patient identity with a pseudonym,
//  4. calls the provider with a bounded timeout,
//  5. restores the identity in the reply,
//  6. queues an audit entry holding the transmitted prompt.
//
// Sensitive operations only ever reach the local backend. General
// operations use the provider chosen with SwitchProvider, or the cloud
// while the local backend is unreachable when fallback is enabled.
//
// The active provider is an immutable snapshot behind an atomic pointer.
// SwitchProvider and the warmup fallback/restore hooks are its only
// writers and are serialized; Invoke reads one snapshot per call and never
// waits for warmup.
package gateway
