// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router applies the sensitivity policy that decides which
// inference provider may serve a request.
//
// # Key Types
//
//   - Operation: caller-facing task (note structuring, chat, letter, ...)
//   - Class: General or Sensitive, derived from the operation by ClassOf
//   - Selection: snapshot of the active, local and cloud providers
//   - Decision: the chosen provider and the reason
//
// # Security
//
// Classification is always the first check. Sensitive operations resolve
// to the local provider only; a cloud override, a cloud-kind provider in
// the local slot or a non-loopback local endpoint fails closed with a
// policy violation instead of being silently replaced. Offline mode blocks
// cloud providers for every class.
//
// # Usage
//
//	d, err := router.Resolve(router.ClassOf(router.OpLetter), sel, router.OverrideNone)
//	if err != nil {
//	    return err
//	}
//	resp, err := d.Provider.Complete(ctx, req)
package router
