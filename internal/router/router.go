// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"

	"github.com/jeranaias/noteguard/internal/faults"
	"github.com/jeranaias/noteguard/internal/offline"
	"github.com/jeranaias/noteguard/internal/provider"
)

// MaxPromptLength is the maximum accepted prompt size in bytes (512KB).
const MaxPromptLength = 512 * 1024

// ValidatePrompt rejects prompts larger than MaxPromptLength.
func ValidatePrompt(system, user string) error {
	if n := len(system) + len(user); n > MaxPromptLength {
		return faults.Configuration("router.validate", "prompt too long: %d bytes (max %d)", n, MaxPromptLength)
	}
	return nil
}

// Resolve picks the provider for a request of the given class.
//
// Check order (do not reorder):
//  1. Class: sensitive requests only ever resolve to the local provider.
//     A cloud override, a local provider of cloud kind or a non-loopback
//     local endpoint is a policy violation; nothing is substituted.
//  2. Override: general requests honor an explicit local/cloud request.
//  3. Offline mode: cloud is blocked for every class.
func Resolve(class Class, sel Selection, override Override) (Decision, error) {
	const op = "router.resolve"

	if class.BlocksCloud() {
		if override == OverrideCloud {
			return refuse(class, cloudTarget(sel), faults.Policy(op, "%s operation cannot use a cloud provider", class))
		}
		return resolveLocal(class, sel)
	}

	target := sel.Active
	reason := "active provider"
	switch override {
	case OverrideLocal:
		target, reason = sel.Local, "local override"
	case OverrideCloud:
		target, reason = sel.Cloud, "cloud override"
	}
	if target == nil {
		return refuse(class, provider.Descriptor{}, faults.Configuration(op, "no provider configured for %s (%s)", class, reason))
	}

	d := target.Descriptor()
	if d.Kind == provider.KindCloud && sel.Offline {
		return refuse(class, d, &faults.Error{
			Kind:    faults.KindConfiguration,
			Op:      op,
			Message: "offline mode blocks cloud providers",
			Cause:   offline.ErrCloudBlocked,
		})
	}

	return Decision{Provider: target, Target: d, Class: class, Reason: reason}, nil
}

// resolveLocal applies the sensitive-class checks to the local provider.
func resolveLocal(class Class, sel Selection) (Decision, error) {
	const op = "router.resolve"

	if sel.Local == nil {
		return refuse(class, provider.Descriptor{}, faults.Configuration(op, "no local provider configured"))
	}
	d := sel.Local.Descriptor()
	if d.Kind != provider.KindLocal {
		return refuse(class, d, faults.Policy(op, "%s operation routed to a %s provider", class, d.Kind))
	}
	if err := offline.ValidateLocalEndpoint(d.Endpoint, sel.AllowRemoteLocal); err != nil {
		return refuse(class, d, &faults.Error{
			Kind:    faults.KindPolicyViolation,
			Op:      op,
			Message: fmt.Sprintf("local endpoint %q rejected", d.Endpoint),
			Cause:   err,
		})
	}

	return Decision{Provider: sel.Local, Target: d, Class: class, Reason: "sensitive operations stay local"}, nil
}

func refuse(class Class, target provider.Descriptor, err error) (Decision, error) {
	return Decision{Target: target, Class: class, Reason: err.Error()}, err
}

func cloudTarget(sel Selection) provider.Descriptor {
	if sel.Cloud != nil {
		return sel.Cloud.Descriptor()
	}
	return provider.Descriptor{Kind: provider.KindCloud}
}
