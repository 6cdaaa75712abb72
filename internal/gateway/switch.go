// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/jeranaias/noteguard/internal/faults"
	"github.com/jeranaias/noteguard/internal/offline"
	"github.com/jeranaias/noteguard/internal/provider"
	"github.com/jeranaias/noteguard/internal/warmup"
)

// switchCheckTimeout bounds the reachability check of SwitchProvider.
const switchCheckTimeout = 10 * time.Second

// fallbackCheckTimeout bounds the credential check before falling back.
const fallbackCheckTimeout = 2 * time.Second

// =============================================================================
// SWITCH PROVIDER
// =============================================================================

// SwitchProvider makes kind (with model, or the current model when empty)
// the active provider for general operations. The candidate is validated
// first: Ollama handshake and model presence for local, credential
// presence and offline mode for cloud. On any failure the previous
// provider stays active. A successful local switch invalidates an
// in-flight warmup and starts one for the new local backend; a cloud
// switch leaves local supervision alone.
func (g *Gateway) SwitchProvider(ctx context.Context, kind provider.Kind, model string) (string, error) {
	const op = "gateway.switch"

	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.sel.Load()
	pol := g.currentPolicy()

	candidate, err := g.candidate(cur, kind, model)
	if err != nil {
		g.metrics.RecordProviderSwitch(kind.String(), "rejected")
		return err.Error(), err
	}
	d := candidate.Descriptor()

	switch kind {
	case provider.KindCloud:
		if pol.Offline {
			err := &faults.Error{Kind: faults.KindConfiguration, Op: op, Message: "offline mode blocks cloud providers", Cause: offline.ErrCloudBlocked}
			g.metrics.RecordProviderSwitch(kind.String(), "rejected")
			return err.Error(), err
		}
	case provider.KindLocal:
		if err := offline.ValidateLocalEndpoint(d.Endpoint, pol.AllowRemoteLocal); err != nil {
			err := &faults.Error{Kind: faults.KindPolicyViolation, Op: op, Message: fmt.Sprintf("local endpoint %q rejected", d.Endpoint), Cause: err}
			g.metrics.RecordProviderSwitch(kind.String(), "rejected")
			return err.Error(), err
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, switchCheckTimeout)
	defer cancel()
	if err := candidate.Ping(checkCtx); err != nil {
		g.logger.Warn("provider switch rejected", "kind", kind, "model", d.Model, "err", err)
		g.metrics.RecordProviderSwitch(kind.String(), "rejected")
		return err.Error(), err
	}

	next := &selection{local: cur.local, cloud: cur.cloud, active: candidate, preferred: kind}
	if kind == provider.KindLocal {
		next.local = candidate
	} else {
		next.cloud = candidate
	}
	g.sel.Store(next)

	if kind == provider.KindLocal {
		g.supervisor.Reset(candidate)
		g.supervisor.Trigger()
	}

	g.metrics.RecordProviderSwitch(kind.String(), "user")
	g.logger.Info("provider switched", "kind", kind, "model", d.Model)
	return fmt.Sprintf("switched to %s (%s)", kind, d.Model), nil
}

// candidate builds the provider to switch to.
func (g *Gateway) candidate(cur *selection, kind provider.Kind, model string) (provider.Provider, error) {
	const op = "gateway.switch"

	var (
		existing provider.Provider
		build    func(string) provider.Provider
	)
	switch kind {
	case provider.KindLocal:
		existing, build = cur.local, g.newLocal
	case provider.KindCloud:
		existing, build = cur.cloud, g.newCloud
	default:
		return nil, faults.Configuration(op, "unknown provider kind %v", kind)
	}

	if existing != nil && (model == "" || model == existing.Descriptor().Model) {
		return existing, nil
	}
	if build == nil {
		if existing == nil {
			return nil, faults.Configuration(op, "no %s provider configured", kind)
		}
		return nil, faults.Configuration(op, "switching the %s model is not supported", kind)
	}

	p := build(model)
	if p == nil {
		return nil, faults.Configuration(op, "no %s provider configured", kind)
	}
	if got := p.Descriptor().Kind; got != kind {
		return nil, faults.Configuration(op, "%s factory built a %s provider", kind, got)
	}
	return p, nil
}

// =============================================================================
// FALLBACK AND RESTORE
// =============================================================================

// fallbackToCloud moves general traffic to the cloud when the preferred
// local backend is found unreachable. Sensitive operations are unaffected:
// they still go to the local backend and fail if it stays down.
func (g *Gateway) fallbackToCloud(ev warmup.Event) {
	pol := g.currentPolicy()
	if !pol.FallbackToCloud || pol.Offline {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.sel.Load()
	if cur.preferred != provider.KindLocal || cur.fallback || cur.cloud == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), fallbackCheckTimeout)
	defer cancel()
	if err := cur.cloud.Ping(ctx); err != nil {
		g.logger.Warn("local backend unreachable, cloud fallback unavailable", "err", err)
		return
	}

	next := *cur
	next.active = cur.cloud
	next.fallback = true
	g.sel.Store(&next)

	g.metrics.RecordProviderSwitch(provider.KindCloud.String(), "fallback")
	g.logger.Warn("local backend unreachable, general operations fall back to cloud",
		"reason", ev.Message, "model", cur.cloud.Descriptor().Model)
}

// restoreLocal returns general traffic to the local backend once a warmup
// cycle reaches Ready.
func (g *Gateway) restoreLocal(warmup.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.sel.Load()
	if !cur.fallback {
		return
	}

	next := *cur
	next.active = cur.local
	next.fallback = false
	g.sel.Store(&next)

	g.metrics.RecordProviderSwitch(provider.KindLocal.String(), "restore")
	g.logger.Info("local backend ready, general operations restored to local")
}
