// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/noteguard/internal/anonymize"
	"github.com/jeranaias/noteguard/internal/audit"
	"github.com/jeranaias/noteguard/internal/config"
	"github.com/jeranaias/noteguard/internal/faults"
	"github.com/jeranaias/noteguard/internal/provider"
	"github.com/jeranaias/noteguard/internal/router"
	"github.com/jeranaias/noteguard/internal/telemetry"
	"github.com/jeranaias/noteguard/internal/warmup"
)

// DefaultCallTimeout bounds a provider call when the policy sets none.
const DefaultCallTimeout = 120 * time.Second

// =============================================================================
// POLICY
// =============================================================================

// Policy is the hot-reloadable part of the routing configuration.
type Policy struct {
	Offline          bool
	FallbackToCloud  bool
	AllowRemoteLocal bool
	CallTimeout      time.Duration
}

// PolicyFromConfig extracts the routing policy from cfg.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		Offline:          cfg.Routing.OfflineMode,
		FallbackToCloud:  cfg.Routing.FallbackToCloud,
		AllowRemoteLocal: cfg.Local.AllowRemoteEndpoint,
		CallTimeout:      cfg.CallTimeout(),
	}
}

// =============================================================================
// SELECTION
// =============================================================================

// selection is an immutable snapshot of the configured providers. It is
// replaced as a whole, never mutated.
type selection struct {
	active provider.Provider
	local  provider.Provider
	cloud  provider.Provider
	// preferred is the kind the user selected; active differs from it only
	// while fallback is set.
	preferred provider.Kind
	fallback  bool
}

// Options configures a Gateway.
type Options struct {
	// Local is the on-device provider. Required.
	Local provider.Provider
	// Cloud is the third-party provider. Nil disables cloud use.
	Cloud provider.Provider
	// Preferred selects the initial active provider for general operations.
	Preferred provider.Kind

	// NewLocal and NewCloud build a provider for another model on
	// SwitchProvider. Nil reuses the current provider when the model is
	// unchanged and refuses otherwise.
	NewLocal func(model string) provider.Provider
	NewCloud func(model string) provider.Provider

	Policy Policy
	Warmup warmup.Config

	// Audit receives one entry per Invoke. Nil disables auditing.
	Audit   *audit.Logger
	Metrics *telemetry.Metrics
	// Rand overrides the pseudonym randomness source, for tests.
	Rand   io.Reader
	Logger *log.Logger
}

// Gateway is the single entry point for model calls. It applies the
// sensitivity policy, wraps calls in the anonymization envelope, and audits
// every call. It is safe for concurrent use.
type Gateway struct {
	sel    atomic.Pointer[selection]
	policy atomic.Pointer[Policy]
	// mu serializes writers of sel.
	mu sync.Mutex

	newLocal func(string) provider.Provider
	newCloud func(string) provider.Provider

	engine     *anonymize.Engine
	supervisor *warmup.Supervisor
	audit      *audit.Logger
	metrics    *telemetry.Metrics
	logger     *log.Logger

	unsubscribeMetrics func()
	closeOnce          sync.Once
}

// New creates a gateway. The warmup supervisor is created but not started;
// call Start.
func New(opts Options) (*Gateway, error) {
	if opts.Local == nil {
		return nil, faults.Configuration("gateway.new", "a local provider is required")
	}
	if opts.Local.Descriptor().Kind != provider.KindLocal {
		return nil, faults.Configuration("gateway.new", "local slot holds a %s provider", opts.Local.Descriptor().Kind)
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}

	g := &Gateway{
		newLocal: opts.NewLocal,
		newCloud: opts.NewCloud,
		audit:    opts.Audit,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With("component", "gateway"),
	}
	g.SetPolicy(opts.Policy)

	sel := &selection{local: opts.Local, cloud: opts.Cloud, preferred: provider.KindLocal, active: opts.Local}
	if opts.Preferred == provider.KindCloud {
		if opts.Cloud == nil {
			return nil, faults.Configuration("gateway.new", "cloud selected but no cloud provider configured")
		}
		sel.preferred, sel.active = provider.KindCloud, opts.Cloud
	}
	g.sel.Store(sel)

	g.engine = anonymize.NewEngine(anonymize.Options{
		Resolver: g.resolveLocal,
		Rand:     opts.Rand,
		Logger:   opts.Logger,
	})

	if opts.Warmup.Logger == nil {
		opts.Warmup.Logger = opts.Logger
	}
	// Sensitive work always runs locally, so the local backend is the one
	// kept warm whatever serves general operations.
	g.supervisor = warmup.New(sel.local, opts.Warmup)
	g.supervisor.OnUnreachable(g.fallbackToCloud)
	g.supervisor.OnReady(g.restoreLocal)
	if g.metrics != nil {
		g.unsubscribeMetrics = g.supervisor.Subscribe(g.metrics.ObserveWarmup)
	}

	return g, nil
}

// Start triggers the first warmup cycle without waiting for it.
func (g *Gateway) Start() {
	g.supervisor.Start()
}

// Close stops the warmup supervisor. The audit logger belongs to the
// caller and is left open.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() {
		if g.unsubscribeMetrics != nil {
			g.unsubscribeMetrics()
		}
		g.supervisor.Close()
	})
}

// SetPolicy replaces the routing policy. In-flight calls keep the policy
// they started with.
func (g *Gateway) SetPolicy(p Policy) {
	if p.CallTimeout <= 0 {
		p.CallTimeout = DefaultCallTimeout
	}
	g.policy.Store(&p)
}

// ApplyConfig applies the hot-reloadable parts of cfg.
func (g *Gateway) ApplyConfig(cfg *config.Config) {
	g.SetPolicy(PolicyFromConfig(cfg))
	g.logger.Info("routing policy updated",
		"offline", cfg.Routing.OfflineMode,
		"fallback_to_cloud", cfg.Routing.FallbackToCloud,
		"allow_remote_local", cfg.Local.AllowRemoteEndpoint)
}

func (g *Gateway) currentPolicy() Policy {
	return *g.policy.Load()
}

func (g *Gateway) routerSelection() router.Selection {
	sel := g.sel.Load()
	pol := g.currentPolicy()
	return router.Selection{
		Active:           sel.active,
		Local:            sel.local,
		Cloud:            sel.cloud,
		Offline:          pol.Offline,
		AllowRemoteLocal: pol.AllowRemoteLocal,
	}
}

// resolveLocal is the anonymization engine's extractor resolver. It applies
// the sensitive-class checks so extraction can never reach a cloud backend.
func (g *Gateway) resolveLocal(context.Context) (provider.Provider, error) {
	d, err := router.Resolve(router.ClassSensitive, g.routerSelection(), router.OverrideNone)
	if err != nil {
		return nil, err
	}
	return d.Provider, nil
}

// =============================================================================
// COLLABORATOR SURFACE
// =============================================================================

// ExtractPII lists identifying values in text using the local backend only.
func (g *Gateway) ExtractPII(ctx context.Context, text string) anonymize.PIIResult {
	return g.engine.ExtractPII(ctx, text)
}

// Engine returns the anonymization engine used by Invoke.
func (g *Gateway) Engine() *anonymize.Engine {
	return g.engine
}

// Subscribe delivers warmup events in order, starting with the current
// state. The returned function stops delivery.
func (g *Gateway) Subscribe(fn func(warmup.Event)) (unsubscribe func()) {
	return g.supervisor.Subscribe(fn)
}

// Trigger starts a warmup cycle for the local backend, joining one in
// flight.
func (g *Gateway) Trigger() <-chan struct{} {
	return g.supervisor.Trigger()
}

// Active describes the provider serving general operations.
func (g *Gateway) Active() provider.Descriptor {
	return g.sel.Load().active.Descriptor()
}

// Preferred returns the provider kind the user selected.
func (g *Gateway) Preferred() provider.Kind {
	return g.sel.Load().preferred
}

// FallbackActive reports whether general traffic is on the cloud because
// the local backend is unreachable.
func (g *Gateway) FallbackActive() bool {
	return g.sel.Load().fallback
}

// State returns the last warmup event.
func (g *Gateway) State() warmup.Event {
	return g.supervisor.State()
}
