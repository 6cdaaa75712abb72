// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeranaias/noteguard/internal/warmup"
)

// Invocation outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeRefused = "refused"
)

// =============================================================================
// METRICS
// =============================================================================

// Metrics holds the gateway's Prometheus collectors. All methods are safe
// on a nil *Metrics and do nothing.
type Metrics struct {
	invocations      *prometheus.CounterVec
	latency          *prometheus.HistogramVec
	tokens           *prometheus.CounterVec
	policyViolations *prometheus.CounterVec
	providerSwitches *prometheus.CounterVec
	warmupState      *prometheus.GaugeVec
	auditDropped     prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noteguard_invocations_total",
				Help: "Model invocations by sensitivity class, provider kind and outcome",
			},
			[]string{"class", "provider", "outcome"},
		),

		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "noteguard_invocation_duration_seconds",
				Help:    "Provider call latency in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"class", "provider"},
		),

		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noteguard_tokens_total",
				Help: "Tokens reported by providers",
			},
			[]string{"provider"},
		),

		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noteguard_policy_violations_total",
				Help: "Requests refused by the routing policy",
			},
			[]string{"class"},
		),

		providerSwitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noteguard_provider_switches_total",
				Help: "Active provider changes by target kind and cause",
			},
			[]string{"provider", "cause"},
		),

		warmupState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "noteguard_warmup_state",
				Help: "Current warmup state of the local backend (1 for the current state)",
			},
			[]string{"state"},
		),

		auditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "noteguard_audit_dropped_total",
				Help: "Audit entries dropped because the queue was full or closed",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.invocations,
		m.latency,
		m.tokens,
		m.policyViolations,
		m.providerSwitches,
		m.warmupState,
		m.auditDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.SetWarmupState(warmup.StateUninitialized)
	return m
}

// RecordInvocation counts one Invoke and observes its provider latency.
// provider is empty when the request was refused before routing finished.
func (m *Metrics) RecordInvocation(class, provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	if provider == "" {
		provider = "none"
	}
	m.invocations.WithLabelValues(class, provider, outcome).Inc()
	if outcome != OutcomeRefused {
		m.latency.WithLabelValues(class, provider).Observe(d.Seconds())
	}
}

// RecordTokens adds provider-reported token usage.
func (m *Metrics) RecordTokens(provider string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokens.WithLabelValues(provider).Add(float64(n))
}

// RecordPolicyViolation counts a refused request.
func (m *Metrics) RecordPolicyViolation(class string) {
	if m == nil {
		return
	}
	m.policyViolations.WithLabelValues(class).Inc()
}

// RecordProviderSwitch counts a change of active provider. cause is
// "user", "fallback" or "restore".
func (m *Metrics) RecordProviderSwitch(provider, cause string) {
	if m == nil {
		return
	}
	m.providerSwitches.WithLabelValues(provider, cause).Inc()
}

// RecordAuditDrop counts one dropped audit entry.
func (m *Metrics) RecordAuditDrop() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}

// SetWarmupState marks s as the current warmup state.
func (m *Metrics) SetWarmupState(s warmup.State) {
	if m == nil {
		return
	}
	for st := warmup.StateUninitialized; st <= warmup.StateError; st++ {
		v := 0.0
		if st == s {
			v = 1
		}
		m.warmupState.WithLabelValues(st.String()).Set(v)
	}
}

// ObserveWarmup is a warmup subscriber that mirrors state into the gauge.
func (m *Metrics) ObserveWarmup(ev warmup.Event) {
	m.SetWarmupState(ev.State)
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// =============================================================================
// ENDPOINT
// =============================================================================

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
