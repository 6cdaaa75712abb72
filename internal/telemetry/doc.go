// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry exposes Prometheus metrics for the gateway.
//
// # Collectors
//
//   - noteguard_invocations_total{class,provider,outcome}
//   - noteguard_invocation_duration_seconds{class,provider}
//   - noteguard_tokens_total{provider}
//   - noteguard_policy_violations_total{class}
//   - noteguard_provider_switches_total{provider,cause}
//   - noteguard_warmup_state{state}
//   - noteguard_audit_dropped_total
//
// # Usage
//
//	m := telemetry.NewMetrics()
//	go m.Serve(ctx, "127.0.0.1:9464")
//	supervisor.Subscribe(m.ObserveWarmup)
//
// # Privacy
//
// Labels carry only classes, provider kinds and states. Prompt text,
// identities and models never become label values.
package telemetry
