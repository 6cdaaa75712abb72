// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/noteguard/internal/warmup"
)

func TestMetrics_RecordInvocation(t *testing.T) {
	m := NewMetrics()

	m.RecordInvocation("sensitive", "local", OutcomeSuccess, 200*time.Millisecond)
	m.RecordInvocation("sensitive", "local", OutcomeSuccess, time.Second)
	m.RecordInvocation("sensitive", "", OutcomeRefused, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.invocations.WithLabelValues("sensitive", "local", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invocations.WithLabelValues("sensitive", "none", OutcomeRefused)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.latency), "refusals are not timed")
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.RecordPolicyViolation("sensitive")
	m.RecordAuditDrop()
	m.RecordAuditDrop()
	m.RecordTokens("cloud", 120)
	m.RecordTokens("cloud", 0)
	m.RecordProviderSwitch("cloud", "fallback")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.policyViolations.WithLabelValues("sensitive")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.auditDropped))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.tokens.WithLabelValues("cloud")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerSwitches.WithLabelValues("cloud", "fallback")))
}

func TestMetrics_WarmupStateIsOneHot(t *testing.T) {
	m := NewMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.warmupState.WithLabelValues("uninitialized")))

	m.ObserveWarmup(warmup.Event{State: warmup.StateReady})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.warmupState.WithLabelValues("ready")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.warmupState.WithLabelValues("uninitialized")))
	assert.Equal(t, 6, testutil.CollectAndCount(m.warmupState))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordInvocation("general", "cloud", OutcomeFailure, time.Second)
		m.RecordPolicyViolation("sensitive")
		m.RecordAuditDrop()
		m.RecordTokens("local", 3)
		m.RecordProviderSwitch("local", "restore")
		m.ObserveWarmup(warmup.Event{State: warmup.StateError})
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordInvocation("general", "cloud", OutcomeSuccess, time.Second)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), `noteguard_invocations_total{class="general",outcome="success",provider="cloud"} 1`), string(body))
}
