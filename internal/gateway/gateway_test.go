// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/noteguard/internal/anonymize"
	"github.com/jeranaias/noteguard/internal/audit"
	"github.com/jeranaias/noteguard/internal/faults"
	"github.com/jeranaias/noteguard/internal/offline"
	"github.com/jeranaias/noteguard/internal/provider"
	"github.com/jeranaias/noteguard/internal/router"
	"github.com/jeranaias/noteguard/internal/telemetry"
	"github.com/jeranaias/noteguard/internal/warmup"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// fakeProvider records every request it receives.
type fakeProvider struct {
	desc provider.Descriptor

	mu       sync.Mutex
	requests []provider.Request
	// reply builds the answer; nil echoes the user prompt.
	reply func(provider.Request) (provider.Response, error)

	pingErr atomic.Pointer[error]
	pings   atomic.Int32
	// gate, when set, holds Ping until closed or cancelled.
	gate chan struct{}
	// hang makes Complete wait for its context, signalling started first.
	hang    bool
	started chan struct{}
}

func newLocal(model string) *fakeProvider {
	return &fakeProvider{desc: provider.Descriptor{Kind: provider.KindLocal, Model: model, Endpoint: "http://127.0.0.1:11434", Configured: true}}
}

func newCloud(model string, configured bool) *fakeProvider {
	f := &fakeProvider{desc: provider.Descriptor{Kind: provider.KindCloud, Model: model, Endpoint: "https://openrouter.ai/api/v1", Configured: configured}}
	if !configured {
		f.setPingErr(faults.Configuration("cloud.ping", "no cloud API key configured"))
	}
	return f
}

func (f *fakeProvider) setPingErr(err error) {
	if err == nil {
		f.pingErr.Store(nil)
		return
	}
	f.pingErr.Store(&err)
}

func (f *fakeProvider) Descriptor() provider.Descriptor { return f.desc }

func (f *fakeProvider) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	reply := f.reply
	f.mu.Unlock()

	if f.hang {
		if f.started != nil {
			f.started <- struct{}{}
		}
		<-ctx.Done()
		return provider.Response{}, ctx.Err()
	}
	if reply != nil {
		return reply(req)
	}
	return provider.Response{Text: "Résumé: " + req.User, TokensUsed: 7, Model: f.desc.Model}, nil
}

func (f *fakeProvider) Ping(ctx context.Context) error {
	f.pings.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return faults.Connectivity("fake.ping", ctx.Err(), "cancelled")
		}
	}
	if p := f.pingErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (f *fakeProvider) Warm(context.Context) error { return nil }

func (f *fakeProvider) calls() []provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Request(nil), f.requests...)
}

// memSink collects audit entries.
type memSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memSink) Name() string { return "mem" }

func (m *memSink) Write(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memSink) Close() error { return nil }

func (m *memSink) snapshot() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.entries...)
}

type harness struct {
	gw      *Gateway
	local   *fakeProvider
	cloud   *fakeProvider
	sink    *memSink
	metrics *telemetry.Metrics
}

func (h *harness) waitAudit(t *testing.T, n int) []audit.Entry {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.sink.snapshot()) >= n }, 2*time.Second, 5*time.Millisecond)
	return h.sink.snapshot()
}

func (h *harness) waitState(t *testing.T, want warmup.State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.gw.State().State == want },
		2*time.Second, 5*time.Millisecond, "state %v, want %v", h.gw.State().State, want)
}

func fastWarmup() warmup.Config {
	return warmup.Config{
		CheckTimeout:       time.Second,
		WarmTimeout:        time.Second,
		RecheckMaxAttempts: 1,
		RecheckInitial:     time.Millisecond,
		RecheckMax:         2 * time.Millisecond,
	}
}

func newHarness(t *testing.T, local, cloud *fakeProvider, preferred provider.Kind, pol Policy) *harness {
	t.Helper()
	sink := &memSink{}
	logger := audit.New(audit.Options{}, sink)
	metrics := telemetry.NewMetrics()

	opts := Options{
		Local:     local,
		Preferred: preferred,
		NewCloud: func(model string) provider.Provider {
			if cloud == nil {
				return nil
			}
			return newCloud(model, cloud.desc.Configured)
		},
		Policy:  pol,
		Warmup:  fastWarmup(),
		Audit:   logger,
		Metrics: metrics,
	}
	if cloud != nil {
		opts.Cloud = cloud
	}

	gw, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		gw.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = logger.Close(ctx)
	})
	return &harness{gw: gw, local: local, cloud: cloud, sink: sink, metrics: metrics}
}

func lea() *anonymize.Identity {
	return &anonymize.Identity{GivenName: "Léa", FamilyName: "Martin", Gender: anonymize.GenderFemale}
}

// =============================================================================
// SENSITIVITY POLICY
// =============================================================================

func TestInvoke_SensitiveNeverReachesCloud(t *testing.T) {
	local, cloud := newLocal("llama3"), newCloud("openrouter/auto", true)
	h := newHarness(t, local, cloud, provider.KindCloud, Policy{})

	for _, op := range []router.Operation{router.OpNoteStructuring, router.OpPIIExtraction, router.OpDocumentAnalysis, router.Operation("unknown_op")} {
		for _, override := range []router.Override{router.OverrideNone, router.OverrideLocal} {
			res, err := h.gw.Invoke(context.Background(), Request{
				Operation:  op,
				Identity:   lea(),
				UserPrompt: "Léa Martin reste anxieuse.",
				Override:   override,
			})
			require.NoError(t, err, "op %s override %v", op, override)
			assert.Equal(t, provider.KindLocal, res.Provider.Kind)
		}
	}

	_, err := h.gw.Invoke(context.Background(), Request{Operation: router.OpNoteStructuring, UserPrompt: "x", Override: router.OverrideCloud})
	assert.True(t, faults.IsPolicyViolation(err), "cloud override error = %v", err)

	assert.Empty(t, cloud.calls(), "a sensitive operation reached the cloud")
	assert.Len(t, local.calls(), 8)

	entries := h.waitAudit(t, 9)
	last := entries[8]
	assert.False(t, last.Success)
	assert.Equal(t, "policy_violation", last.ErrorKind)

	n, err := testutil.GatherAndCount(h.metrics.Registry(), "noteguard_policy_violations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInvoke_GeneralUsesActiveProvider(t *testing.T) {
	local, cloud := newLocal("llama3"), newCloud("openrouter/auto", true)
	h := newHarness(t, local, cloud, provider.KindCloud, Policy{})

	res, err := h.gw.Invoke(context.Background(), Request{Operation: router.OpChat, UserPrompt: "Bonjour"})
	require.NoError(t, err)
	assert.Equal(t, provider.KindCloud, res.Provider.Kind)
	assert.Len(t, cloud.calls(), 1)
	assert.Empty(t, local.calls())
}

func TestInvoke_OfflineBlocksCloud(t *testing.T) {
	local, cloud := newLocal("llama3"), newCloud("openrouter/auto", true)
	h := newHarness(t, local, cloud, provider.KindCloud, Policy{Offline: true})

	res, err := h.gw.Invoke(context.Background(), Request{Operation: router.OpLetter, UserPrompt: "Lettre"})
	assert.True(t, faults.IsConfiguration(err))
	assert.True(t, errors.Is(err, offline.ErrCloudBlocked))
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, cloud.calls())
}

// =============================================================================
// ENVELOPE
// =============================================================================

func TestInvoke_EnvelopeHidesIdentity(t *testing.T) {
	local, cloud := newLocal("llama3"), newCloud("openrouter/auto", true)
	h := newHarness(t, local, cloud, provider.KindCloud, Policy{})

	res, err := h.gw.Invoke(context.Background(), Request{
		Operation:    router.OpDraftGeneration,
		Identity:     lea(),
		SystemPrompt: "Rédige un courrier.",
		UserPrompt:   "Léa Martin reste anxieuse. Léa revient lundi.",
	})
	require.NoError(t, err)
	assert.True(t, res.Anonymized)
	assert.Equal(t, "Résumé: Léa Martin reste anxieuse. Léa revient lundi.", res.Text)

	sent := cloud.calls()
	require.Len(t, sent, 1)
	lower := strings.ToLower(sent[0].User)
	assert.NotContains(t, lower, "martin")
	assert.NotContains(t, lower, "léa")

	entry := h.waitAudit(t, 1)[0]
	assert.Equal(t, sent[0].User, entry.AnonymizedUserPrompt, "audit must hold the transmitted prompt")
	assert.Equal(t, res.Text, entry.DeanonymizedResponse)
	assert.NotEmpty(t, entry.AnonymizationSession)
	assert.Equal(t, "cloud", entry.ProviderKind)
	assert.Equal(t, res.AuditID, entry.ID)
}

func TestInvoke_SystemPromptSharesThePseudonym(t *testing.T) {
	local, cloud := newLocal("llama3"), newCloud("openrouter/auto", true)
	h := newHarness(t, local, cloud, provider.KindCloud, Policy{})
	cloud.reply = func(req provider.Request) (provider.Response, error) {
		return provider.Response{Text: req.System + " " + req.User}, nil
	}

	res, err := h.gw.Invoke(context.Background(), Request{
		Operation:    router.OpLetter,
		Identity:     lea(),
		SystemPrompt: "Rédige une lettre pour Léa Martin. Mme MARTIN est suivie.",
		UserPrompt:   "Léa Martin présente une anxiété.",
	})
	require.NoError(t, err)

	sent := cloud.calls()
	require.Len(t, sent, 1)
	for _, text := range []string{sent[0].System, sent[0].User} {
		lower := strings.ToLower(text)
		assert.NotContains(t, lower, "martin")
		assert.NotContains(t, lower, "léa")
	}
	assert.Equal(t, "Rédige une lettre pour Léa Martin. Mme MARTIN est suivie. Léa Martin présente une anxiété.", res.Text)

	entry := h.waitAudit(t, 1)[0]
	assert.Equal(t, sent[0].System, entry.SystemPrompt, "audit must hold the transmitted system prompt")
	assert.NotContains(t, entry.SystemPrompt, "Martin")
}

func TestInvoke_SystemPromptOnlyIdentity(t *testing.T) {
	local, cloud := newLocal("llama3"), newCloud("openrouter/auto", true)
	h := newHarness(t, local, cloud, provider.KindCloud, Policy{})

	_, err := h.gw.Invoke(context.Background(), Request{
		Operation:    router.OpLetter,
		Identity:     lea(),
		SystemPrompt: "Le patient s'appelle Léa Martin.",
		UserPrompt:   "Rédige un courrier de suivi.",
	})
	require.NoError(t, err)

	sent := cloud.calls()
	require.Len(t, sent, 1)
	assert.NotContains(t, sent[0].System, "Léa")
	assert.NotContains(t, sent[0].System, "Martin")
	assert.Equal(t, "Rédige un courrier de suivi.", sent[0].User)
}

func TestInvoke_WithoutIdentityPassesThrough(t *testing.T) {
	local := newLocal("llama3")
	h := newHarness(t, local, nil, provider.KindLocal, Policy{})

	res, err := h.gw.Invoke(context.Background(), Request{Operation: router.OpChat, UserPrompt: "Bonjour"})
	require.NoError(t, err)
	assert.False(t, res.Anonymized)
	assert.Equal(t, "Résumé: Bonjour", res.Text)
}

func TestInvoke_BirthDateIsMasked(t *testing.T) {
	local := newLocal("llama3")
	h := newHarness(t, local, nil, provider.KindLocal, Policy{})

	born := time.Date(1985, 3, 7, 0, 0, 0, 0, time.UTC)
	res, err := h.gw.Invoke(context.Background(), Request{
		Operation:  router.OpDocumentAnalysis,
		Identity:   lea(),
		UserPrompt: "Léa Martin, née le 07/03/1985.",
		BirthDate:  &born,
	})
	require.NoError(t, err)

	sent := local.calls()[0].User
	assert.NotContains(t, sent, "07/03/1985")
	assert.Contains(t, sent, "[BIRTHDATE-1]")
	assert.Equal(t, "Résumé: Léa Martin, née le 07/03/1985.", res.Text)
}

// =============================================================================
// FAILURES
// =============================================================================

func TestInvoke_UnreachableIsAuditedFailure(t *testing.T) {
	local := newLocal("llama3")
	local.reply = func(provider.Request) (provider.Response, error) {
		return provider.Response{}, faults.Connectivity("local.complete", errors.New("connection refused"), "local backend unreachable")
	}
	h := newHarness(t, local, nil, provider.KindLocal, Policy{})

	res, err := h.gw.Invoke(context.Background(), Request{Operation: router.OpNoteStructuring, Identity: lea(), UserPrompt: "Léa Martin"})
	assert.True(t, faults.IsConnectivity(err))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unreachable")

	entry := h.waitAudit(t, 1)[0]
	assert.False(t, entry.Success)
	assert.Equal(t, "connectivity", entry.ErrorKind)
	assert.NotContains(t, entry.AnonymizedUserPrompt, "Martin")
}

func TestInvoke_LiveFailureReportsToSupervisor(t *testing.T) {
	local := newLocal("llama3")
	h := newHarness(t, local, nil, provider.KindLocal, Policy{})
	h.gw.Start()
	h.waitState(t, warmup.StateReady)

	local.reply = func(provider.Request) (provider.Response, error) {
		return provider.Response{}, faults.Connectivity("local.complete", context.DeadlineExceeded, "timed out")
	}
	local.setPingErr(faults.Connectivity("local.ping", errors.New("refused"), "down"))

	_, err := h.gw.Invoke(context.Background(), Request{Operation: router.OpChat, UserPrompt: "x"})
	require.Error(t, err)
	h.waitState(t, warmup.StateDegraded)
}

func TestWarmup_SupervisesLocalWhenCloudPreferred(t *testing.T) {
	local, cloud := newLocal("llama3"), newCloud("openrouter/auto", true)
	h := newHarness(t, local, cloud, provider.KindCloud, Policy{})
	assert.Same(t, local, h.gw.supervisor.Target())

	h.gw.Start()
	h.waitState(t, warmup.StateReady)
	require.Positive(t, local.pings.Load())

	// A failing cloud call says nothing about the local backend.
	cloud.reply = func(provider.Request) (provider.Response, error) {
		return provider.Response{}, faults.Connectivity("cloud.complete", errors.New("reset"), "cloud unreachable")
	}
	_, err := h.gw.Invoke(context.Background(), Request{Operation: router.OpChat, UserPrompt: "x"})
	require.Error(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, warmup.StateReady, h.gw.State().State)

	local.reply = func(provider.Request) (provider.Response, error) {
		return provider.Response{}, faults.Connectivity("local.complete", errors.New("refused"), "down")
	}
	local.setPingErr(faults.Connectivity("local.ping", errors.New("refused"), "down"))

	_, err = h.gw.Invoke(context.Background(), Request{Operation: router.OpNoteStructuring, UserPrompt: "note"})
	require.Error(t, err)
	h.waitState(t, warmup.StateDegraded)
	assert.Zero(t, cloud.pings.Load(), "the cloud provider must never be pinged by warmup")
}

func TestSwitchProvider_ToLocalResetsWarmup(t *testing.T) {
	local, cloud := newLocal("llama3"), newCloud("openrouter/auto", true)
	h := newHarness(t, local, cloud, provider.KindCloud, Policy{})

	_, err := h.gw.SwitchProvider(context.Background(), provider.KindLocal, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h.gw.supervisor.Generation())
	h.waitState(t, warmup.StateReady)
}

// =============================================================================
// CANCELLATION AND TIMEOUTS
// =============================================================================

func TestInvoke_CallerCancelAbortsCall(t *testing.T) {
	local := newLocal("llama3")
	h := newHarness(t, local, nil, provider.KindLocal, Policy{})
	h.gw.Start()
	h.waitState(t, warmup.StateReady)
	pings := local.pings.Load()

	local.hang = true
	local.started = make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := h.gw.Invoke(ctx, Request{Operation: router.OpNoteStructuring, UserPrompt: "note"})
		errc <- err
	}()

	<-local.started
	cancel()

	var err error
	select {
	case err = <-errc:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled Invoke did not return")
	}
	assert.True(t, faults.IsConnectivity(err), "error = %v", err)
	assert.True(t, errors.Is(err, context.Canceled))

	entry := h.waitAudit(t, 1)[0]
	assert.False(t, entry.Success)
	assert.Equal(t, "connectivity", entry.ErrorKind)

	// A caller cancel is not a backend failure.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, warmup.StateReady, h.gw.State().State)
	assert.Equal(t, pings, local.pings.Load(), "no re-check may follow a caller cancel")
}

func TestInvoke_CallerCancelLeavesWarmupRunning(t *testing.T) {
	local := newLocal("llama3")
	local.gate = make(chan struct{})
	local.hang = true
	local.started = make(chan struct{}, 1)
	h := newHarness(t, local, nil, provider.KindLocal, Policy{})

	h.gw.Start()
	h.waitState(t, warmup.StateChecking)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := h.gw.Invoke(ctx, Request{Operation: router.OpChat, UserPrompt: "x"})
		errc <- err
	}()
	<-local.started
	cancel()
	assert.True(t, faults.IsConnectivity(<-errc))

	close(local.gate)
	h.waitState(t, warmup.StateReady)
}

func TestInvoke_TimeoutIsConnectivity(t *testing.T) {
	local := newLocal("llama3")
	local.hang = true
	h := newHarness(t, local, nil, provider.KindLocal, Policy{CallTimeout: 20 * time.Millisecond})

	start := time.Now()
	res, err := h.gw.Invoke(context.Background(), Request{Operation: router.OpNoteStructuring, Identity: lea(), UserPrompt: "Léa Martin"})
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, faults.IsConnectivity(err), "error = %v", err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, res.Success)

	entry := h.waitAudit(t, 1)[0]
	assert.False(t, entry.Success)
	assert.Equal(t, "connectivity", entry.ErrorKind)
	assert.NotContains(t, entry.AnonymizedUserPrompt, "Martin")
}

func TestInvoke_OversizePromptIsRejected(t *testing.T) {
	local := newLocal("llama3")
	h := newHarness(t, local, nil, provider.KindLocal, Policy{})

	_, err := h.gw.Invoke(context.Background(), Request{Operation: router.OpChat, UserPrompt: strings.Repeat("a", router.MaxPromptLength+1)})
	assert.True(t, faults.IsConfiguration(err))
	assert.Empty(t, local.calls())
}

// =============================================================================
// LAZY WARM
// =============================================================================

func TestInvoke_LocalWhileCheckingIsLazy(t *testing.T) {
	local := newLocal("llama3")
	local.gate = make(chan struct{})
	h := newHarness(t, local, nil, provider.KindLocal, Policy{})
	defer close(local.gate)

	h.gw.Start()
	h.waitState(t, warmup.StateChecking)

	done := make(chan Result, 1)
	go func() {
		res, _ := h.gw.Invoke(context.Background(), Request{Operation: router.OpNoteStructuring, UserPrompt: "note"})
		done <- res
	}()

	select {
	case res := <-done:
		assert.True(t, res.Success)
	case <-time.After(time.Second):
		t.Fatal("Invoke waited for warmup")
	}
	assert.Equal(t, warmup.StateChecking, h.gw.State().State)
}

// =============================================================================
// SWITCH PROVIDER
// =============================================================================

func TestSwitchProvider_CloudWithoutCredentialKeepsPrevious(t *testing.T) {
	local, cloud := newLocal("llama3"), newCloud("openrouter/auto", false)
	h := newHarness(t, local, cloud, provider.KindLocal, Policy{})
	gen := h.gw.supervisor.Generation()

	msg, err := h.gw.SwitchProvider(context.Background(), provider.KindCloud, "model-x")
	assert.True(t, faults.IsConfiguration(err), "error = %v", err)
	assert.NotEmpty(t, msg)

	assert.Equal(t, provider.KindLocal, h.gw.Active().Kind)
	assert.Equal(t, "llama3", h.gw.Active().Model)
	assert.Equal(t, gen, h.gw.supervisor.Generation(), "a rejected switch must not reset warmup")
}

func TestSwitchProvider_ToCloud(t *testing.T) {
	local, cloud := newLocal("llama3"), newCloud("openrouter/auto", true)
	h := newHarness(t, local, cloud, provider.KindLocal, Policy{})

	msg, err := h.gw.SwitchProvider(context.Background(), provider.KindCloud, "mistralai/mistral-small")
	require.NoError(t, err)
	assert.Contains(t, msg, "mistralai/mistral-small")

	assert.Equal(t, provider.KindCloud, h.gw.Active().Kind)
	assert.Equal(t, "mistralai/mistral-small", h.gw.Active().Model)
	assert.Equal(t, provider.KindCloud, h.gw.Preferred())
	assert.Equal(t, uint64(0), h.gw.supervisor.Generation(), "a cloud switch must not reset local warmup")
	assert.Same(t, local, h.gw.supervisor.Target())

	// Sensitive work still stays local after the switch.
	res, err := h.gw.Invoke(context.Background(), Request{Operation: router.OpPIIExtraction, UserPrompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, provider.KindLocal, res.Provider.Kind)
}

func TestSwitchProvider_OfflineRefusesCloud(t *testing.T) {
	local, cloud := newLocal("llama3"), newCloud("openrouter/auto", true)
	h := newHarness(t, local, cloud, provider.KindLocal, Policy{Offline: true})

	_, err := h.gw.SwitchProvider(context.Background(), provider.KindCloud, "")
	assert.True(t, errors.Is(err, offline.ErrCloudBlocked))
	assert.Equal(t, provider.KindLocal, h.gw.Active().Kind)
}

func TestSwitchProvider_UnreachableLocalKeepsPrevious(t *testing.T) {
	local, cloud := newLocal("llama3"), newCloud("openrouter/auto", true)
	h := newHarness(t, local, cloud, provider.KindCloud, Policy{})
	local.setPingErr(faults.Connectivity("local.ping", errors.New("refused"), "down"))

	_, err := h.gw.SwitchProvider(context.Background(), provider.KindLocal, "")
	assert.True(t, faults.IsConnectivity(err))
	assert.Equal(t, provider.KindCloud, h.gw.Active().Kind)
}

// =============================================================================
// FALLBACK
// =============================================================================

func TestFallbackToCloudAndRestore(t *testing.T) {
	local, cloud := newLocal("llama3"), newCloud("openrouter/auto", true)
	local.setPingErr(faults.Connectivity("local.ping", errors.New("refused"), "ollama not running"))
	h := newHarness(t, local, cloud, provider.KindLocal, Policy{FallbackToCloud: true})

	h.gw.Start()
	require.Eventually(t, h.gw.FallbackActive, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, provider.KindCloud, h.gw.Active().Kind)
	assert.Equal(t, provider.KindLocal, h.gw.Preferred())

	// Sensitive operations never follow the fallback.
	res, err := h.gw.Invoke(context.Background(), Request{Operation: router.OpNoteStructuring, UserPrompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, provider.KindLocal, res.Provider.Kind)

	local.setPingErr(nil)
	h.gw.Trigger()
	require.Eventually(t, func() bool { return !h.gw.FallbackActive() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, provider.KindLocal, h.gw.Active().Kind)
}

func TestFallbackDisabledStaysLocal(t *testing.T) {
	local, cloud := newLocal("llama3"), newCloud("openrouter/auto", true)
	local.setPingErr(faults.Connectivity("local.ping", errors.New("refused"), "ollama not running"))
	h := newHarness(t, local, cloud, provider.KindLocal, Policy{})

	<-h.gw.Trigger()
	h.waitState(t, warmup.StateError)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, h.gw.FallbackActive())
	assert.Equal(t, provider.KindLocal, h.gw.Active().Kind)
}

// =============================================================================
// COLLABORATOR SURFACE
// =============================================================================

func TestExtractPII_UsesLocalBackend(t *testing.T) {
	local, cloud := newLocal("llama3"), newCloud("openrouter/auto", true)
	local.reply = func(provider.Request) (provider.Response, error) {
		return provider.Response{Text: `{"names": ["Léa Martin"], "dates": [], "places": ["Lyon"], "organizations": []}`}, nil
	}
	h := newHarness(t, local, cloud, provider.KindCloud, Policy{})

	got := h.gw.ExtractPII(context.Background(), "Léa Martin habite à Lyon.")
	assert.False(t, got.Degraded)
	assert.Equal(t, []string{"Léa Martin"}, got.Names)
	assert.Equal(t, []string{"Lyon"}, got.Places)
	assert.Empty(t, cloud.calls())
}

func TestSubscribeReceivesCurrentState(t *testing.T) {
	h := newHarness(t, newLocal("llama3"), nil, provider.KindLocal, Policy{})

	var mu sync.Mutex
	var states []warmup.State
	unsubscribe := h.gw.Subscribe(func(ev warmup.Event) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, ev.State)
	})
	defer unsubscribe()

	h.gw.Start()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) > 0 && states[len(states)-1] == warmup.StateReady
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, warmup.StateUninitialized, states[0])
}

func TestNew_RequiresLocal(t *testing.T) {
	_, err := New(Options{})
	assert.True(t, faults.IsConfiguration(err))

	_, err = New(Options{Local: newCloud("m", true)})
	assert.True(t, faults.IsConfiguration(err))

	_, err = New(Options{Local: newLocal("m"), Preferred: provider.KindCloud})
	assert.True(t, faults.IsConfiguration(err))
}
