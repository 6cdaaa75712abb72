// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/noteguard/internal/anonymize"
	"github.com/jeranaias/noteguard/internal/audit"
	"github.com/jeranaias/noteguard/internal/faults"
	"github.com/jeranaias/noteguard/internal/provider"
	"github.com/jeranaias/noteguard/internal/router"
	"github.com/jeranaias/noteguard/internal/telemetry"
	"github.com/jeranaias/noteguard/internal/util"
	"github.com/jeranaias/noteguard/internal/warmup"
)

// Request is one model call.
type Request struct {
	// Operation determines the sensitivity class. Unknown operations are
	// treated as sensitive.
	Operation router.Operation
	// Identity, when set, is replaced by a pseudonym before the call and
	// restored in the reply.
	Identity     *anonymize.Identity
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	// Override requests a specific provider. Sensitive operations refuse a
	// cloud override.
	Override router.Override

	// BirthDate and Untrusted switch the envelope to document mode: the
	// birth date is masked and untrusted text (OCR, scans) is screened by
	// local PII extraction first.
	BirthDate *time.Time
	Untrusted bool
}

// Class returns the sensitivity class of the request.
func (r Request) Class() router.Class {
	return router.ClassOf(r.Operation)
}

// Result is the outcome of Invoke. On failure Success is false, Error
// carries the message and Invoke also returns the typed error.
type Result struct {
	Success bool
	Text    string
	Error   string
	// Provider is the backend that was called, or would have been.
	Provider provider.Descriptor
	Class    router.Class
	// Anonymized reports whether any identity surface was substituted.
	Anonymized bool
	AuditID    uuid.UUID
	TokensUsed int
	Latency    time.Duration
}

// Invoke resolves the provider for req, applies the anonymization envelope
// when an identity is present, calls the provider and audits the call.
// It never waits for warmup: a local backend that is still warming is
// called directly.
func (g *Gateway) Invoke(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	class := req.Class()
	pol := g.currentPolicy()

	res := Result{Class: class, AuditID: uuid.New()}
	entry := audit.Entry{
		ID:        res.AuditID,
		Timestamp: start.UTC(),
		Module:    string(req.Operation),
		Class:     class.String(),
	}

	fail := func(err error) (Result, error) {
		res.Success = false
		res.Error = err.Error()
		res.Latency = time.Since(start)

		entry.ProviderKind, entry.ModelName = kindLabel(res.Provider), res.Provider.Model
		entry.Success = false
		entry.Error = err.Error()
		entry.ErrorKind = faults.KindOf(err).String()
		entry.LatencyMs = res.Latency.Milliseconds()
		g.audit.LogEntry(entry)

		outcome := telemetry.OutcomeFailure
		if faults.IsPolicyViolation(err) {
			outcome = telemetry.OutcomeRefused
			g.metrics.RecordPolicyViolation(class.String())
		}
		g.metrics.RecordInvocation(class.String(), kindLabel(res.Provider), outcome, res.Latency)

		g.logger.Warn("invoke failed",
			"op", req.Operation, "class", class, "provider", kindLabel(res.Provider),
			"kind", faults.KindOf(err), "err", err)
		return res, err
	}

	if err := router.ValidatePrompt(req.SystemPrompt, req.UserPrompt); err != nil {
		return fail(err)
	}

	decision, err := router.Resolve(class, g.routerSelection(), req.Override)
	res.Provider = decision.Target
	if err != nil {
		return fail(err)
	}

	// Envelope. Both prompts are anonymized before anything else sees
	// them, so even a failed call audits only the transmitted form.
	system, user, actx, err := g.anonymize(ctx, req)
	if err != nil {
		return fail(err)
	}
	entry.SystemPrompt = system
	entry.AnonymizedUserPrompt = user
	if !actx.NoOp() {
		res.Anonymized = true
		entry.AnonymizationSession = actx.SessionID.String()
	}

	callCtx, cancel := context.WithTimeout(ctx, pol.CallTimeout)
	defer cancel()

	resp, err := decision.Provider.Complete(callCtx, provider.Request{
		System:    system,
		User:      user,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		if ctxErr := callCtx.Err(); ctxErr != nil && !faults.IsConnectivity(err) {
			err = faults.Connectivity("gateway.invoke", ctxErr, "%s call did not complete", decision.Target.Kind)
		}
		if faults.IsConnectivity(err) && ctx.Err() == nil && g.supervisor.Target() == decision.Provider {
			g.supervisor.ReportFailure(err)
		}
		return fail(err)
	}
	if g.supervisor.Target() == decision.Provider {
		g.nudgeWarmup()
	}

	text := g.engine.Deanonymize(resp.Text, actx)

	res.Success = true
	res.Text = text
	res.TokensUsed = resp.TokensUsed
	res.Latency = time.Since(start)
	if resp.Model != "" {
		res.Provider.Model = resp.Model
	}

	entry.ProviderKind, entry.ModelName = kindLabel(res.Provider), res.Provider.Model
	entry.DeanonymizedResponse = text
	entry.Success = true
	entry.TokenEstimate = resp.TokensUsed
	if entry.TokenEstimate == 0 {
		entry.TokenEstimate = util.EstimateTokens(system, user, resp.Text)
	}
	entry.LatencyMs = res.Latency.Milliseconds()
	g.audit.LogEntry(entry)

	g.metrics.RecordInvocation(class.String(), kindLabel(res.Provider), telemetry.OutcomeSuccess, res.Latency)
	g.metrics.RecordTokens(kindLabel(res.Provider), resp.TokensUsed)

	g.logger.Debug("invoke ok",
		"op", req.Operation, "class", class, "provider", kindLabel(res.Provider),
		"model", res.Provider.Model, "anonymized", res.Anonymized,
		"prompt_len", len(user), "reply_len", len(text), "latency", res.Latency)
	return res, nil
}

// anonymize applies the envelope to both prompts with one pseudonym.
// Without an identity or document options the prompts pass through with a
// nil context.
func (g *Gateway) anonymize(ctx context.Context, req Request) (system, user string, actx *anonymize.Context, err error) {
	var id anonymize.Identity
	if req.Identity != nil {
		id = *req.Identity
	}
	if req.BirthDate == nil && !req.Untrusted && id.IsEmpty() {
		return req.SystemPrompt, req.UserPrompt, nil, nil
	}

	user, actx, err = g.engine.AnonymizeDocument(ctx, id, anonymize.Metadata{
		Text:       req.UserPrompt,
		BirthDate:  req.BirthDate,
		Untrusted:  req.Untrusted,
		Companions: []string{req.SystemPrompt},
	})
	if err != nil {
		return "", "", nil, faults.Connectivity("gateway.anonymize", err, "document anonymization interrupted")
	}
	if actx.PIIDegraded {
		g.logger.Warn("untrusted document sent without PII screening", "op", req.Operation)
	}
	system = g.engine.Apply(req.SystemPrompt, id, actx)
	return system, user, actx, nil
}

// nudgeWarmup restarts supervision after a successful call to the local
// backend while the supervisor still considered it failed.
func (g *Gateway) nudgeWarmup() {
	switch g.supervisor.State().State {
	case warmup.StateError, warmup.StateDegraded:
		g.supervisor.Trigger()
	}
}

// kindLabel is empty when no provider was identified.
func kindLabel(d provider.Descriptor) string {
	if d == (provider.Descriptor{}) {
		return ""
	}
	return d.Kind.String()
}
