// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/noteguard/internal/anonymize"
	"github.com/jeranaias/noteguard/internal/faults"
	"github.com/jeranaias/noteguard/internal/gateway"
	"github.com/jeranaias/noteguard/internal/offline"
	"github.com/jeranaias/noteguard/internal/provider"
	"github.com/jeranaias/noteguard/internal/router"
	"github.com/jeranaias/noteguard/internal/warmup"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize bounds request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxTokensLimit is the largest accepted max_tokens.
	MaxTokensLimit = 128000

	// switchTimeout bounds a provider switch, which pings the candidate.
	switchTimeout = 30 * time.Second
)

// Backend is the gateway surface the API needs. *gateway.Gateway
// implements it.
type Backend interface {
	Invoke(ctx context.Context, req gateway.Request) (gateway.Result, error)
	ExtractPII(ctx context.Context, text string) anonymize.PIIResult
	SwitchProvider(ctx context.Context, kind provider.Kind, model string) (string, error)
	Active() provider.Descriptor
	Preferred() provider.Kind
	FallbackActive() bool
	State() warmup.Event
}

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. "127.0.0.1:8787".
	Addr string
	// Token is the expected bearer token. Empty disables authentication,
	// which is only accepted on a loopback address.
	Token string
	// RequestsPerSecond and Burst bound each client IP. Zero disables the
	// limit.
	RequestsPerSecond float64
	Burst             int
	// DefaultGender picks the pseudonym pool when a request names a
	// patient without a gender.
	DefaultGender anonymize.Gender
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
	Logger  *log.Logger
	// Version is reported by /health.
	Version string
}

// Server is the HTTP API.
type Server struct {
	backend Backend
	opts    Options
	logger  *log.Logger
	mux     *http.ServeMux
	started time.Time
	server  *http.Server
}

// New validates opts and builds the routes.
func New(backend Backend, opts Options) (*Server, error) {
	const op = "server.new"
	if backend == nil {
		return nil, faults.Configuration(op, "a gateway is required")
	}
	if _, _, err := net.SplitHostPort(opts.Addr); err != nil {
		return nil, faults.Configuration(op, "invalid listen address %q", opts.Addr)
	}
	if opts.Token == "" && !offline.IsLocalhost(opts.Addr) {
		return nil, faults.Configuration(op, "listening on %s requires a bearer token", opts.Addr)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		backend: backend,
		opts:    opts,
		logger:  logger.WithPrefix("server"),
		mux:     http.NewServeMux(),
		started: time.Now(),
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes registers the API handlers.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /v1/invoke", s.handleInvoke)
	s.mux.HandleFunc("POST /v1/pii", s.handlePII)
	s.mux.HandleFunc("GET /v1/status", s.handleStatus)
	s.mux.HandleFunc("POST /v1/provider", s.handleSwitch)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.opts.Metrics != nil {
		s.mux.Handle("GET /metrics", s.opts.Metrics)
	}
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	chain := []func(http.Handler) http.Handler{
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
	}
	if s.opts.RequestsPerSecond > 0 {
		chain = append(chain, RateLimitMiddleware(NewRateLimiter(s.opts.RequestsPerSecond, s.opts.Burst), s.logger))
	}
	if s.opts.Token != "" {
		chain = append(chain, AuthMiddleware(s.opts.Token, s.logger))
	}
	return Chain(chain...)(s.mux)
}

// ============================================================================
// INVOKE
// ============================================================================

// PatientPayload names the identity to hide.
type PatientPayload struct {
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Gender     string `json:"gender,omitempty"`
	// BirthDate is YYYY-MM-DD.
	BirthDate string `json:"birth_date,omitempty"`
}

// InvokeRequest is the body of POST /v1/invoke.
type InvokeRequest struct {
	Operation string          `json:"operation"`
	System    string          `json:"system,omitempty"`
	Prompt    string          `json:"prompt"`
	MaxTokens int             `json:"max_tokens,omitempty"`
	Provider  string          `json:"provider,omitempty"`
	Patient   *PatientPayload `json:"patient,omitempty"`
	Untrusted bool            `json:"untrusted,omitempty"`
}

// InvokeResponse is the reply of POST /v1/invoke.
type InvokeResponse struct {
	Success    bool   `json:"success"`
	Text       string `json:"text,omitempty"`
	Class      string `json:"class"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	Anonymized bool   `json:"anonymized"`
	AuditID    string `json:"audit_id"`
	Tokens     int    `json:"tokens,omitempty"`
	LatencyMs  int64  `json:"latency_ms"`
}

// handleInvoke handles POST /v1/invoke.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var body InvokeRequest
	if !s.decode(w, r, &body) {
		return
	}
	req, err := s.toRequest(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.backend.Invoke(r.Context(), req)
	if err != nil {
		s.writeFault(w, err)
		return
	}
	out := InvokeResponse{
		Success:    res.Success,
		Text:       res.Text,
		Class:      res.Class.String(),
		Provider:   res.Provider.Kind.String(),
		Model:      res.Provider.Model,
		Anonymized: res.Anonymized,
		AuditID:    res.AuditID.String(),
		Tokens:     res.TokensUsed,
		LatencyMs:  res.Latency.Milliseconds(),
	}
	s.writeJSON(w, http.StatusOK, out)
}

// toRequest validates the payload and converts it to a gateway request.
func (s *Server) toRequest(body InvokeRequest) (gateway.Request, error) {
	operation, err := router.ParseOperation(body.Operation)
	if err != nil {
		return gateway.Request{}, err
	}
	override, err := router.ParseOverride(body.Provider)
	if err != nil {
		return gateway.Request{}, err
	}
	if body.MaxTokens < 0 || body.MaxTokens > MaxTokensLimit {
		return gateway.Request{}, errors.New("max_tokens out of range")
	}

	req := gateway.Request{
		Operation:    operation,
		SystemPrompt: body.System,
		UserPrompt:   body.Prompt,
		MaxTokens:    body.MaxTokens,
		Override:     override,
		Untrusted:    body.Untrusted,
	}
	if p := body.Patient; p != nil {
		gender := s.opts.DefaultGender
		if p.Gender != "" {
			gender = anonymize.ParseGender(p.Gender)
		}
		id := anonymize.Identity{GivenName: p.GivenName, FamilyName: p.FamilyName, Gender: gender}
		if !id.IsEmpty() {
			req.Identity = &id
		}
		if p.BirthDate != "" {
			born, err := time.Parse(time.DateOnly, p.BirthDate)
			if err != nil {
				return gateway.Request{}, errors.New("birth_date must be YYYY-MM-DD")
			}
			req.BirthDate = &born
		}
	}
	return req, nil
}

// ============================================================================
// PII
// ============================================================================

// PIIRequest is the body of POST /v1/pii.
type PIIRequest struct {
	Text string `json:"text"`
}

// handlePII handles POST /v1/pii. A degraded extraction is still a 200:
// the caller decides what an empty result means for it.
func (s *Server) handlePII(w http.ResponseWriter, r *http.Request) {
	var body PIIRequest
	if !s.decode(w, r, &body) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.backend.ExtractPII(r.Context(), body.Text))
}

// ============================================================================
// STATUS AND PROVIDER
// ============================================================================

// StatusResponse is the reply of GET /v1/status.
type StatusResponse struct {
	State          string `json:"state"`
	Message        string `json:"message,omitempty"`
	Generation     uint64 `json:"generation"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	Endpoint       string `json:"endpoint,omitempty"`
	Preferred      string `json:"preferred"`
	FallbackActive bool   `json:"fallback_active"`
}

func (s *Server) status() StatusResponse {
	ev := s.backend.State()
	active := s.backend.Active()
	return StatusResponse{
		State:          ev.State.String(),
		Message:        ev.Message,
		Generation:     ev.Generation,
		Provider:       active.Kind.String(),
		Model:          active.Model,
		Endpoint:       active.Endpoint,
		Preferred:      s.backend.Preferred().String(),
		FallbackActive: s.backend.FallbackActive(),
	}
}

// handleStatus handles GET /v1/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status())
}

// SwitchRequest is the body of POST /v1/provider.
type SwitchRequest struct {
	Kind  string `json:"kind"`
	Model string `json:"model,omitempty"`
}

// handleSwitch handles POST /v1/provider. The selection is not persisted;
// `noteguard switch` owns the config file.
func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var body SwitchRequest
	if !s.decode(w, r, &body) {
		return
	}
	kind, err := provider.ParseKind(body.Kind)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), switchTimeout)
	defer cancel()
	if _, err := s.backend.SwitchProvider(ctx, kind, body.Model); err != nil {
		s.writeFault(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.status())
}

// HealthResponse is the reply of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Uptime  string `json:"uptime"`
	Warmup  string `json:"warmup"`
}

// handleHealth handles GET /health. The process is healthy whenever it
// answers; the warmup state is informational.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.opts.Version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Warmup:  s.backend.State().State.String(),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.ListenAndServe() }()
	s.logger.Info("listening", "addr", s.opts.Addr, "auth", s.opts.Token != "")

	select {
	case err := <-errCh:
		return faults.Connectivity("server.listen", err, "cannot serve on %s", s.opts.Addr)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

// decode reads a JSON body into v, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "request body too large")
			return false
		}
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// statusFor maps a fault kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	}
	switch faults.KindOf(err) {
	case faults.KindPolicyViolation:
		return http.StatusForbidden
	case faults.KindConfiguration:
		return http.StatusConflict
	case faults.KindConnectivity, faults.KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeFault writes a gateway error with its fault kind.
func (s *Server) writeFault(w http.ResponseWriter, err error) {
	s.writeError(w, statusFor(err), faults.KindOf(err).String(), err.Error())
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response", "err", err)
	}
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes one failure.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, kind, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: ErrorBody{Kind: kind, Message: message, Code: status}})
}
