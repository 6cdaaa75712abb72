// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

// Configuration constants for the OpenAI-compatible API.
const (
	// DefaultOpenRouterURL is the base URL for OpenRouter API.
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the suggested number of SDK-level retries for
	// 429/5xx. Config.MaxRetries of zero disables retries.
	DefaultMaxRetries = 2

	// DefaultRequestsPerSecond paces outbound calls from one process.
	DefaultRequestsPerSecond = 2.0
)

// Error variables for common API errors.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("cloud API key not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired API key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits indicates the account has insufficient credits.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrEmptyResponse indicates the API answered without any choice.
	ErrEmptyResponse = errors.New("no completion choices returned")
)

// APIError represents a non-success status from the API that did not map
// onto one of the sentinels above.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("cloud API error (HTTP %d): %s", e.Status, e.Message)
}

// =============================================================================
// CLIENT
// =============================================================================

// Config configures a Client.
type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	// SiteURL and SiteName are sent as OpenRouter attribution headers when set.
	SiteURL  string
	SiteName string
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to an OpenAI-compatible chat completions API.
//
// The Client is safe for concurrent use; the model is passed per call.
type Client struct {
	api     openai.Client
	apiKey  string
	baseURL string
	model   string
	limiter *rate.Limiter
	logger  *log.Logger
}

// NewClient creates a client. An empty API key yields a client whose
// IsConfigured reports false and whose calls fail with ErrNotConfigured.
func NewClient(cfg Config, logger *log.Logger) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenRouterURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.SiteURL != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.SiteURL))
	}
	if cfg.SiteName != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.SiteName))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		api:     openai.NewClient(opts...),
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		logger:  logger,
	}
}

// IsConfigured reports whether an API key is present.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// BaseURL returns the API endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Model returns the default model.
func (c *Client) Model() string {
	return c.model
}

// KeyFingerprint returns a short SHA-256 fingerprint of the API key for
// logging. The key itself is never logged.
func (c *Client) KeyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// =============================================================================
// CHAT
// =============================================================================

// Completion is the flattened result of a chat completion.
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	FinishReason     string
}

// Chat sends a system and user message pair and returns the first choice.
// An empty model uses the client default.
func (c *Client) Chat(ctx context.Context, model, system, user string, maxTokens int) (*Completion, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if model == "" {
		model = c.model
	}
	if model == "" {
		return nil, fmt.Errorf("%w: no model selected", ErrModelNotFound)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(user))

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	start := time.Now()
	c.logger.Debug("chat request", "model", model, "prompt_chars", len(system)+len(user), "key", c.KeyFingerprint())

	completion, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		c.logger.Debug("chat failed", "model", model, "elapsed", time.Since(start))
		return nil, mapError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := completion.Choices[0]
	c.logger.Debug("chat response", "model", completion.Model, "elapsed", time.Since(start), "tokens", completion.Usage.TotalTokens)

	return &Completion{
		Content:          choice.Message.Content,
		Model:            completion.Model,
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
		TotalTokens:      int(completion.Usage.TotalTokens),
		FinishReason:     string(choice.FinishReason),
	}, nil
}

// mapError converts SDK errors into the package sentinels.
func mapError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	msg := apiErr.Message
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuthFailed, msg)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", ErrInsufficientCredits, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrModelNotFound, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	default:
		return &APIError{Status: apiErr.StatusCode, Message: msg}
	}
}

// IsRetryable reports whether a failed call may succeed if repeated later.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 && apiErr.Status < 600
	}
	return false
}
