// Package openaicompat talks to any backend exposing the OpenAI chat completions
// API: DeepSeek, OpenAI, and OpenRouter.
package openaicompat

import (
	"context"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/teranos/carbonfill/ai/tracker"
	"github.com/teranos/carbonfill/errors"
	"github.com/teranos/carbonfill/internal/httpclient"
)

const (
	// DefaultModel is used when neither the config nor the request names one
	DefaultModel = "gpt-3.5-turbo"

	// DefaultRetryDelay is multiplied by the attempt number between retries
	DefaultRetryDelay = time.Second
)

// Config holds client configuration
type Config struct {
	Provider            string // deepseek, openai, openrouter; recorded in usage rows
	APIKey              string
	Model               string
	BaseURL             string // empty = api.openai.com
	AllowPrivateNetwork bool
	Timeout             time.Duration
	MaxRetries          int           // retries on network errors only
	RetryDelay          time.Duration // 0 = DefaultRetryDelay, negative = no wait
	Tracker             tracker.Recorder
	Logger              *zap.SugaredLogger
}

// Client wraps go-openai with retries, SSRF protection, and usage tracking
type Client struct {
	api          *openai.Client
	config       Config
	usageTracker tracker.Recorder
	logger       *zap.SugaredLogger
}

// NewClient creates a client with defaults applied
func NewClient(config Config) *Client {
	if config.Provider == "" {
		config.Provider = "openai"
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	block := !config.AllowPrivateNetwork
	c := &Client{
		config:       config,
		usageTracker: config.Tracker,
		logger:       logger.With("backend", config.Provider),
	}
	c.api = c.newAPI(httpclient.New(httpclient.Options{
		Timeout:        config.Timeout,
		BlockPrivateIP: &block,
	}))
	return c
}

func (c *Client) newAPI(doer *httpclient.SaferClient) *openai.Client {
	apiConfig := openai.DefaultConfig(c.config.APIKey)
	if c.config.BaseURL != "" {
		apiConfig.BaseURL = c.config.BaseURL
	}
	apiConfig.HTTPClient = titledDoer{doer: doer, provider: c.config.Provider}
	return openai.NewClientWithConfig(apiConfig)
}

// appReferer identifies carbonfill in OpenRouter's app rankings
const appReferer = "https://github.com/teranos/carbonfill"

// titledDoer sets the HTTP-Referer and X-Title headers OpenRouter shows on its dashboard
type titledDoer struct {
	doer     *httpclient.SaferClient
	provider string
}

func (d titledDoer) Do(req *http.Request) (*http.Response, error) {
	if d.provider == "openrouter" {
		req.Header.Set("HTTP-Referer", appReferer)
		req.Header.Set("X-Title", "carbonfill")
	}
	return d.doer.Do(req)
}

// Name returns the provider this client was configured for
func (c *Client) Name() string {
	return c.config.Provider
}

// Model returns the configured default model
func (c *Client) Model() string {
	return c.config.Model
}

// Complete sends a chat completion with retry on network errors.
// HTTP status failures surface as *openai.APIError or *openai.RequestError.
func (c *Client) Complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if !c.IsConfigured() {
		return openai.ChatCompletionResponse{}, errors.Mark(
			errors.Newf("%s API key not configured", c.config.Provider), errors.ErrCredentialMissing)
	}
	if req.Model == "" {
		req.Model = c.config.Model
	}

	c.logger.Debugw("Chat completion request",
		"model", req.Model,
		"temperature", req.Temperature,
		"max_tokens", req.MaxTokens,
		"messages", len(req.Messages),
	)

	requestTime := time.Now()
	var resp openai.ChatCompletionResponse
	var err error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debugw("Retrying chat completion",
				"attempt", attempt, "max_retries", c.config.MaxRetries)
			if werr := httpclient.Backoff(ctx, attempt, c.config.RetryDelay); werr != nil {
				err = werr
				break
			}
		}

		resp, err = c.api.CreateChatCompletion(ctx, req)
		if err == nil {
			if attempt > 0 {
				c.logger.Infow("Request succeeded after retries", "attempts", attempt+1, "model", req.Model)
			}
			break
		}

		c.logger.Warnw("Chat completion error",
			"attempt", attempt+1, "max_retries", c.config.MaxRetries, "error", err, "model", req.Model)

		if !httpclient.IsRetryable(err) {
			break
		}
	}

	if err != nil {
		c.trackFailedRequest(ctx, requestTime, req, err)
		return openai.ChatCompletionResponse{}, errors.Wrapf(err, "%s chat completion", c.config.Provider)
	}

	c.logger.Debugw("Chat completion response",
		"choices", len(resp.Choices),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"total_tokens", resp.Usage.TotalTokens,
	)

	c.trackUsage(ctx, requestTime, req, resp.Usage)
	return resp, nil
}

func (c *Client) trackUsage(ctx context.Context, requestTime time.Time, req openai.ChatCompletionRequest, u openai.Usage) {
	if c.usageTracker == nil {
		return
	}
	scope := tracker.ScopeFromContext(ctx)
	responseTime := time.Now()
	temperature := float64(req.Temperature)
	maxTokens := req.MaxTokens
	prompt, completion, total := u.PromptTokens, u.CompletionTokens, u.TotalTokens

	usage := &tracker.ModelUsage{
		OperationType:     scope.Operation,
		Stage:             scope.Stage,
		RunID:             scope.RunID,
		ModelName:         req.Model,
		ModelProvider:     c.config.Provider,
		ModelConfig:       tracker.NewModelConfig(&temperature, &maxTokens),
		RequestTimestamp:  requestTime,
		ResponseTimestamp: &responseTime,
		PromptTokens:      &prompt,
		CompletionTokens:  &completion,
		TokensUsed:        &total,
		Success:           true,
	}
	if err := c.usageTracker.TrackUsage(usage); err != nil {
		c.logger.Warnw("Failed to track usage", "error", err, "model", req.Model, "tokens", total)
	}
}

func (c *Client) trackFailedRequest(ctx context.Context, requestTime time.Time, req openai.ChatCompletionRequest, err error) {
	if c.usageTracker == nil {
		return
	}
	scope := tracker.ScopeFromContext(ctx)
	responseTime := time.Now()
	errMsg := err.Error()
	temperature := float64(req.Temperature)
	maxTokens := req.MaxTokens

	usage := &tracker.ModelUsage{
		OperationType:     scope.Operation,
		Stage:             scope.Stage,
		RunID:             scope.RunID,
		ModelName:         req.Model,
		ModelProvider:     c.config.Provider,
		ModelConfig:       tracker.NewModelConfig(&temperature, &maxTokens),
		RequestTimestamp:  requestTime,
		ResponseTimestamp: &responseTime,
		Success:           false,
		ErrorMessage:      &errMsg,
	}
	if trackErr := c.usageTracker.TrackUsage(usage); trackErr != nil {
		c.logger.Warnw("Failed to track failed request", "error", trackErr, "model", req.Model, "original_error", errMsg)
	}
}

// IsConfigured returns true if the client has an API key
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// SetHTTPClient overrides the HTTP client without SSRF protection.
// Only use this in tests against httptest servers.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.api = c.newAPI(httpclient.Wrap(client))
}
