// Package anthropic is a minimal client for the Anthropic Messages API that
// answers in the OpenAI chat completion envelope.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/teranos/carbonfill/ai/tracker"
	"github.com/teranos/carbonfill/errors"
	"github.com/teranos/carbonfill/internal/httpclient"
)

const (
	// DefaultModel is the default Claude model
	DefaultModel = "claude-sonnet-4-20250514"

	// BaseURL is the Anthropic API endpoint
	BaseURL = "https://api.anthropic.com/v1"

	// APIVersion is the required Anthropic API version header
	APIVersion = "2023-06-01"

	// DefaultMaxTokens applies when the request leaves max_tokens unset; the API requires it
	DefaultMaxTokens = 4096
)

// Client represents an Anthropic API client
type Client struct {
	baseURL      string
	httpClient   *httpclient.SaferClient
	config       Config
	usageTracker tracker.Recorder
	logger       *zap.SugaredLogger
}

// Config holds Anthropic client configuration
type Config struct {
	APIKey              string
	Model               string
	BaseURL             string
	AllowPrivateNetwork bool
	Timeout             time.Duration
	MaxRetries          int
	RetryDelay          time.Duration // 0 = one second, negative = no wait
	Tracker             tracker.Recorder
	Logger              *zap.SugaredLogger
}

// NewClient creates a new Anthropic API client
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = BaseURL
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	block := !config.AllowPrivateNetwork
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpclient.New(httpclient.Options{
			Timeout:        config.Timeout,
			BlockPrivateIP: &block,
		}),
		config:       config,
		usageTracker: config.Tracker,
		logger:       logger.With("backend", "anthropic"),
	}
}

// MessagesRequest represents a request to the Anthropic Messages API
type MessagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
}

// Message represents a message in the conversation
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// MessagesResponse represents the response from the Messages API
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// ContentBlock represents a content block in the response
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Usage represents token usage information
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Name returns the backend name
func (c *Client) Name() string {
	return "anthropic"
}

// Model returns the configured default model
func (c *Client) Model() string {
	return c.config.Model
}

// Complete translates an OpenAI-style request into a Messages call.
// System messages are joined into the system field.
func (c *Client) Complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if !c.IsConfigured() {
		return openai.ChatCompletionResponse{}, errors.Mark(
			errors.New("anthropic API key not configured"), errors.ErrCredentialMissing)
	}
	if req.Model == "" {
		req.Model = c.config.Model
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}

	messagesReq := toMessagesRequest(req)
	c.logger.Debugw("Anthropic messages request",
		"model", messagesReq.Model,
		"temperature", messagesReq.Temperature,
		"max_tokens", messagesReq.MaxTokens,
	)

	requestTime := time.Now()
	var resp *MessagesResponse
	var err error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if werr := httpclient.Backoff(ctx, attempt, c.config.RetryDelay); werr != nil {
				err = werr
				break
			}
		}

		resp, err = c.createMessages(ctx, messagesReq)
		if err == nil {
			break
		}

		c.logger.Warnw("Anthropic API error", "attempt", attempt+1, "error", err, "model", req.Model)
		if !httpclient.IsRetryable(err) {
			break
		}
	}

	if err != nil {
		c.track(ctx, requestTime, req, nil, err)
		return openai.ChatCompletionResponse{}, errors.Wrap(err, "anthropic messages")
	}

	out := toCompletion(resp)
	c.track(ctx, requestTime, req, &out.Usage, nil)
	return out, nil
}

func toMessagesRequest(req openai.ChatCompletionRequest) MessagesRequest {
	var system []string
	var messages []Message
	for _, m := range req.Messages {
		if m.Role == openai.ChatMessageRoleSystem {
			system = append(system, m.Content)
			continue
		}
		messages = append(messages, Message{Role: m.Role, Content: m.Content})
	}
	return MessagesRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Messages:    messages,
		System:      strings.Join(system, "\n\n"),
		Temperature: req.Temperature,
	}
}

func toCompletion(resp *MessagesResponse) openai.ChatCompletionResponse {
	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	out := openai.ChatCompletionResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Usage: openai.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
	if content.Len() > 0 {
		out.Choices = []openai.ChatCompletionChoice{{
			Index:        0,
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content.String()},
			FinishReason: finishReason(resp.StopReason),
		}}
	}
	return out
}

func finishReason(stop string) openai.FinishReason {
	switch stop {
	case "max_tokens":
		return openai.FinishReasonLength
	default:
		return openai.FinishReasonStop
	}
}

// createMessages sends a request to the Anthropic Messages API.
// Non-200 responses come back as *openai.APIError so callers see one error shape.
func (c *Client) createMessages(ctx context.Context, req MessagesRequest) (*MessagesResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)
	httpReq.Header.Set("anthropic-version", APIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &openai.APIError{
			HTTPStatusCode: resp.StatusCode,
			Message:        errorMessage(respBody),
		}
	}

	var messagesResp MessagesResponse
	if err := json.Unmarshal(respBody, &messagesResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}

	return &messagesResp, nil
}

func errorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(body))
}

func (c *Client) track(ctx context.Context, requestTime time.Time, req openai.ChatCompletionRequest, u *openai.Usage, callErr error) {
	if c.usageTracker == nil {
		return
	}
	scope := tracker.ScopeFromContext(ctx)
	responseTime := time.Now()
	temperature := float64(req.Temperature)
	maxTokens := req.MaxTokens

	usage := &tracker.ModelUsage{
		OperationType:     scope.Operation,
		Stage:             scope.Stage,
		RunID:             scope.RunID,
		ModelName:         req.Model,
		ModelProvider:     "anthropic",
		ModelConfig:       tracker.NewModelConfig(&temperature, &maxTokens),
		RequestTimestamp:  requestTime,
		ResponseTimestamp: &responseTime,
		Success:           callErr == nil,
	}
	if u != nil {
		usage.PromptTokens = &u.PromptTokens
		usage.CompletionTokens = &u.CompletionTokens
		usage.TokensUsed = &u.TotalTokens
	}
	if callErr != nil {
		msg := callErr.Error()
		usage.ErrorMessage = &msg
	}
	if err := c.usageTracker.TrackUsage(usage); err != nil {
		c.logger.Warnw("Failed to track usage", "error", err, "model", req.Model)
	}
}

// IsConfigured returns true if the client has an API key
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// SetHTTPClient overrides the HTTP client without SSRF protection.
// Only use this in tests.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.Wrap(client)
}
