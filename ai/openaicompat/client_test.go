package openaicompat

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/carbonfill/ai/tracker"
	"github.com/teranos/carbonfill/errors"
	cftest "github.com/teranos/carbonfill/internal/testing"
)

func completionServer(t *testing.T, content string, calls *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:      "chatcmpl-1",
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Index:        0,
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
				FinishReason: openai.FinishReasonStop,
			}},
			Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func testRequest() openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a carbon accounting expert."},
			{Role: openai.ChatMessageRoleUser, Content: "Estimate factors."},
		},
		Temperature: 0.2,
		MaxTokens:   4000,
	}
}

func TestClient_Configuration(t *testing.T) {
	t.Run("applies default values", func(t *testing.T) {
		client := NewClient(Config{APIKey: "test-key"})
		assert.Equal(t, "openai", client.Name())
		assert.Equal(t, DefaultModel, client.Model())
		assert.Equal(t, DefaultRetryDelay, client.config.RetryDelay)
	})

	t.Run("preserves custom values", func(t *testing.T) {
		client := NewClient(Config{Provider: "deepseek", APIKey: "k", Model: "deepseek-chat", MaxRetries: -3})
		assert.Equal(t, "deepseek", client.Name())
		assert.Equal(t, "deepseek-chat", client.Model())
		assert.Zero(t, client.config.MaxRetries)
	})

	t.Run("is configured only with key", func(t *testing.T) {
		assert.True(t, NewClient(Config{APIKey: "k"}).IsConfigured())
		assert.False(t, NewClient(Config{}).IsConfigured())
	})
}

func TestClient_Complete(t *testing.T) {
	t.Run("successful request fills model", func(t *testing.T) {
		server := completionServer(t, "```json\n[]\n```", nil)

		client := NewClient(Config{Provider: "deepseek", APIKey: "test-key", Model: "deepseek-chat", BaseURL: server.URL})
		client.SetHTTPClient(server.Client())

		resp, err := client.Complete(context.Background(), testRequest())
		require.NoError(t, err)
		require.Len(t, resp.Choices, 1)
		assert.Equal(t, "deepseek-chat", resp.Model)
		assert.Equal(t, "```json\n[]\n```", resp.Choices[0].Message.Content)
		assert.Equal(t, 30, resp.Usage.TotalTokens)
	})

	t.Run("missing key is a credential error", func(t *testing.T) {
		_, err := NewClient(Config{Provider: "openai"}).Complete(context.Background(), testRequest())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrCredentialMissing))
	})

	t.Run("http status error is not retried", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"invalid api key","type":"auth"}}`))
		}))
		defer server.Close()

		client := NewClient(Config{APIKey: "test-key", BaseURL: server.URL, MaxRetries: 2, RetryDelay: -1})
		client.SetHTTPClient(server.Client())

		_, err := client.Complete(context.Background(), testRequest())
		require.Error(t, err)

		var apiErr *openai.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusUnauthorized, apiErr.HTTPStatusCode)
		assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	})

	t.Run("openrouter requests carry attribution headers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "carbonfill", r.Header.Get("X-Title"))
			assert.Equal(t, appReferer, r.Header.Get("HTTP-Referer"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"x","object":"chat.completion","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))
		}))
		defer server.Close()

		client := NewClient(Config{Provider: "openrouter", APIKey: "test-key", BaseURL: server.URL})
		client.SetHTTPClient(server.Client())

		_, err := client.Complete(context.Background(), testRequest())
		require.NoError(t, err)
	})
}

// flakyTransport fails the first n round trips with a connection reset
type flakyTransport struct {
	failures int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return nil, &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}
	}
	return f.next.RoundTrip(req)
}

func TestClient_RetriesNetworkErrors(t *testing.T) {
	var calls int32
	server := completionServer(t, "ok", &calls)

	client := NewClient(Config{APIKey: "test-key", BaseURL: server.URL, MaxRetries: 2, RetryDelay: -1})
	client.SetHTTPClient(&http.Client{Transport: &flakyTransport{failures: 2, next: server.Client().Transport}})

	resp, err := client.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Choices[0].Message.Content)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClient_RetriesExhausted(t *testing.T) {
	server := completionServer(t, "ok", nil)

	client := NewClient(Config{APIKey: "test-key", BaseURL: server.URL, MaxRetries: 1, RetryDelay: -1})
	client.SetHTTPClient(&http.Client{Transport: &flakyTransport{failures: 5, next: server.Client().Transport}})

	_, err := client.Complete(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestClient_TracksUsage(t *testing.T) {
	db := cftest.CreateTestDB(t)
	server := completionServer(t, "ok", nil)

	client := NewClient(Config{
		Provider: "deepseek",
		APIKey:   "test-key",
		Model:    "deepseek-chat",
		BaseURL:  server.URL,
		Tracker:  tracker.NewUsageTracker(db),
	})
	client.SetHTTPClient(server.Client())

	ctx := tracker.WithScope(context.Background(), tracker.Scope{
		Operation: tracker.OperationEnrichGroup,
		Stage:     "distribution",
		RunID:     "run-42",
	})
	_, err := client.Complete(ctx, testRequest())
	require.NoError(t, err)

	var stage, runID, provider string
	var tokens int
	var success bool
	err = db.QueryRow(`SELECT stage, run_id, model_provider, tokens_used, success FROM ai_model_usage`).
		Scan(&stage, &runID, &provider, &tokens, &success)
	require.NoError(t, err)
	assert.Equal(t, "distribution", stage)
	assert.Equal(t, "run-42", runID)
	assert.Equal(t, "deepseek", provider)
	assert.Equal(t, 30, tokens)
	assert.True(t, success)
}
