package invoke

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/teranos/carbonfill/ai/mock"
	"github.com/teranos/carbonfill/ai/provider"
	"github.com/teranos/carbonfill/am"
	"github.com/teranos/carbonfill/errors"
)

var userMessages = []openai.ChatCompletionMessage{
	{Role: openai.ChatMessageRoleSystem, Content: "You are a carbon accounting expert."},
	{Role: openai.ChatMessageRoleUser, Content: "Estimate factors for 2 nodes."},
}

// backend is a fake OpenAI-compatible server
type backend struct {
	*httptest.Server
	calls int32
}

func newBackend(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *backend {
	t.Helper()
	b := &backend{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&b.calls, 1)
		handler(w, r)
	}))
	t.Cleanup(b.Close)
	return b
}

func (b *backend) Calls() int32 { return atomic.LoadInt32(&b.calls) }

func replyWith(content string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := openai.ChatCompletionResponse{ID: "chatcmpl-1", Object: "chat.completion", Model: req.Model}
		if content != "" {
			resp.Choices = []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
				FinishReason: openai.FinishReasonStop,
			}}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func section(key, url string) am.BackendConfig {
	return am.BackendConfig{APIKey: key, Model: "test-model", BaseURL: url, AllowPrivateNetwork: true}
}

func baseSettings() Settings {
	return Settings{
		Primary:      provider.BackendDeepSeek,
		Fallbacks:    []provider.Backend{provider.BackendOpenAI},
		AutoFallback: true,
		Timeout:      5 * time.Second,
		Temperature:  0.2,
		MaxTokens:    4000,
		RetryDelay:   -1,
		Backends: map[provider.Backend]am.BackendConfig{
			provider.BackendDeepSeek: {Model: "deepseek-chat"},
			provider.BackendOpenAI:   {Model: "gpt-3.5-turbo"},
		},
	}
}

func invoke(t *testing.T, s Settings, opts ...Option) (Completion, error) {
	t.Helper()
	inv, err := New(s, opts...)
	require.NoError(t, err)
	return inv.Invoke(context.Background(), Request{Messages: userMessages})
}

func TestInvoke_MockModeNeverCallsNetwork(t *testing.T) {
	srv := newBackend(t, replyWith("ok"))

	s := baseSettings()
	s.AlwaysMock = true
	s.Backends[provider.BackendDeepSeek] = section("sk-ds", srv.URL)

	c, err := invoke(t, s)
	require.NoError(t, err)
	assert.Zero(t, srv.Calls())
	assert.Equal(t, KindDegraded, c.Outcome.Kind)
	assert.True(t, errors.Is(c.Outcome.Cause, ErrMockMode))
	assert.False(t, c.Outcome.Failed())
	assert.Equal(t, provider.BackendMock, c.Backend)
	assert.Equal(t, "test-model-mock", c.Envelope.Model)
	assert.Equal(t, "chat.completion", c.Envelope.Object)
	require.Len(t, c.Envelope.Choices, 1)
}

func TestInvoke_MockBackend(t *testing.T) {
	s := baseSettings()
	s.Primary = provider.BackendMock

	c, err := invoke(t, s, WithMock(mock.New(mock.WithPool("canned"))))
	require.NoError(t, err)
	assert.Equal(t, "canned", c.Content())
	assert.Equal(t, "deepseek-chat-mock", c.Envelope.Model)
}

func TestInvoke_MissingCredentialDegrades(t *testing.T) {
	c, err := invoke(t, baseSettings())
	require.NoError(t, err)

	assert.True(t, c.Outcome.Failed())
	assert.True(t, errors.Is(c.Outcome.Cause, errors.ErrCredentialMissing))
	assert.Contains(t, c.Outcome.Cause.Error(), "deepseek or openai")
	assert.NotEmpty(t, c.Content(), "envelope is always well formed")
}

func TestInvoke_FallbackCredential(t *testing.T) {
	srv := newBackend(t, replyWith("```json\n[]\n```"))

	s := baseSettings()
	s.Backends[provider.BackendOpenAI] = section("sk-openai", srv.URL)

	c, err := invoke(t, s)
	require.NoError(t, err)
	assert.Equal(t, KindSuccess, c.Outcome.Kind)
	assert.NoError(t, c.Outcome.Cause)
	assert.Equal(t, provider.BackendOpenAI, c.Backend)
	assert.Equal(t, "test-model", c.Model)
	assert.Equal(t, "```json\n[]\n```", c.Content())
	assert.EqualValues(t, 1, srv.Calls())
}

func TestInvoke_HTTPErrorDegrades(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"upstream exploded"}}`))
	})

	s := baseSettings()
	s.Backends[provider.BackendDeepSeek] = section("sk-ds", srv.URL)

	c, err := invoke(t, s)
	require.NoError(t, err)
	assert.True(t, c.Outcome.Failed())
	assert.True(t, errors.Is(c.Outcome.Cause, errors.ErrTransport))
	assert.Equal(t, "deepseek returned HTTP 500", errors.Cause(c.Outcome.Cause, 50))
	assert.Equal(t, provider.BackendMock, c.Backend)
	assert.Equal(t, "test-model-mock", c.Envelope.Model)
}

func TestInvoke_EmptyChoicesDegrades(t *testing.T) {
	srv := newBackend(t, replyWith(""))

	s := baseSettings()
	s.Backends[provider.BackendDeepSeek] = section("sk-ds", srv.URL)

	c, err := invoke(t, s)
	require.NoError(t, err)
	assert.True(t, errors.Is(c.Outcome.Cause, errors.ErrResponseShape))
	assert.Equal(t, "deepseek returned no choices", c.Outcome.Cause.Error())
}

func TestInvoke_TimeoutDegrades(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	s := baseSettings()
	s.Timeout = 50 * time.Millisecond
	s.Backends[provider.BackendDeepSeek] = section("sk-ds", srv.URL)

	c, err := invoke(t, s)
	require.NoError(t, err)
	assert.True(t, errors.Is(c.Outcome.Cause, errors.ErrTimeout))
	assert.True(t, errors.Is(c.Outcome.Cause, errors.ErrTransport))
	assert.Contains(t, c.Outcome.Cause.Error(), "timed out")
}

func TestInvoke_AutoFallbackOffReturnsError(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	s := baseSettings()
	s.AutoFallback = false
	s.Backends[provider.BackendDeepSeek] = section("sk-ds", srv.URL)

	c, err := invoke(t, s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransport))
	assert.Equal(t, KindDegraded, c.Outcome.Kind)
	assert.Empty(t, c.Envelope.Choices)

	t.Run("explicit mock mode still answers", func(t *testing.T) {
		s := baseSettings()
		s.AutoFallback = false
		s.AlwaysMock = true
		c, err := invoke(t, s)
		require.NoError(t, err)
		assert.NotEmpty(t, c.Content())
	})
}

func TestInvoke_CachesSuccessfulCompletions(t *testing.T) {
	srv := newBackend(t, replyWith("cached"))

	s := baseSettings()
	s.CacheSize = 4
	s.Backends[provider.BackendDeepSeek] = section("sk-ds", srv.URL)

	inv, err := New(s)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		c, err := inv.Invoke(context.Background(), Request{Messages: userMessages})
		require.NoError(t, err)
		assert.Equal(t, "cached", c.Content())
	}
	assert.EqualValues(t, 1, srv.Calls())

	temp := float32(0.9)
	_, err = inv.Invoke(context.Background(), Request{Messages: userMessages, Temperature: &temp})
	require.NoError(t, err)
	assert.EqualValues(t, 2, srv.Calls(), "different temperature is a different request")
}

func TestInvoke_RequestOverrides(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	})

	s := baseSettings()
	s.Backends[provider.BackendDeepSeek] = section("sk-ds", srv.URL)
	inv, err := New(s)
	require.NoError(t, err)

	temp := float32(0.7)
	_, err = inv.Invoke(context.Background(), Request{
		Messages:    userMessages,
		Model:       "deepseek-reasoner",
		Temperature: &temp,
		MaxTokens:   256,
	})
	require.NoError(t, err)
	assert.Equal(t, "deepseek-reasoner", got.Model)
	assert.InDelta(t, 0.7, got.Temperature, 0.001)
	assert.Equal(t, 256, got.MaxTokens)
	assert.Len(t, got.Messages, 2)
}

func TestInvoke_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, err := invoke(t, baseSettings(), WithTracerProvider(tp))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "invoke.Invoke", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("carbonfill.outcome", "degraded"))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "success", Outcome{Kind: KindSuccess}.String())
	assert.Equal(t, "degraded: mock mode", Outcome{Kind: KindDegraded, Cause: ErrMockMode}.String())
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := &am.Config{
		Inference: am.InferenceConfig{
			Backend:        "deepseek",
			Fallbacks:      []string{"openai", "bogus", "mock"},
			AutoFallback:   true,
			TimeoutSeconds: 120,
			Temperature:    0.2,
			MaxTokens:      4000,
		},
		DeepSeek: am.BackendConfig{Model: "deepseek-chat"},
		OpenAI:   am.BackendConfig{APIKey: "sk-openai", Model: "gpt-3.5-turbo"},
	}

	s := SettingsFromConfig(cfg)
	assert.Equal(t, provider.BackendDeepSeek, s.Primary)
	assert.Equal(t, []provider.Backend{provider.BackendOpenAI}, s.Fallbacks)
	assert.Equal(t, 120*time.Second, s.Timeout)
	assert.False(t, s.MockMode())
	assert.Equal(t, "sk-openai", s.Backends[provider.BackendOpenAI].APIKey)

	cands := s.Candidates()
	require.Len(t, cands, 2)
	assert.Equal(t, provider.BackendDeepSeek, cands[0].Backend)
	assert.Equal(t, provider.BackendOpenAI, cands[1].Backend)

	cfg.Inference.AlwaysMock = true
	assert.True(t, SettingsFromConfig(cfg).MockMode())
}
