package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/carbonfill/ai/invoke"
	"github.com/teranos/carbonfill/ai/provider"
	"github.com/teranos/carbonfill/am"
	"github.com/teranos/carbonfill/enrich"
	"github.com/teranos/carbonfill/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type funcInvoker func(ctx context.Context, req invoke.Request) (invoke.Completion, error)

func (f funcInvoker) Invoke(ctx context.Context, req invoke.Request) (invoke.Completion, error) {
	return f(ctx, req)
}

func testConfig() am.ServerConfig {
	return am.ServerConfig{
		Port:           am.DefaultServerPort,
		AllowedOrigins: []string{"http://localhost:3000"},
		MaxBatchSize:   3,
	}
}

func newTestServer(t *testing.T, inv enrich.Invoker) *Server {
	t.Helper()
	if inv == nil {
		mockInv, err := invoke.New(invoke.Settings{Primary: provider.BackendMock, AutoFallback: true})
		require.NoError(t, err)
		inv = mockInv
	}
	s, err := New(testConfig(), enrich.New(inv, enrich.DefaultOptions()), inv, WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	w := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "starting", body["status"])
	assert.NotEmpty(t, body["version"])
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestMatchCarbonFactors(t *testing.T) {
	s := newTestServer(t, nil)
	w := do(t, s, http.MethodPost, "/api/v1/ai/match-carbon-factors",
		`[{"id": "a", "productName": "Steel beam"}, {"id": "b", "lifecycleStage": "manufacturing"}]`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	nodes, ok := body["nodes"].([]any)
	require.True(t, ok)
	require.Len(t, nodes, 2)
	assert.Equal(t, "a", nodes[0].(map[string]any)["id"])
	assert.Equal(t, "manufacturing", nodes[1].(map[string]any)["lifecycleStage"])
	for _, n := range nodes {
		assert.Contains(t, n.(map[string]any), "carbonFactor")
	}

	stats := body["match_stats"].(map[string]any)
	assert.Equal(t, 2.0, stats["total"])
	assert.Equal(t, 2.0, stats["ai_matched"].(float64)+stats["manual_required"].(float64))
	assert.NotEmpty(t, body["run_id"])
}

func TestMatchCarbonFactors_Validation(t *testing.T) {
	tests := map[string]string{
		"object body":   `{"id": "a"}`,
		"empty":         `[]`,
		"null":          `null`,
		"too many":      `[{}, {}, {}, {}]`,
		"null element":  `[{"id": "a"}, null]`,
		"unknown stage": `[{"lifecycleStage": "teleportation"}]`,
		"bad number":    `[{"carbonFactor": "lots"}]`,
	}
	s := newTestServer(t, nil)
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/api/v1/ai/match-carbon-factors", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Contains(t, decode(t, w), "error")
		})
	}
}

func TestMatchCarbonFactors_ValidationDetails(t *testing.T) {
	s := newTestServer(t, nil)
	w := do(t, s, http.MethodPost, "/api/v1/ai/match-carbon-factors", `[{}, {}, {}, {}]`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "invalid request", body["error"])
	assert.Equal(t, []any{"body: max=3"}, body["details"])
}

func TestOptimize(t *testing.T) {
	s := newTestServer(t, nil)
	w := do(t, s, http.MethodPost, "/api/v1/ai/optimize/distribution",
		`{"id": "truck", "lifecycleStage": "disposal", "transportMode": "road"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "success", body["status"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "truck", data["id"])
	assert.Equal(t, "distribution", data["lifecycleStage"])
	assert.Equal(t, "road", data["transportMode"])
	assert.Contains(t, data, "carbonFactor")
}

func TestOptimize_ChineseStageLabel(t *testing.T) {
	s := newTestServer(t, nil)
	w := do(t, s, http.MethodPost, "/api/v1/ai/optimize/"+"%E5%BA%9F%E5%BC%83%E5%A4%84%E7%BD%AE", `{"id": "bin"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "disposal", decode(t, w)["data"].(map[string]any)["lifecycleStage"])
}

func TestOptimize_Rejects(t *testing.T) {
	s := newTestServer(t, nil)

	w := do(t, s, http.MethodPost, "/api/v1/ai/optimize/orbit", `{"id": "x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/ai/optimize/usage", `[1, 2]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/ai/optimize/usage", `null`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecomposeProduct(t *testing.T) {
	var got invoke.Request
	inv := funcInvoker(func(_ context.Context, req invoke.Request) (invoke.Completion, error) {
		got = req
		return invoke.Completion{
			Envelope: openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: `[{"name": "Glass", "weight": 425, "carbonFactor": 0.9}, {"name": "Steel", "weight": 75, "carbonFactor": 1.9}]`,
			}}}},
			Outcome: invoke.Outcome{Kind: invoke.KindSuccess},
			Backend: provider.BackendOpenAI,
		}, nil
	})
	s := newTestServer(t, inv)

	w := do(t, s, http.MethodPost, "/api/v1/ai/decompose-product",
		`{"product_name": "Jam jar", "total_weight": 500, "unit": "g"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "success", body["status"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "Jam jar", data["product_name"])
	assert.Equal(t, "completed", data["status"])
	materials := data["materials"].([]any)
	require.Len(t, materials, 2)
	assert.Equal(t, "Glass", materials[0].(map[string]any)["material_name"])
	assert.InDelta(t, 0.425*0.9+0.075*1.9, data["total_carbon_footprint"], 1e-9)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[1].Content, "Jam jar")
}

func TestDecomposeProduct_MockFallsBackToManual(t *testing.T) {
	s := newTestServer(t, nil)
	w := do(t, s, http.MethodPost, "/api/v1/ai/decompose-product", `{"product_name": "Kettle", "total_weight": 1.2, "unit": "kg"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "manual-required", data["status"])
	materials := data["materials"].([]any)
	require.Len(t, materials, 1)
	assert.Equal(t, 1.2, materials[0].(map[string]any)["weight"])
}

func TestDecomposeProduct_Validation(t *testing.T) {
	s := newTestServer(t, nil)
	tests := map[string]struct {
		body    string
		details []any
	}{
		"no name":     {body: `{"total_weight": 10}`, details: []any{"product_name: required"}},
		"zero weight": {body: `{"product_name": "Kettle", "total_weight": 0}`, details: []any{"total_weight: gt=0"}},
		"bad unit":    {body: `{"product_name": "Kettle", "total_weight": 1, "unit": "lb"}`, details: []any{"unit: oneof=g kg"}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/api/v1/ai/decompose-product", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, tt.details, decode(t, w)["details"])
		})
	}

	w := do(t, s, http.MethodPost, "/api/v1/ai/decompose-product", `{"product_name": "   ", "total_weight": 1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompletions(t *testing.T) {
	var got invoke.Request
	inv := funcInvoker(func(_ context.Context, req invoke.Request) (invoke.Completion, error) {
		got = req
		return invoke.Completion{
			Envelope: openai.ChatCompletionResponse{
				ID:      "chatcmpl-1",
				Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "hi"}}},
			},
			Outcome: invoke.Outcome{Kind: invoke.KindSuccess},
			Backend: provider.BackendDeepSeek,
		}, nil
	})
	s := newTestServer(t, inv)

	w := do(t, s, http.MethodPost, "/api/v1/ai/completions",
		`{"messages": [{"role": "user", "content": "hello"}], "model": "deepseek-chat", "temperature": 0.5, "max_tokens": 64}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, "success", w.Header().Get(OutcomeHeader))
	assert.Equal(t, "deepseek", w.Header().Get(BackendHeader))

	var env openai.ChatCompletionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "chatcmpl-1", env.ID)
	assert.Equal(t, "hi", env.Choices[0].Message.Content)

	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)
	assert.Equal(t, "deepseek-chat", got.Model)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.5, *got.Temperature, 1e-6)
	assert.Equal(t, 64, got.MaxTokens)
}

func TestCompletions_DegradedMock(t *testing.T) {
	s := newTestServer(t, nil)
	w := do(t, s, http.MethodPost, "/api/v1/ai/completions", `{"messages": [{"role": "user", "content": "hello"}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, strings.HasPrefix(w.Header().Get(OutcomeHeader), "degraded"))
	assert.Equal(t, "mock", w.Header().Get(BackendHeader))
}

func TestCompletions_Validation(t *testing.T) {
	s := newTestServer(t, nil)
	tests := map[string]struct {
		body    string
		details []any
	}{
		"no messages":  {body: `{"messages": []}`, details: []any{"messages: min=1"}},
		"bad role":     {body: `{"messages": [{"role": "robot", "content": "x"}]}`, details: []any{"messages[0].role: oneof=system user assistant"}},
		"no content":   {body: `{"messages": [{"role": "user"}]}`, details: []any{"messages[0].content: required"}},
		"temperature":  {body: `{"messages": [{"role": "user", "content": "x"}], "temperature": 3}`, details: []any{"temperature: lte=2"}},
		"token budget": {body: `{"messages": [{"role": "user", "content": "x"}], "max_tokens": 9000}`, details: []any{"max_tokens: max=8192"}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/api/v1/ai/completions", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, tt.details, decode(t, w)["details"])
		})
	}

	w := do(t, s, http.MethodPost, "/api/v1/ai/completions", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompletions_BackendFailureStatus(t *testing.T) {
	tests := []struct {
		cause error
		want  int
	}{
		{cause: errors.Mark(errors.New("deepseek returned HTTP 500"), errors.ErrTransport), want: http.StatusBadGateway},
		{cause: errors.Mark(errors.New("no API key for deepseek"), errors.ErrCredentialMissing), want: http.StatusServiceUnavailable},
		{cause: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		inv := funcInvoker(func(context.Context, invoke.Request) (invoke.Completion, error) {
			return invoke.Completion{Outcome: invoke.Outcome{Kind: invoke.KindDegraded, Cause: tt.cause}}, tt.cause
		})
		s := newTestServer(t, inv)
		w := do(t, s, http.MethodPost, "/api/v1/ai/completions", `{"messages": [{"role": "user", "content": "x"}]}`)
		assert.Equal(t, tt.want, w.Code, tt.cause.Error())
		assert.True(t, strings.HasPrefix(w.Header().Get(OutcomeHeader), "degraded: "))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	do(t, s, http.MethodGet, "/health", "")

	w := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `carbonfill_http_requests_total{code="200",route="/health"} 1`)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ai/completions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	cfg := testConfig()
	cfg.AllowedOrigins = []string{"localhost:3000"}
	_, err := New(cfg, nil, nil)
	assert.Error(t, err)
}

func TestServe_GracefulShutdown(t *testing.T) {
	s := newTestServer(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool { return s.State() == ServerStateRunning }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Post("http://"+ln.Addr().String()+"/api/v1/ai/completions", "application/json",
		bytes.NewReader([]byte(`{"messages": [{"role": "user", "content": "x"}]}`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.Equal(t, ServerStateStopped, s.State())
}
